package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSupervisorConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supervisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadSupervisorConfig_AppliesDefaults(t *testing.T) {
	path := writeSupervisorConfig(t, `
workers:
  - id: worker-a
    storage: /var/lib/spindle/worker-a
`)

	cfg, err := LoadSupervisorConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Service.LogLevel)
	assert.Equal(t, "spindle-worker", cfg.Service.WorkerBin)
	require.Len(t, cfg.Workers, 1)
	assert.Equal(t, "127.0.0.1", cfg.Workers[0].Host)
}

func TestLoadSupervisorConfig_RequiresStoragePerWorker(t *testing.T) {
	path := writeSupervisorConfig(t, `
workers:
  - id: worker-a
`)

	_, err := LoadSupervisorConfig(path)
	assert.ErrorContains(t, err, "storage is required")
}

func TestLoadSupervisorConfig_RejectsMissingFile(t *testing.T) {
	_, err := LoadSupervisorConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSupervisorWorkerSpec_WorkerConfigTranslatesDynamicPort(t *testing.T) {
	spec := SupervisorWorkerSpec{
		ID:      "worker-a",
		Storage: "/tmp/worker-a",
		DynamicPort: DynamicPortSpec{
			Enabled:  true,
			Attempts: 5,
		},
	}
	wc := spec.WorkerConfig()
	assert.True(t, wc.DynamicPort.Enabled())
	assert.Equal(t, 5, wc.DynamicPort.Attempts())
}
