package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorkerScript writes a shell script that speaks just enough of the IPC
// protocol to exercise the supervisor: it reads one "start" line from stdin,
// replies "ready" immediately (or never, when immediateReady is false, to
// exercise the handshake timeout), then blocks reading further lines and
// exits cleanly once it sees "shutdown" or stdin closes. Grounded on the
// teacher's internal/e2e echo-plugin idiom of forking a shell script as the
// subprocess under test instead of a compiled binary.
func fakeWorkerScript(t *testing.T, immediateReady bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "worker.sh")

	body := "#!/bin/sh\nread startline\n"
	if immediateReady {
		body += `echo '{"type":"ready","url":"http://127.0.0.1:9001","port":9001}'` + "\n"
	}
	body += "while read line; do\n  case \"$line\" in\n    *shutdown*) exit 0 ;;\n  esac\ndone\nexit 0\n"

	require.NoError(t, os.WriteFile(path, []byte(body), 0755))
	return path
}

func TestFork_WaitsForReadyHandshake(t *testing.T) {
	script := fakeWorkerScript(t, true)
	s := New(nil, script)

	handle, err := s.Fork(context.Background(), script, WorkerConfig{ID: "w1", Storage: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9001", handle.URL())
	assert.Equal(t, 9001, handle.Port())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, handle.Close(ctx))
}

func TestCreateWorker_RequiresStorage(t *testing.T) {
	s := New(nil, "/bin/true")
	_, err := s.CreateWorker(context.Background(), WorkerConfig{ID: "w1"})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestRestart_PreservesScriptPathAndConfig(t *testing.T) {
	script := fakeWorkerScript(t, true)
	s := New(nil, script)

	cfg := WorkerConfig{ID: "w1", Storage: t.TempDir(), URLPrefix: "api"}
	handle, err := s.Fork(context.Background(), script, cfg, nil)
	require.NoError(t, err)

	originalPID := handle.rec.cmd.Process.Pid

	require.NoError(t, s.Restart(context.Background(), "w1", map[string]string{}))

	restarted, ok := s.GetWorker("w1")
	require.True(t, ok)
	assert.Equal(t, script, restarted.ScriptPath())
	assert.Equal(t, cfg, restarted.Config())
	assert.NotEqual(t, originalPID, restarted.rec.cmd.Process.Pid)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, restarted.Close(ctx))
}

func TestRestart_RejectsConcurrentRestart(t *testing.T) {
	script := fakeWorkerScript(t, true)
	s := New(nil, script)

	cfg := WorkerConfig{ID: "w1", Storage: t.TempDir()}
	_, err := s.Fork(context.Background(), script, cfg, nil)
	require.NoError(t, err)

	s.mu.Lock()
	s.restarting["w1"] = struct{}{}
	s.mu.Unlock()

	err = s.Restart(context.Background(), "w1", nil)
	assert.ErrorIs(t, err, ErrRestartInProgress)

	s.mu.Lock()
	delete(s.restarting, "w1")
	rec := s.processes["w1"]
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.shutdown(ctx))
}

func TestFork_TimesOutWhenChildNeverReports(t *testing.T) {
	script := fakeWorkerScript(t, false)
	s := New(nil, script)

	origTimeout := readyTimeout
	readyTimeout = 50 * time.Millisecond
	defer func() { readyTimeout = origTimeout }()

	_, err := s.Fork(context.Background(), script, WorkerConfig{ID: "w1", Storage: t.TempDir()}, nil)
	assert.ErrorIs(t, err, ErrReadyTimeout)
}

func TestTerminateAll_ShutsDownEveryWorker(t *testing.T) {
	script := fakeWorkerScript(t, true)
	s := New(nil, script)

	_, err := s.Fork(context.Background(), script, WorkerConfig{ID: "w1", Storage: t.TempDir()}, nil)
	require.NoError(t, err)
	_, err = s.Fork(context.Background(), script, WorkerConfig{ID: "w2", Storage: t.TempDir()}, nil)
	require.NoError(t, err)

	require.NoError(t, s.TerminateAll(context.Background()))
	assert.Empty(t, s.ListWorkers())
}
