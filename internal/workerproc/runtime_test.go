package workerproc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/spindle/internal/ipc"
	"github.com/mattjoyce/spindle/internal/supervisor"
)

// harness wires a Runtime to a pair of pipes standing in for the
// supervisor's view of the child's stdin/stdout, grounded on the teacher's
// e2e idiom of exchanging framed messages over in-memory pipes rather than
// a real subprocess.
type harness struct {
	enc *ipc.Encoder
	dec *ipc.Decoder
}

func startRuntime(t *testing.T, cfg supervisor.WorkerConfig) (*harness, func()) {
	t.Helper()
	childStdinR, childStdinW := io.Pipe()
	childStdoutR, childStdoutW := io.Pipe()

	rt := New(childStdinR, childStdoutW)

	ctx, cancel := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- rt.Run(ctx) }()

	h := &harness{
		enc: ipc.NewEncoder(childStdinW),
		dec: ipc.NewDecoder(childStdoutR),
	}

	cfgJSON, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, h.enc.Encode(ipc.Message{Type: ipc.Start, Config: cfgJSON}))

	cleanup := func() {
		cancel()
		_ = childStdinW.Close()
		_ = childStdoutR.Close()
	}
	return h, cleanup
}

func TestRun_SendsReadyAfterListening(t *testing.T) {
	cfg := supervisor.WorkerConfig{ID: "w1", Host: "127.0.0.1", Port: 0, Storage: t.TempDir()}
	h, cleanup := startRuntime(t, cfg)
	defer cleanup()

	msg, err := h.dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, ipc.Ready, msg.Type)
	assert.NotZero(t, msg.Port)
	assert.Contains(t, msg.URL, "127.0.0.1")
}

func TestRun_ReadyEndpointReportsInitialized(t *testing.T) {
	cfg := supervisor.WorkerConfig{ID: "w1", Host: "127.0.0.1", Port: 0, Storage: t.TempDir()}
	h, cleanup := startRuntime(t, cfg)
	defer cleanup()

	msg, err := h.dec.Decode()
	require.NoError(t, err)

	resp, err := http.Get(msg.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ready", body["status"])
}

func TestRun_ExecuteCommandUnknownPluginReturns500(t *testing.T) {
	cfg := supervisor.WorkerConfig{ID: "w1", Host: "127.0.0.1", Port: 0, Storage: t.TempDir()}
	h, cleanup := startRuntime(t, cfg)
	defer cleanup()

	msg, err := h.dec.Decode()
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"forWhom": "tester", "name": "doThing", "pluginName": "nope", "args": []any{},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, msg.URL+"/executeCommand", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRun_ExecuteCommandInvalidBodyReturns400(t *testing.T) {
	cfg := supervisor.WorkerConfig{ID: "w1", Host: "127.0.0.1", Port: 0, Storage: t.TempDir()}
	h, cleanup := startRuntime(t, cfg)
	defer cleanup()

	msg, err := h.dec.Decode()
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPut, msg.URL+"/executeCommand", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(http.StatusBadRequest), body["statusCode"])
	assert.Equal(t, "Invalid body", body["result"])
}

func TestRun_ShutdownMessageStopsServer(t *testing.T) {
	cfg := supervisor.WorkerConfig{ID: "w1", Host: "127.0.0.1", Port: 0, Storage: t.TempDir()}
	h, cleanup := startRuntime(t, cfg)
	defer cleanup()

	msg, err := h.dec.Decode()
	require.NoError(t, err)

	require.NoError(t, h.enc.Encode(ipc.Message{Type: ipc.Shutdown}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := http.Get(msg.URL + "/ready")
		if err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server still accepting connections after shutdown")
}

