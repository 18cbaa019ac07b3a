// Package workerproc is the entrypoint run inside a freshly forked worker
// subprocess: it performs the IPC start/ready/shutdown handshake with its
// supervisor, boots the Plugin Loader, and serves the command-dispatch HTTP
// endpoint. Grounded on the teacher's internal/api/server.go chi-router
// idiom (middleware stack, graceful http.Server.Shutdown), generalized from
// a standalone API server to a subprocess bootstrapped over stdio instead of
// flags.
package workerproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/spindle/internal/cleanup"
	"github.com/mattjoyce/spindle/internal/delayed"
	"github.com/mattjoyce/spindle/internal/dispatch"
	"github.com/mattjoyce/spindle/internal/ipc"
	"github.com/mattjoyce/spindle/internal/log"
	"github.com/mattjoyce/spindle/internal/plugin"
	"github.com/mattjoyce/spindle/internal/supervisor"
	"github.com/mattjoyce/spindle/internal/webhookclient"
)

const (
	dynamicPortLow       = 9000
	dynamicPortHigh      = 65535
	maxDynamicAttempts   = 50
	shutdownTimeout      = 5 * time.Second
	defaultWebhookExpiry = 300000 * time.Millisecond
)

// Dispatcher is the subset of *plugin.Loader the HTTP handlers depend on.
type Dispatcher interface {
	ExecuteCommand(ctx context.Context, cmd dispatch.Command) (dispatch.Result, error)
	PublicMethods(name string) ([]string, bool)
	IsInitialized() bool
}

// Runtime is one worker subprocess's lifetime: IPC handshake, plugin
// initialization, HTTP serving, and graceful shutdown.
type Runtime struct {
	dec *ipc.Decoder
	enc *ipc.Encoder

	logger       *slog.Logger
	shuttingDown atomic.Bool

	loader     Dispatcher
	httpServer *http.Server
	cfg        supervisor.WorkerConfig
}

// New wires a Runtime to read IPC messages from r and write them to w
// (os.Stdin/os.Stdout in production, pipes in tests).
func New(r io.Reader, w io.Writer) *Runtime {
	return &Runtime{
		dec:    ipc.NewDecoder(r),
		enc:    ipc.NewEncoder(w),
		logger: log.WithComponent("workerproc"),
	}
}

// delayedDepsFromEnv builds the Delayed-Response Engine's collaborators from
// the environment keys a supervisor-launched worker inherits: the internal
// and external webhook URLs, the serverless identity attached to outbound
// webhook deliveries, and the expiry timeout in milliseconds. Registry and
// Client are shared process-wide so every plugin instance delivers against
// the same cleanup bookkeeping and HTTP client.
func delayedDepsFromEnv() delayed.Deps {
	cfg := delayed.Config{
		InternalWebhookURL: os.Getenv("INTERNAL_WEBHOOK_URL"),
		ExternalWebhookURL: os.Getenv("EXTERNAL_WEBHOOK_URL"),
		ServerlessID:       os.Getenv("SERVERLESS_ID"),
		ExpiryTimeout:      defaultWebhookExpiry,
	}
	if raw := os.Getenv("WEBHOOK_EXPIRY_TIME"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			cfg.ExpiryTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	return delayed.Deps{
		Config:   cfg,
		Registry: cleanup.Default(),
		Client:   webhookclient.New(),
	}
}

// Run blocks for the worker's entire lifetime: wait for start, init plugins,
// serve HTTP, and exit on shutdown message or SIGTERM/SIGINT. A panic in
// Run's own goroutine is recovered and forwarded to the supervisor as an IPC
// error message before Run returns it as an error. A panic inside an HTTP
// handler does not reach Run: the router's Recoverer middleware recovers it
// and answers that request with a 500.
func (rt *Runtime) Run(ctx context.Context) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	defer func() {
		if p := recover(); p != nil {
			perr := fmt.Errorf("workerproc: panic: %v", p)
			_ = rt.enc.Encode(ipc.Message{Type: ipc.ErrorMsg, Error: perr.Error()})
			err = perr
		}
	}()

	startMsg, derr := rt.dec.Decode()
	if derr != nil {
		return fmt.Errorf("workerproc: waiting for start message: %w", derr)
	}
	if startMsg.Type != ipc.Start {
		rt.fatal(fmt.Errorf("workerproc: expected start message, got %q", startMsg.Type))
		return fmt.Errorf("workerproc: expected start message, got %q", startMsg.Type)
	}

	var cfg supervisor.WorkerConfig
	if err := json.Unmarshal(startMsg.Config, &cfg); err != nil {
		rt.fatal(fmt.Errorf("workerproc: decode start config: %w", err))
		return err
	}
	rt.cfg = cfg
	rt.logger = log.WithWorker(cfg.ID)

	loader := plugin.NewLoader(cfg.Storage, nil, delayedDepsFromEnv())
	if err := loader.Init(ctx); err != nil {
		rt.fatal(fmt.Errorf("workerproc: plugin init: %w", err))
		return err
	}
	rt.loader = loader

	listener, boundPort, err := bindListener(cfg)
	if err != nil {
		rt.fatal(fmt.Errorf("workerproc: bind listener: %w", err))
		return err
	}

	rt.httpServer = &http.Server{Handler: rt.routes()}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := rt.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()

	url := fmt.Sprintf("http://%s:%d", cfg.Host, boundPort)
	if err := rt.enc.Encode(ipc.Message{Type: ipc.Ready, URL: url, Port: boundPort}); err != nil {
		return fmt.Errorf("workerproc: send ready message: %w", err)
	}
	rt.logger.Info("worker listening", "url", url, "port", boundPort)

	shutdownCh := make(chan struct{})
	go rt.watchIPCShutdown(shutdownCh)

	select {
	case <-ctx.Done():
	case <-shutdownCh:
	case err := <-serveErrCh:
		rt.fatal(fmt.Errorf("workerproc: http server error: %w", err))
		return err
	}

	return rt.shutdown()
}

// watchIPCShutdown reads subsequent IPC messages and signals shutdownCh on a
// {type:"shutdown"} message or EOF (parent exited/closed stdin).
func (rt *Runtime) watchIPCShutdown(shutdownCh chan<- struct{}) {
	for {
		msg, err := rt.dec.Decode()
		if err != nil {
			close(shutdownCh)
			return
		}
		if msg.Type == ipc.Shutdown {
			close(shutdownCh)
			return
		}
	}
}

func (rt *Runtime) shutdown() error {
	rt.shuttingDown.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if rt.httpServer != nil {
		if err := rt.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("workerproc: http server shutdown: %w", err)
		}
	}
	return nil
}

func (rt *Runtime) fatal(err error) {
	_ = rt.enc.Encode(ipc.Message{Type: ipc.ErrorMsg, Error: err.Error()})
}

// bindListener binds cfg.Host:cfg.Port, falling back to a random ephemeral
// port in [9000, 65535) on address-in-use when cfg.DynamicPort is enabled.
func bindListener(cfg supervisor.WorkerConfig) (net.Listener, int, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, portOf(ln), nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) || !cfg.DynamicPort.Enabled() {
		return nil, 0, err
	}

	remaining := cfg.DynamicPort.Attempts()
	bounded := remaining > 0
	for attempt := 0; attempt < maxDynamicAttempts; attempt++ {
		if bounded && remaining <= 0 {
			return nil, 0, fmt.Errorf("workerproc: exhausted dynamic port attempts: %w", err)
		}
		candidate := dynamicPortLow + rand.Intn(dynamicPortHigh-dynamicPortLow)
		ln, lerr := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, candidate))
		if lerr == nil {
			return ln, portOf(ln), nil
		}
		if !errors.Is(lerr, syscall.EADDRINUSE) {
			return nil, 0, lerr
		}
		if bounded {
			remaining--
		}
	}
	return nil, 0, fmt.Errorf("workerproc: exhausted dynamic port attempts: %w", err)
}

func portOf(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

// routes builds the chi router: request-rejection while shutting down,
// permissive CORS, and the three executeCommand/ready/getPublicMethods
// endpoints.
func (rt *Runtime) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(rt.loggingMiddleware)
	r.Use(rt.rejectWhileShuttingDown)
	r.Use(corsMiddleware)

	prefix := rt.cfg.URLPrefix
	r.Method(http.MethodPut, prefix+"/executeCommand", http.HandlerFunc(rt.handleExecuteCommand))
	r.Get(prefix+"/ready", rt.handleReady)
	r.Get(prefix+"/getPublicMethods/{pluginName}", rt.handleGetPublicMethods)

	return r
}

func (rt *Runtime) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (rt *Runtime) rejectWhileShuttingDown(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const corsAllowedHeaders = "Content-Type, Content-Length, X-Content-Length, Access-Control-Allow-Origin, User-Agent, Authorization"

// corsMiddleware mirrors the request's Origin, falling back to Host and then
// "*", as specified: GET/PUT/OPTIONS, credentials allowed, a fixed header
// allow-list.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = r.Host
		}
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
