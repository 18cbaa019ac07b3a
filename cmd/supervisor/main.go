// Command spindle-supervisor forks, monitors, and tears down the worker
// subprocesses described by a SupervisorConfig YAML file, grounded on
// cmd/ductile's runStart noun/verb dispatch and service-bootstrap idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/spindle/internal/config"
	"github.com/mattjoyce/spindle/internal/lock"
	"github.com/mattjoyce/spindle/internal/log"
	"github.com/mattjoyce/spindle/internal/secrets"
	"github.com/mattjoyce/spindle/internal/supervisor"
)

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	fs := flag.NewFlagSet("spindle-supervisor", flag.ContinueOnError)
	configPath := fs.String("config", "supervisor.yaml", "path to the supervisor configuration file")
	workerBin := fs.String("worker-bin", "", "override the worker binary path from the config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.LoadSupervisorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "spindle-supervisor: load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("spindle-supervisor starting", "config", *configPath, "workers", len(cfg.Workers))

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer pidLock.Release()

	binPath := cfg.Service.WorkerBin
	if *workerBin != "" {
		binPath = *workerBin
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sv := supervisor.New(secrets.NewEnvFileResolver(), binPath)

	for _, w := range cfg.Workers {
		handle, err := sv.CreateWorker(ctx, w.WorkerConfig())
		if err != nil {
			logger.Error("failed to fork worker", "id", w.ID, "error", err)
			_ = sv.TerminateAll(ctx)
			return 1
		}
		logger.Info("worker forked", "id", handle.ID(), "url", handle.URL())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down workers", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := sv.TerminateAll(shutdownCtx); err != nil {
		logger.Error("error terminating workers", "error", err)
		return 1
	}

	logger.Info("spindle-supervisor stopped")
	return 0
}
