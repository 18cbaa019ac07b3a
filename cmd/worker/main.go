// Command spindle-worker is the subprocess a supervisor forks to run one
// serverless worker: it speaks the start/ready/shutdown IPC handshake over
// stdin/stdout and serves command dispatch over HTTP until told to stop.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mattjoyce/spindle/internal/log"
	"github.com/mattjoyce/spindle/internal/workerproc"
)

func main() {
	os.Exit(run())
}

func run() int {
	// stdout carries the IPC channel to the supervisor, so the logger is set
	// up against stderr, which the supervisor forwards to its own logger.
	ipcOut := os.Stdout
	os.Stdout = os.Stderr
	log.Setup("info")

	rt := workerproc.New(os.Stdin, ipcOut)
	if err := rt.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "spindle-worker: %v\n", err)
		return 1
	}
	return 0
}
