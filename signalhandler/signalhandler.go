package signalhandler

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
)

var stopRequested atomic.Bool

// SetupHandler configures signal handling for safer interaction with C libraries.
// The first SIGINT/SIGTERM requests a graceful stop so the run in flight can
// finish and be recorded; a second signal exits immediately.
func SetupHandler() {
	// Create a channel to receive OS signals
	sigChan := make(chan os.Signal, 1)

	// Register for specific signals
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Handle signals in a separate goroutine
	go func() {
		<-sigChan
		stopRequested.Store(true)
		fmt.Println("\nStop requested, finishing current run (press Ctrl+C again to force quit)")

		<-sigChan
		os.Exit(1)
	}()
}

// StopRequested reports whether a shutdown signal has been received
func StopRequested() bool {
	return stopRequested.Load()
}

// GetOptimalProcs returns the optimal number of worker goroutines for the system
func GetOptimalProcs() int {
	// Get the number of CPUs available
	numCPU := runtime.NumCPU()

	// For image processing with CGo, using too many goroutines can cause issues
	maxProcs := (numCPU * 3) / 4
	if maxProcs < 1 {
		maxProcs = 1
	}

	return maxProcs
}
