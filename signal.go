// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// interruptSignals are the OS signals that initiate a clean shutdown of the
// process.  SIGTERM and SIGHUP are no-ops on platforms that can not deliver
// them.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM,
	syscall.SIGHUP}

// shutdownRequestChannel allows subsystems to initiate a clean shutdown
// through the same path an OS signal takes.  Closing is not required; a
// single send is enough.
var shutdownRequestChannel = make(chan struct{})

// shutdownListener returns a context that is canceled on the first interrupt
// signal or internal shutdown request.  A goroutine keeps draining further
// signals for the life of the process and logs them, so an impatient second
// Ctrl+C tells the user the shutdown is underway rather than killing the
// process mid-flush.
func shutdownListener() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, interruptSignals...)

	go func() {
		// The first signal or request cancels the context, every later
		// one only produces a log message.
		shuttingDown := false
		for {
			select {
			case sig := <-sigChan:
				if shuttingDown {
					smtdLog.Infof("Received signal (%s).  Already shutting "+
						"down...", sig)
					continue
				}
				smtdLog.Infof("Received signal (%s).  Shutting down...", sig)

			case <-shutdownRequestChannel:
				if shuttingDown {
					smtdLog.Info("Shutdown requested.  Already shutting " +
						"down...")
					continue
				}
				smtdLog.Info("Shutdown requested.  Shutting down...")
			}

			if !shuttingDown {
				shuttingDown = true
				cancel()
			}
		}
	}()

	return ctx
}

// shutdownRequested returns whether the context returned by shutdownListener
// has already been canceled, for callers that want to poll instead of
// select.
func shutdownRequested(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
