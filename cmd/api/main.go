// Package main provides the entry point for the ListenUp reader server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/di"
	"github.com/listenupapp/listenup-reader/internal/logger"
)

func main() {
	injector := di.NewContainer()

	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap server: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down reader server gracefully...")

	// Dependents shut down first: the HTTP server, then readers flush their
	// pending progress, then the store closes.
	if report := injector.Shutdown(); report != nil && !report.Succeed {
		log.Error("Shutdown error", "error", report.Error())
	}

	log.Info("Reader server stopped")
}
