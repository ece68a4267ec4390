// Package di provides dependency injection configuration for the reader server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/di/providers"
	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/logger"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)

	// Events and persistence
	do.Provide(injector, providers.ProvideSSEManager)
	do.Provide(injector, providers.ProvideStore)

	// Documents and readers
	do.Provide(injector, providers.ProvideDocumentSource)
	do.Provide(injector, providers.ProvideReaderService)
	do.Provide(injector, providers.ProvideFileWatcher)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services. Services are lazily constructed, so
// this is where configuration and store errors surface.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.SSEManagerHandle](injector)
	if _, err := do.Invoke[*providers.StoreHandle](injector); err != nil {
		return err
	}
	_ = do.MustInvoke[*document.PDFSource](injector)
	_ = do.MustInvoke[*providers.ReaderServiceHandle](injector)
	if _, err := do.Invoke[*providers.FileWatcherHandle](injector); err != nil {
		return err
	}

	// Server
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}
