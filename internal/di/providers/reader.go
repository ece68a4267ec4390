package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-reader/internal/clock"
	"github.com/listenupapp/listenup-reader/internal/config"
	"github.com/listenupapp/listenup-reader/internal/document"
	"github.com/listenupapp/listenup-reader/internal/logger"
	"github.com/listenupapp/listenup-reader/internal/service"
	"github.com/listenupapp/listenup-reader/internal/watcher"
)

// ProvideDocumentSource provides the PDF document source.
func ProvideDocumentSource(i do.Injector) (*document.PDFSource, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return document.NewPDFSource(document.PDFOptions{
		FetchTimeout: cfg.Document.FetchTimeout,
		MaxBytes:     cfg.Document.MaxBytes,
		CacheTTL:     cfg.Document.CacheTTL,
		DPI:          cfg.Document.RenderDPI,
		Access:       documentAccess(cfg),
	}, log.Logger), nil
}

func documentAccess(cfg *config.Config) document.Access {
	return document.Access{
		LocalRoot:         cfg.Document.LocalRoot,
		AllowPrivateHosts: cfg.Document.AllowPrivateHosts,
	}
}

// ReaderServiceHandle wraps the reader service so shutdown flushes every
// reader's pending progress before the store closes.
type ReaderServiceHandle struct {
	*service.ReaderService
}

// Shutdown implements do.Shutdownable.
func (h *ReaderServiceHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.CloseAll(ctx)
}

// ProvideReaderService provides the reader service.
func ProvideReaderService(i do.Injector) (*ReaderServiceHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	sseHandle := do.MustInvoke[*SSEManagerHandle](i)
	source := do.MustInvoke[*document.PDFSource](i)

	svc := service.NewReaderService(cfg.Reader, source, storeHandle.Store, sseHandle.Manager, clock.New(), log.Logger)
	svc.SetDocumentAccess(documentAccess(cfg))

	log.Info("Reader service ready",
		"max_readers", cfg.Reader.MaxReaders,
		"commit_debounce", cfg.Reader.CommitDebounce,
		"local_root", cfg.Document.LocalRoot,
	)

	return &ReaderServiceHandle{ReaderService: svc}, nil
}

// FileWatcherHandle wraps the file watcher with shutdown capability.
type FileWatcherHandle struct {
	*watcher.Watcher
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *FileWatcherHandle) Shutdown() error {
	if h.Watcher == nil {
		return nil
	}
	h.cancel()
	return h.Watcher.Stop()
}

// ProvideFileWatcher watches local documents of open readers and reloads
// them on change. Disabled by configuration it returns an empty handle.
func ProvideFileWatcher(i do.Injector) (*FileWatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	readers := do.MustInvoke[*ReaderServiceHandle](i)

	if !cfg.Document.WatchLocalFiles {
		log.Info("Local document watching disabled by configuration")
		return &FileWatcherHandle{}, nil
	}

	w, err := watcher.New(log.Logger, watcher.Options{})
	if err != nil {
		return nil, err
	}
	readers.SetFileWatcher(w)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("File watcher stopped", "error", err)
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				log.Warn("File watcher error", "error", err)
			}
		}
	}()
	go readers.FollowFileEvents(ctx, w.Events())

	log.Info("File watcher started")

	return &FileWatcherHandle{Watcher: w, cancel: cancel}, nil
}
