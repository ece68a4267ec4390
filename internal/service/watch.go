package service

import (
	"context"

	"github.com/listenupapp/listenup-reader/internal/watcher"
)

// FollowFileEvents reloads readers as their local files change. It returns
// when ctx is done or events is closed.
func (s *ReaderService) FollowFileEvents(ctx context.Context, events <-chan watcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			switch event.Type {
			case watcher.EventModified:
				s.ReloadPath(ctx, event.Path)
			case watcher.EventRemoved:
				// Keep showing the loaded pages; a later rewrite reloads.
				s.logger.Warn("document file removed", "path", event.Path)
			}
		}
	}
}
