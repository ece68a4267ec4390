package document

import (
	"context"
	"fmt"
	"image"
	"sync"
)

type drawFunc func(ctx context.Context) (*image.RGBA, error)

// task runs a drawFunc on its own goroutine and presents the result unless cancelled.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	err       error
}

func startTask(surface Surface, draw drawFunc) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()

		img, err := t.run(ctx, draw)

		t.mu.Lock()
		defer t.mu.Unlock()
		switch {
		case t.cancelled:
			t.err = ErrRenderCancelled
		case err != nil:
			t.err = err
		default:
			t.err = surface.Present(img)
		}
	}()

	return t
}

func (t *task) run(ctx context.Context, draw drawFunc) (img *image.RGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("draw panicked: %v", r)
		}
	}()
	return draw(ctx)
}

// Wait implements RenderTask.
func (t *task) Wait() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel implements RenderTask. It serializes with Present so a cancelled
// task never writes to its surface.
func (t *task) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.cancel()
}
