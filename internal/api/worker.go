package api

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy signals that a background run is already in progress.
var ErrBusy = errors.New("another run is already in progress")

// Worker admits at most one background run at a time. Conversion and batch
// work share the single slot.
type Worker struct {
	mu     sync.Mutex
	state  string // "" when idle
	runID  string
	cancel context.CancelFunc
}

func NewWorker() *Worker {
	return &Worker{}
}

// Start claims the slot and runs fn on its own goroutine. The slot is
// released when fn returns. Returns ErrBusy if a run is active.
func (w *Worker) Start(state, runID string, fn func(ctx context.Context)) error {
	w.mu.Lock()
	if w.state != "" {
		w.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.state = state
	w.runID = runID
	w.cancel = cancel
	w.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			w.mu.Lock()
			w.state = ""
			w.runID = ""
			w.cancel = nil
			w.mu.Unlock()
		}()
		fn(ctx)
	}()
	return nil
}

// Cancel aborts the active run, if any, and reports whether one was active.
func (w *Worker) Cancel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return false
	}
	w.cancel()
	return true
}

// Status reports the active run's state and id, or ("", "") when idle.
func (w *Worker) Status() (state, runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.runID
}
