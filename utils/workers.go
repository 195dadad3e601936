package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// Workers is a group of background goroutines sharing one cancelable context.
type Workers struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  func()
	running sync.WaitGroup
}

// NewWorkers returns an empty group whose context is derived from parent.
func NewWorkers(parent context.Context) *Workers {
	ctx, cancel := context.WithCancel(parent)
	return &Workers{ctx: ctx, cancel: cancel}
}

// Go starts each function in its own goroutine. Nothing is started once the group is stopped,
// which is reported by returning false.
func (w *Workers) Go(funcs ...func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return false
	}
	w.running.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer w.running.Done()
			f(w.ctx)
		})
	}
	return true
}

// Stop cancels the group's context and waits for every goroutine to return.
func (w *Workers) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancel()
	w.running.Wait()
}

// Context is the context the workers run with.
func (w *Workers) Context() context.Context {
	return w.ctx
}
