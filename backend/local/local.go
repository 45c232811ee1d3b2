// Package local provides the in-process reference backend: a goroutine pool
// bounded by a weighted semaphore. It is the default execution plan and the
// contract model for out-of-process backends.
package local

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/scatter/backend"
	"github.com/seantiz/scatter/closure"
)

// Backend evaluates closures on pooled goroutines. Captured resource-bundle
// identifiers are carried through untouched: for an in-process backend the
// caller's ambient context is already present.
type Backend struct {
	workers int
	sem     *semaphore.Weighted
}

// Compile-time interface satisfaction check.
var _ backend.Backend = (*Backend)(nil)

// New creates a local backend evaluating at most workers items at once.
// workers must be positive.
func New(workers int) *Backend {
	if workers <= 0 {
		panic("local: workers must be positive")
	}
	return &Backend{
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
	}
}

// Capabilities reports the pool size as the backend's concurrency limit.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:           "local",
		MaxConcurrency: b.workers,
	}
}

// Submit starts evaluating the invocation on a pooled goroutine and returns
// its handle. Submission itself only waits for a pool slot; the returned
// handle resolves when evaluation finishes.
func (b *Backend) Submit(ctx context.Context, inv backend.Invocation) (backend.Handle, error) {
	if inv.Closure == nil || inv.Closure.Fn == nil {
		return nil, fmt.Errorf("local: invocation %d has no evaluable closure", inv.Index)
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("local: acquire worker: %w", err)
	}

	evalCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	vars := inv.Vars()
	go func() {
		defer b.sem.Release(1)
		defer close(h.done)
		h.value, h.err = eval(evalCtx, inv.Closure.Fn, vars)
	}()

	return h, nil
}

// eval runs the closure function, converting a panic into an item failure so
// one bad item cannot take down the pool.
func eval(ctx context.Context, fn closure.EvalFunc, vars closure.Bindings) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("local: closure panic: %v", r)
		}
	}()
	return fn(ctx, vars)
}

type handle struct {
	done   chan struct{}
	cancel context.CancelFunc
	value  any
	err    error
}

// Poll reports whether evaluation has finished.
func (h *handle) Poll() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Await blocks until the item resolves or ctx ends.
func (h *handle) Await(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel signals the evaluation context. Closures that honor their context
// stop early; ones that do not run to completion, and their result is
// discarded by the caller.
func (h *handle) Cancel() {
	h.cancel()
}
