package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/seantiz/scatter/backend"
	"github.com/seantiz/scatter/capture"
	"github.com/seantiz/scatter/closure"
	"github.com/seantiz/scatter/store"
)

// ErrNoBackend is returned by Run when Options carries no backend.
var ErrNoBackend = errors.New("engine: no backend configured")

// Engine dispatches work items to a backend and collates their results in
// input order. The store and logger are shared across runs; each Run call is
// otherwise self-contained and holds no state beyond its own invocation.
type Engine struct {
	store  store.Store
	logger *slog.Logger
	broker *Broker
}

// New creates an engine. s may be nil to skip run recording.
func New(s store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		logger: logger,
		broker: NewBroker(),
	}
}

// Broker returns the engine's run event broker for subscription.
func (e *Engine) Broker() *Broker {
	return e.broker
}

// completion is what a handle watcher reports back to the dispatch loop.
type completion struct {
	index    int
	value    any
	err      error
	duration time.Duration
}

// Slot states.
const (
	slotPending = iota
	slotValue
	slotFailed
)

// slot holds one item's terminal state. Exactly one transition out of
// pending happens per slot.
type slot struct {
	state int
	value any
	fail  *ItemError
}

// Run evaluates the closure once per item and returns the reduced aggregate.
//
// The capture set is computed once, before any submission, and shared
// read-only by every item. Items are submitted strictly in input order,
// never more than the effective concurrency cap outstanding at a time;
// completions are drained in whatever order the backend produces them and
// written into slots addressed by item index, so the aggregate handed to the
// reducer is always in input order. A failed item never aborts collection of
// its siblings: escalation happens once, after every slot is terminal,
// according to Options.OnError.
func (e *Engine) Run(ctx context.Context, items []closure.Bindings, cl *closure.Closure, opts Options) (any, error) {
	if opts.Backend == nil {
		return nil, ErrNoBackend
	}
	if cl == nil {
		return nil, errors.New("engine: nil closure")
	}

	mode := opts.Mode
	if mode == "" {
		mode = capture.ModeExplicitAuto
	}

	n := len(items)
	caps := opts.Backend.Capabilities()
	limit := effectiveCap(opts, caps, n)

	runID := opts.RunID
	if runID == "" {
		runID = store.NewID()
	}
	start := time.Now().UTC()
	defer e.broker.Close(runID)

	e.recordRunStart(&store.Run{
		ID:          runID,
		Status:      store.RunStatusRunning,
		Backend:     caps.Name,
		Mode:        string(mode),
		Concurrency: limit,
		Items:       n,
		CreatedAt:   start,
	})

	// Capture resolution happens before any dispatch so an impossible
	// capture set fails the whole run with zero partial submissions.
	set, err := capture.Discover(cl, opts.Scope, capture.Options{
		Mode:     mode,
		Exports:  opts.Exports,
		Packages: opts.Packages,
		Builtins: opts.Builtins,
		Lenient:  opts.Lenient,
		Logger:   e.logger,
	})
	if err != nil {
		e.finishRun(runID, store.RunStatusFailed, 0, 0, err.Error(), start)
		runsTotal.WithLabelValues(store.RunStatusFailed).Inc()
		return nil, fmt.Errorf("engine: discovery: %w", err)
	}

	slots := e.dispatch(ctx, runID, items, cl, set, opts.Backend, limit)

	values, failures := collate(slots)
	status := store.RunStatusCompleted
	var runErr string
	if len(failures) > 0 && opts.OnError == RaiseFirst {
		status = store.RunStatusFailed
		runErr = failures[0].Error()
	}
	e.finishRun(runID, status, n-len(failures), len(failures), runErr, start)
	runsTotal.WithLabelValues(status).Inc()

	if len(failures) > 0 && opts.OnError == RaiseFirst {
		return nil, &MultiItemError{Failures: failures}
	}

	if opts.Reduce == nil {
		return values, nil
	}
	reduced, err := opts.Reduce(values)
	if err != nil {
		return nil, fmt.Errorf("engine: reduce: %w", err)
	}
	return reduced, nil
}

// dispatch is the submission/collection loop. It keeps the backend saturated
// up to limit outstanding handles and returns once every slot is terminal.
func (e *Engine) dispatch(ctx context.Context, runID string, items []closure.Bindings, cl *closure.Closure, set *capture.Set, b backend.Backend, limit int) []slot {
	n := len(items)
	slots := make([]slot, n)
	done := make(chan completion)

	next := 0
	outstanding := 0
	resolved := 0

	for resolved < n {
		// Top up to the cap. Submission order is input order, always.
		for next < n && outstanding < limit {
			idx := next
			next++

			h, err := b.Submit(ctx, backend.Invocation{
				RunID:    runID,
				Index:    idx,
				Closure:  cl,
				Captures: set,
				Bindings: items[idx],
			})
			if err != nil {
				fail := &ItemError{Index: idx, Stage: StageSubmit, Err: err}
				slots[idx] = slot{state: slotFailed, fail: fail}
				resolved++
				e.observeItem(runID, idx, store.ItemStatusFailed, fail.Error(), 0)
				continue
			}

			outstanding++
			outstandingItems.Inc()
			e.observeItem(runID, idx, store.ItemStatusSubmitted, "", 0)

			submitted := time.Now()
			go func(idx int, h backend.Handle) {
				v, err := h.Await(ctx)
				done <- completion{
					index:    idx,
					value:    v,
					err:      err,
					duration: time.Since(submitted),
				}
			}(idx, h)
		}

		if outstanding == 0 {
			// Every remaining item failed at submission.
			continue
		}

		// The engine's sole blocking point: wait for any completion, then
		// loop back to resubmit.
		c := <-done
		outstanding--
		resolved++
		outstandingItems.Dec()
		itemDuration.Observe(c.duration.Seconds())

		if c.err != nil {
			fail := &ItemError{Index: c.index, Stage: StageEval, Err: c.err}
			slots[c.index] = slot{state: slotFailed, fail: fail}
			e.observeItem(runID, c.index, store.ItemStatusFailed, c.err.Error(), c.duration)
		} else {
			slots[c.index] = slot{state: slotValue, value: c.value}
			e.observeItem(runID, c.index, store.ItemStatusCompleted, "", c.duration)
		}
	}

	return slots
}

// collate turns terminal slots into the ordered value sequence plus the
// ascending list of failures. Failed slots hold their ItemError as the
// marker value, which ContinueOnError exposes to the reducer.
func collate(slots []slot) ([]any, []*ItemError) {
	values := make([]any, len(slots))
	var failures []*ItemError
	for i, s := range slots {
		switch s.state {
		case slotValue:
			values[i] = s.value
		case slotFailed:
			values[i] = s.fail
			failures = append(failures, s.fail)
		}
	}
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].Index < failures[j].Index
	})
	return values, failures
}

// recordRunStart persists the run record and its pending items.
func (e *Engine) recordRunStart(r *store.Run) {
	if e.store == nil {
		return
	}
	ctx := context.Background()
	if err := e.store.CreateRun(ctx, r); err != nil {
		e.logger.Error("record run", "run_id", r.ID, "error", err)
		return
	}
	if err := e.store.CreateItems(ctx, r.ID, r.Items); err != nil {
		e.logger.Error("record run items", "run_id", r.ID, "error", err)
	}
}

// finishRun persists the run's terminal state.
func (e *Engine) finishRun(runID, status string, succeeded, failed int, errMsg string, start time.Time) {
	if e.store == nil {
		return
	}
	now := time.Now().UTC()
	durationMS := int(now.Sub(start).Milliseconds())
	err := e.store.UpdateRun(context.Background(), &store.Run{
		ID:         runID,
		Status:     status,
		Succeeded:  succeeded,
		Failed:     failed,
		Error:      errMsg,
		DurationMS: &durationMS,
		FinishedAt: &now,
	})
	if err != nil {
		e.logger.Error("finish run", "run_id", runID, "error", err)
	}
}

// observeItem publishes the item event, bumps metrics, and persists the item
// transition.
func (e *Engine) observeItem(runID string, idx int, status, errMsg string, d time.Duration) {
	kind := EventSubmitted
	switch status {
	case store.ItemStatusCompleted:
		kind = EventResolved
		itemsTotal.WithLabelValues(store.ItemStatusCompleted).Inc()
	case store.ItemStatusFailed:
		kind = EventFailed
		itemsTotal.WithLabelValues(store.ItemStatusFailed).Inc()
	}
	e.broker.Publish(runID, Event{Kind: kind, Index: idx, Error: errMsg})

	if e.store == nil {
		return
	}
	it := &store.Item{
		RunID:  runID,
		Index:  idx,
		Status: status,
		Error:  errMsg,
	}
	if status == store.ItemStatusCompleted || status == store.ItemStatusFailed {
		now := time.Now().UTC()
		durationMS := int(d.Milliseconds())
		it.DurationMS = &durationMS
		it.FinishedAt = &now
	}
	if err := e.store.UpdateItem(context.Background(), it); err != nil {
		e.logger.Error("record item", "run_id", runID, "index", idx, "error", err)
	}
}
