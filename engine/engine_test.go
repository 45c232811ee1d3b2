package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/scatter/backend"
	"github.com/seantiz/scatter/backend/local"
	"github.com/seantiz/scatter/capture"
	"github.com/seantiz/scatter/closure"
	"github.com/seantiz/scatter/engine"
	"github.com/seantiz/scatter/store"
)

// stubBackend is a configurable instrumented backend for engine tests. It
// records submission order and tracks how many handles are unresolved at
// once.
type stubBackend struct {
	max    int
	delay  func(idx int) time.Duration
	eval   func(idx int, vars closure.Bindings) (any, error)
	submit func(idx int) error // non-nil return fails the submission

	mu        sync.Mutex
	submitted []int
	active    int
	maxActive int
}

func (b *stubBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: "stub", MaxConcurrency: b.max}
}

func (b *stubBackend) Submit(ctx context.Context, inv backend.Invocation) (backend.Handle, error) {
	if b.submit != nil {
		if err := b.submit(inv.Index); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	b.submitted = append(b.submitted, inv.Index)
	b.active++
	if b.active > b.maxActive {
		b.maxActive = b.active
	}
	b.mu.Unlock()

	h := &stubHandle{done: make(chan struct{})}
	vars := inv.Vars()
	go func() {
		if b.delay != nil {
			time.Sleep(b.delay(inv.Index))
		}
		if b.eval != nil {
			h.value, h.err = b.eval(inv.Index, vars)
		} else {
			h.value, h.err = inv.Closure.Fn(ctx, vars)
		}
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

func (b *stubBackend) submissionOrder() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.submitted...)
}

func (b *stubBackend) peakOutstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxActive
}

type stubHandle struct {
	done  chan struct{}
	value any
	err   error
}

func (h *stubHandle) Poll() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *stubHandle) Await(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *stubHandle) Cancel() {}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return engine.New(nil, logger)
}

// addClosure reads the iteration variable x and the captured offset.
func addClosure() *closure.Closure {
	body := closure.Call{Fn: "add", Args: []closure.Expr{
		closure.Ref{Name: "x"},
		closure.Ref{Name: "offset"},
	}}
	return closure.New([]string{"x"}, body,
		func(_ context.Context, vars closure.Bindings) (any, error) {
			x, err := closure.Var(vars, "x")
			if err != nil {
				return nil, err
			}
			offset, err := closure.Var(vars, "offset")
			if err != nil {
				return nil, err
			}
			return x.(int) + offset.(int), nil
		})
}

func intItems(n int) []closure.Bindings {
	items := make([]closure.Bindings, n)
	for i := range items {
		items[i] = closure.Bindings{"x": i}
	}
	return items
}

func TestRunOrderPreservedUnderReversedCompletion(t *testing.T) {
	// Item 0 finishes last; the aggregate must still be in input order.
	b := &stubBackend{
		delay: func(idx int) time.Duration {
			return time.Duration(50-idx*10) * time.Millisecond
		},
	}
	eng := newTestEngine(t)

	got, err := eng.Run(context.Background(), intItems(5), addClosure(), engine.Options{
		Backend:     b,
		Scope:       closure.NewScope(closure.Frame{"offset": 100}),
		Concurrency: 5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []any{100, 101, 102, 103, 104}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("results = %v, want %v", got, want)
	}
}

func TestRunSubmissionOrderIsInputOrder(t *testing.T) {
	b := &stubBackend{delay: func(int) time.Duration { return time.Millisecond }}
	eng := newTestEngine(t)

	_, err := eng.Run(context.Background(), intItems(8), addClosure(), engine.Options{
		Backend:     b,
		Scope:       closure.NewScope(closure.Frame{"offset": 0}),
		Concurrency: 3,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if !reflect.DeepEqual(b.submissionOrder(), want) {
		t.Errorf("submission order = %v, want %v", b.submissionOrder(), want)
	}
}

func TestRunConcurrencyBound(t *testing.T) {
	b := &stubBackend{delay: func(int) time.Duration { return 10 * time.Millisecond }}
	eng := newTestEngine(t)

	_, err := eng.Run(context.Background(), intItems(10), addClosure(), engine.Options{
		Backend:     b,
		Scope:       closure.NewScope(closure.Frame{"offset": 0}),
		Concurrency: 3,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if peak := b.peakOutstanding(); peak > 3 {
		t.Errorf("peak outstanding = %d, want <= 3", peak)
	}
}

func TestRunBackendCapWins(t *testing.T) {
	// The backend reports a lower limit than the caller asked for.
	b := &stubBackend{max: 2, delay: func(int) time.Duration { return 10 * time.Millisecond }}
	eng := newTestEngine(t)

	_, err := eng.Run(context.Background(), intItems(8), addClosure(), engine.Options{
		Backend:     b,
		Scope:       closure.NewScope(closure.Frame{"offset": 0}),
		Concurrency: 6,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if peak := b.peakOutstanding(); peak > 2 {
		t.Errorf("peak outstanding = %d, want <= 2", peak)
	}
}

func TestRunSequentialCap(t *testing.T) {
	b := &stubBackend{delay: func(int) time.Duration { return time.Millisecond }}
	eng := newTestEngine(t)

	_, err := eng.Run(context.Background(), intItems(6), addClosure(), engine.Options{
		Backend:     b,
		Scope:       closure.NewScope(closure.Frame{"offset": 0}),
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if peak := b.peakOutstanding(); peak != 1 {
		t.Errorf("peak outstanding = %d, want exactly 1", peak)
	}
	if got := len(b.submissionOrder()); got != 6 {
		t.Errorf("submissions = %d, want 6", got)
	}
}

func TestRunRaiseFirstReportsLowestIndex(t *testing.T) {
	// 5 items, cap 2, items 0 and 2 fail.
	b := &stubBackend{
		eval: func(idx int, _ closure.Bindings) (any, error) {
			if idx == 0 || idx == 2 {
				return nil, fmt.Errorf("boom %d", idx)
			}
			return idx, nil
		},
	}
	eng := newTestEngine(t)

	_, err := eng.Run(context.Background(), intItems(5), addClosure(), engine.Options{
		Backend:     b,
		Scope:       closure.NewScope(closure.Frame{"offset": 0}),
		Concurrency: 2,
	})

	var multi *engine.MultiItemError
	if !errors.As(err, &multi) {
		t.Fatalf("err = %v, want MultiItemError", err)
	}
	if multi.First().Index != 0 {
		t.Errorf("first failure index = %d, want 0", multi.First().Index)
	}
	if !reflect.DeepEqual(multi.Indices(), []int{0, 2}) {
		t.Errorf("failing indices = %v, want [0 2]", multi.Indices())
	}
	if multi.First().Stage != engine.StageEval {
		t.Errorf("stage = %q, want eval", multi.First().Stage)
	}
	// All items still ran: partial failures never abort siblings.
	if got := len(b.submissionOrder()); got != 5 {
		t.Errorf("submissions = %d, want 5", got)
	}
}

func TestRunContinueOnErrorKeepsMarkers(t *testing.T) {
	b := &stubBackend{
		eval: func(idx int, _ closure.Bindings) (any, error) {
			if idx == 1 {
				return nil, errors.New("bad item")
			}
			return idx * 10, nil
		},
	}
	eng := newTestEngine(t)

	got, err := eng.Run(context.Background(), intItems(3), addClosure(), engine.Options{
		Backend: b,
		Scope:   closure.NewScope(closure.Frame{"offset": 0}),
		OnError: engine.ContinueOnError,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	results, ok := got.([]any)
	if !ok {
		t.Fatalf("result type = %T, want []any", got)
	}
	if results[0] != 0 || results[2] != 20 {
		t.Errorf("successful slots = %v, %v; want 0, 20", results[0], results[2])
	}

	marker, ok := results[1].(*engine.ItemError)
	if !ok {
		t.Fatalf("slot 1 = %T, want *ItemError marker", results[1])
	}
	if marker.Index != 1 {
		t.Errorf("marker index = %d, want 1", marker.Index)
	}
}

func TestRunSubmitFailureIsolated(t *testing.T) {
	b := &stubBackend{
		submit: func(idx int) error {
			if idx == 1 {
				return errors.New("no capacity")
			}
			return nil
		},
	}
	eng := newTestEngine(t)

	_, err := eng.Run(context.Background(), intItems(3), addClosure(), engine.Options{
		Backend: b,
		Scope:   closure.NewScope(closure.Frame{"offset": 100}),
	})

	var multi *engine.MultiItemError
	if !errors.As(err, &multi) {
		t.Fatalf("err = %v, want MultiItemError", err)
	}
	if len(multi.Failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(multi.Failures))
	}
	if f := multi.First(); f.Index != 1 || f.Stage != engine.StageSubmit {
		t.Errorf("failure = index %d stage %q, want index 1 stage submit", f.Index, f.Stage)
	}
	// Items 0 and 2 were still submitted.
	if !reflect.DeepEqual(b.submissionOrder(), []int{0, 2}) {
		t.Errorf("submission order = %v, want [0 2]", b.submissionOrder())
	}
}

func TestRunDiscoveryFailsBeforeAnySubmission(t *testing.T) {
	b := &stubBackend{}
	eng := newTestEngine(t)

	// offset is missing from the scope.
	_, err := eng.Run(context.Background(), intItems(3), addClosure(), engine.Options{
		Backend: b,
		Scope:   closure.NewScope(closure.Frame{}),
	})

	var de *capture.DiscoveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DiscoveryError", err)
	}
	if got := len(b.submissionOrder()); got != 0 {
		t.Errorf("submissions = %d, want 0 on discovery failure", got)
	}
}

func TestRunExplicitModeFailsAtEvaluation(t *testing.T) {
	// Explicit mode with no exports: offset exists in the scope but is not
	// captured, so every item fails with an unresolved-variable error.
	eng := newTestEngine(t)

	_, err := eng.Run(context.Background(), intItems(2), addClosure(), engine.Options{
		Backend: local.New(2),
		Scope:   closure.NewScope(closure.Frame{"offset": 100}),
		Mode:    capture.ModeExplicit,
	})

	var multi *engine.MultiItemError
	if !errors.As(err, &multi) {
		t.Fatalf("err = %v, want MultiItemError", err)
	}
	if len(multi.Failures) != 2 {
		t.Errorf("failures = %d, want 2", len(multi.Failures))
	}
	if !errors.Is(err, closure.ErrUnresolved) {
		t.Errorf("err chain should contain ErrUnresolved, got %v", err)
	}
}

func TestRunCustomReducer(t *testing.T) {
	eng := newTestEngine(t)

	got, err := eng.Run(context.Background(), intItems(4), addClosure(), engine.Options{
		Backend: local.New(4),
		Scope:   closure.NewScope(closure.Frame{"offset": 1}),
		Reduce: func(results []any) (any, error) {
			sum := 0
			for _, r := range results {
				sum += r.(int)
			}
			return sum, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != 10 { // (0+1)+(1+1)+(2+1)+(3+1)
		t.Errorf("reduced = %v, want 10", got)
	}
}

func TestRunReducerReceivesInputOrder(t *testing.T) {
	// Reversed completion order must not reach the reducer.
	b := &stubBackend{
		delay: func(idx int) time.Duration {
			return time.Duration(30-idx*10) * time.Millisecond
		},
	}
	eng := newTestEngine(t)

	var seen []any
	_, err := eng.Run(context.Background(), intItems(3), addClosure(), engine.Options{
		Backend:     b,
		Scope:       closure.NewScope(closure.Frame{"offset": 0}),
		Concurrency: 3,
		Reduce: func(results []any) (any, error) {
			seen = append([]any(nil), results...)
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !reflect.DeepEqual(seen, []any{0, 1, 2}) {
		t.Errorf("reducer input = %v, want [0 1 2]", seen)
	}
}

func TestRunEmptyItems(t *testing.T) {
	eng := newTestEngine(t)

	got, err := eng.Run(context.Background(), nil, addClosure(), engine.Options{
		Backend: local.New(1),
		Scope:   closure.NewScope(closure.Frame{"offset": 0}),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	results, ok := got.([]any)
	if !ok || len(results) != 0 {
		t.Errorf("result = %v (%T), want empty []any", got, got)
	}
}

func TestRunNoBackend(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.Run(context.Background(), intItems(1), addClosure(), engine.Options{})
	if !errors.Is(err, engine.ErrNoBackend) {
		t.Errorf("err = %v, want ErrNoBackend", err)
	}
}

func TestRunRecordsHistory(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.New(s, logger)

	_, err = eng.Run(context.Background(), intItems(3), addClosure(), engine.Options{
		Backend: local.New(2),
		Scope:   closure.NewScope(closure.Frame{"offset": 0}),
		RunID:   "run-history",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	run, err := s.GetRun(context.Background(), "run-history")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != store.RunStatusCompleted {
		t.Errorf("run status = %q, want completed", run.Status)
	}
	if run.Succeeded != 3 || run.Failed != 0 {
		t.Errorf("succeeded/failed = %d/%d, want 3/0", run.Succeeded, run.Failed)
	}

	items, err := s.ListItems(context.Background(), "run-history")
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	for i, it := range items {
		if it.Index != i {
			t.Errorf("items[%d].Index = %d, want %d", i, it.Index, i)
		}
		if it.Status != store.ItemStatusCompleted {
			t.Errorf("items[%d].Status = %q, want completed", i, it.Status)
		}
	}
}

func TestRunRecordsFailedRun(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.New(s, logger)

	b := &stubBackend{
		eval: func(idx int, _ closure.Bindings) (any, error) {
			return nil, errors.New("boom")
		},
	}
	_, runErr := eng.Run(context.Background(), intItems(2), addClosure(), engine.Options{
		Backend: b,
		Scope:   closure.NewScope(closure.Frame{"offset": 0}),
		RunID:   "run-failed",
	})
	if runErr == nil {
		t.Fatal("expected run error")
	}

	run, err := s.GetRun(context.Background(), "run-failed")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != store.RunStatusFailed {
		t.Errorf("run status = %q, want failed", run.Status)
	}
	if run.Failed != 2 {
		t.Errorf("failed count = %d, want 2", run.Failed)
	}
	if run.Error == "" {
		t.Error("expected run error message")
	}
}

func TestRunPublishesEvents(t *testing.T) {
	eng := newTestEngine(t)
	ch, unsub := eng.Broker().Subscribe("run-events")
	defer unsub()

	_, err := eng.Run(context.Background(), intItems(3), addClosure(), engine.Options{
		Backend:     local.New(1),
		Scope:       closure.NewScope(closure.Frame{"offset": 0}),
		Concurrency: 1,
		RunID:       "run-events",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var submitted []int
	resolved := 0
	for ev := range ch {
		switch ev.Kind {
		case engine.EventSubmitted:
			submitted = append(submitted, ev.Index)
		case engine.EventResolved:
			resolved++
		}
	}

	if !reflect.DeepEqual(submitted, []int{0, 1, 2}) {
		t.Errorf("submitted events = %v, want [0 1 2]", submitted)
	}
	if resolved != 3 {
		t.Errorf("resolved events = %d, want 3", resolved)
	}
}

func TestRunDefaultReduceIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	opts := engine.Options{
		Backend: local.New(2),
		Scope:   closure.NewScope(closure.Frame{"offset": 5}),
	}

	first, err := eng.Run(context.Background(), intItems(4), addClosure(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := eng.Run(context.Background(), intItems(4), addClosure(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated runs differ: %v vs %v", first, second)
	}
}
