// scatter-demo starts a monitor backed by an in-memory run history and feeds
// it with synthetic parallel runs, so the API and event stream can be
// exercised without embedding the library in a real application.
// Usage: go run ./cmd/scatter-demo
package main

import (
	"context"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/seantiz/scatter/backend/local"
	"github.com/seantiz/scatter/closure"
	"github.com/seantiz/scatter/engine"
	"github.com/seantiz/scatter/internal/api"
	"github.com/seantiz/scatter/plan"
	"github.com/seantiz/scatter/store"
)

func main() {
	addr := ":8080"
	if v := os.Getenv("SCATTER_LISTEN_ADDR"); v != "" {
		addr = v
	}

	dir, err := os.MkdirTemp("", "scatter-demo")
	if err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	db, err := store.NewSQLiteStore(filepath.Join(dir, "demo.db"))
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eng := engine.New(db, logger)

	go produceRuns(eng, logger)

	srv := api.NewServer(addr, db, plan.Registry(), eng.Broker(), logger)

	logger.Info("scatter-demo: starting", "addr", addr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// produceRuns evaluates a synthetic workload every few seconds; roughly one
// run in four has failing items so the failed paths show up in the history.
func produceRuns(eng *engine.Engine, logger *slog.Logger) {
	body := closure.Call{Fn: "mul", Args: []closure.Expr{
		closure.Ref{Name: "x"},
		closure.Ref{Name: "factor"},
	}}
	cl := closure.New([]string{"x"}, body,
		func(_ context.Context, vars closure.Bindings) (any, error) {
			time.Sleep(time.Duration(100+rand.Intn(400)) * time.Millisecond)
			x, err := closure.Var(vars, "x")
			if err != nil {
				return nil, err
			}
			factor, err := closure.Var(vars, "factor")
			if err != nil {
				return nil, err
			}
			return x.(int) * factor.(int), nil
		})

	for {
		n := 4 + rand.Intn(5)
		items := make([]closure.Bindings, n)
		for i := range items {
			items[i] = closure.Bindings{"x": i}
		}

		scope := closure.NewScope(closure.Frame{"factor": 10})
		if rand.Intn(4) == 0 {
			// Leave factor out so discovery fails and the run is recorded
			// as failed.
			scope = closure.NewScope(closure.Frame{})
		}

		_, err := eng.Run(context.Background(), items, cl, engine.Options{
			Backend:     local.New(4),
			Scope:       scope,
			Concurrency: 2,
		})
		if err != nil {
			logger.Info("demo run failed", "error", err)
		}

		time.Sleep(3 * time.Second)
	}
}
