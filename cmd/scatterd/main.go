package main

import (
	"log"
	"os"

	"github.com/seantiz/scatter/internal/api"
	"github.com/seantiz/scatter/internal/config"
	"github.com/seantiz/scatter/plan"
	"github.com/seantiz/scatter/store"
)

// scatterd serves the run history recorded by applications embedding the
// scatter library, plus the backends registered in this process's plan.
func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	logger.Info("scatterd: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	srv := api.NewServer(cfg.ListenAddr, db, plan.Registry(), nil, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
