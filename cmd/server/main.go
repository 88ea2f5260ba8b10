/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the automation engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Configure structured logging (logrus)
  3. Initialize SQLite store
  4. Create API handler with dependencies
  5. Start the run scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: automations.db)
                   Use ":memory:" for in-memory database
  -run-interval    Scheduler interval between catch-up runs (default: 1h)
  -catchup-months  Look-back window for automations without a
                   checkpoint (default: 1)
  -log-json        Emit JSON logs instead of text (default: false)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the run scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/automations.db"

  # Run with in-memory database, frequent runs
  ./server -db=":memory:" -run-interval=1m

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Background run scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ledgerline/automation-engine/api"
	"github.com/ledgerline/automation-engine/engine"
	"github.com/ledgerline/automation-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "automations.db", "SQLite database path")
	runInterval := flag.Duration("run-interval", time.Hour, "interval between scheduled runs")
	catchUpMonths := flag.Int("catchup-months", engine.DefaultCatchUpMonths, "look-back months for automations without a checkpoint")
	logJSON := flag.Bool("log-json", false, "emit JSON logs")
	flag.Parse()

	log := logrus.StandardLogger()
	if *logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Initialize handler; the SQLite store doubles as the price feed.
	handler := api.NewHandler(store, store)
	handler.Runner.CatchUpMonths = *catchUpMonths
	handler.SetPrice = func(r *http.Request, id engine.InvestmentID, price decimal.Decimal) error {
		return store.SetPrice(r.Context(), id, price)
	}

	// Background scheduler
	scheduler := api.NewRunScheduler(handler.Runner)
	scheduler.CheckInterval = *runInterval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}
