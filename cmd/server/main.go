/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bin ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env / environment), then apply flag overrides
  2. Open the repositories (memory, SQLite or Postgres)
  3. Wire ledger, allocator, fulfillment, picking and putaway services
  4. Apply the warehouse layout file, if any
  5. Start the outbox dispatcher
  6. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     Path to an env file (default: .env when present)
  -port    HTTP server port, overrides APP_PORT
  -db      SQLite database path, overrides DB_PATH
           Use ":memory:" for in-process repositories

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the outbox dispatcher
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/wms.db"

  # Run in memory with a preloaded layout
  LAYOUT_FILE=./layout.json ./server -db=":memory:"

  # Run against Postgres
  LEDGER_BACKEND=postgres DATABASE_URL=postgres://localhost/wms ./server

ENVIRONMENT:
  See config/config.go for the full list.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Database implementations
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

	"go.uber.org/zap"

	"github.com/warp/bin-ledger/api"
	"github.com/warp/bin-ledger/collab"
	"github.com/warp/bin-ledger/config"
	"github.com/warp/bin-ledger/factory"
	"github.com/warp/bin-ledger/inventory"
	"github.com/warp/bin-ledger/inventory/store"
	"github.com/warp/bin-ledger/logger"
	"github.com/warp/bin-ledger/store/postgres"
	"github.com/warp/bin-ledger/store/sqlite"
)

// repository is everything a backend has to provide.
type repository interface {
	inventory.Store
	inventory.LocationStore
	inventory.OrderStore
	inventory.PickListStore
	inventory.TaskStore
	inventory.DocumentStore
	inventory.Outbox
}

// backend is an opened repository plus its lifecycle hooks.
type backend struct {
	repo  repository
	ping  func(ctx context.Context) error
	close func()
}

func main() {
	// Flags
	envFile := flag.String("env", "", "Path to an env file")
	port := flag.Int("port", 0, "HTTP server port (overrides APP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides DB_PATH)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = fmt.Sprint(*port)
	}
	if *dbPath != "" {
		cfg.Store.DBPath = *dbPath
	}

	log := logger.Must(logger.New(cfg.Log.Level))
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()
	repo := be.repo

	rt := inventory.Runtime{Logger: logger.Named(log, "inventory")}
	ledger := inventory.NewLedger(repo, repo, inventory.WithRuntime(rt))

	allocation, err := factory.AllocationStrategy(cfg.Inventory.AllocationStrategy)
	if err != nil {
		return err
	}
	destination, err := factory.DestinationStrategy(cfg.Inventory.PutawayStrategy)
	if err != nil {
		return err
	}

	// Layout
	var catalog inventory.Catalog = collab.StaticCatalog{DefaultUOM: cfg.Inventory.DefaultUOM}
	if cfg.Inventory.LayoutFile != "" {
		layout, err := factory.LoadLayout(cfg.Inventory.LayoutFile)
		if err != nil {
			return err
		}
		if err := layout.Apply(ctx, repo, ledger); err != nil {
			return fmt.Errorf("apply layout: %w", err)
		}
		cat := layout.Catalog()
		if cat.DefaultUOM == "" {
			cat.DefaultUOM = cfg.Inventory.DefaultUOM
		}
		catalog = cat
		log.Info("layout applied",
			zap.String("file", cfg.Inventory.LayoutFile),
			zap.Int("locations", len(layout.Locations)),
			zap.Int("opening_stock", len(layout.OpeningStock)))
	}

	// Collaborators
	var (
		docs     inventory.Documents = &collab.Local{Store: repo, Runtime: rt}
		notifier inventory.Notifier  = collab.LogNotifier{Logger: logger.Named(log, "notify")}
	)
	if cfg.Collab.BaseURL != "" {
		client := collab.NewHTTPClient(collab.HTTPConfig{
			BaseURL: cfg.Collab.BaseURL,
			Token:   cfg.Collab.Token,
		})
		docs, notifier = client, client
		if cfg.Inventory.LayoutFile == "" {
			catalog = client
		}
		log.Info("collaborator service configured", zap.String("base_url", cfg.Collab.BaseURL))
	}

	allocator := &inventory.Allocator{Ledger: ledger, Outbox: repo, Runtime: rt}
	dispatcher := api.NewOutboxDispatcher(repo, notifier, rt, logger.Named(log, "outbox"))
	dispatcher.Schedule = cfg.Outbox.Schedule

	handler := api.NewHandler(api.Services{
		Ledger:      ledger,
		Locations:   repo,
		Orders:      repo,
		PickLists:   repo,
		Tasks:       repo,
		Documents:   repo,
		Fulfillment: inventory.NewFulfillmentService(repo, allocator, rt),
		Picking: inventory.NewPickService(inventory.PickDeps{
			PickLists: repo,
			Orders:    repo,
			Ledger:    ledger,
			Locations: repo,
			Documents: docs,
			Catalog:   catalog,
			Outbox:    repo,
			Runtime:   rt,
		}),
		Putaway: inventory.NewPutawayService(inventory.PutawayDeps{
			Tasks:     repo,
			Ledger:    ledger,
			Locations: repo,
			Documents: docs,
			Outbox:    repo,
			Strategy:  destination,
			Runtime:   rt,
		}),
		Dispatcher:      dispatcher,
		DefaultStrategy: allocation,
		Ping:            be.ping,
	}, logger.Named(log, "api"))

	if err := dispatcher.Start(); err != nil {
		return err
	}
	defer dispatcher.Stop()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errc := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", "http://localhost:"+cfg.Server.Port),
			zap.String("backend", cfg.Store.Backend),
			zap.String("allocation", string(allocation)),
			zap.String("putaway", cfg.Inventory.PutawayStrategy))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-quit:
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// openBackend opens the repositories selected by the configuration.
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch {
	case cfg.InMemory():
		log.Info("using in-memory repositories")
		return &backend{repo: store.NewMemory(), close: func() {}}, nil

	case cfg.Store.Backend == config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		log.Info("using postgres repositories")
		return &backend{repo: s, ping: s.Ping, close: pool.Close}, nil

	default:
		s, err := sqlite.New(cfg.Store.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("using sqlite repositories", zap.String("path", cfg.Store.DBPath))
		return &backend{repo: s, ping: s.Ping, close: func() { s.Close() }}, nil
	}
}
