package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/catalog"
	"github.com/ariefcatur/go-supplychain-tracker/internal/config"
	kafkax "github.com/ariefcatur/go-supplychain-tracker/internal/kafka"
	"github.com/ariefcatur/go-supplychain-tracker/internal/ledger"
	"github.com/ariefcatur/go-supplychain-tracker/internal/obs"
	"github.com/ariefcatur/go-supplychain-tracker/internal/postgres"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/ariefcatur/go-supplychain-tracker/internal/projector"
	"github.com/ariefcatur/go-supplychain-tracker/internal/readmodel"
	"github.com/ariefcatur/go-supplychain-tracker/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.ServiceName+"-projector")
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}
	if cfg.ReadModelDriver == "none" {
		log.Error("READMODEL_DRIVER must be postgres or sqlite for the projector")
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Read model
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("read model", "driver", cfg.ReadModelDriver, "err", err)
		os.Exit(1)
	}
	defer closeStore()
	if err := store.Init(ctx); err != nil {
		log.Error("read model schema", "err", err)
		os.Exit(1)
	}

	// Ledger
	reader, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		log.Error("ledger", "driver", cfg.LedgerDriver, "err", err)
		os.Exit(1)
	}
	defer closeLedger()
	if cfg.LedgerDriver == "memory" {
		log.Warn("memory ledger is private to this process; the read model stays empty")
	}
	repo := catalog.New(reader, catalog.Options{Logger: log, Concurrency: cfg.ReloadConcurrency})
	defer repo.Close()

	opts := projector.Options{Logger: log, Resync: cfg.ProjectorResync}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		opts.Dedup = redisx.NewDedup(rdb, cfg.ProjectorGroup)
	}
	proj := projector.New(repo, store, opts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = proj.Run(ctx)
	}()

	// Consumer: only kafka carries events the projector can subscribe to;
	// other drivers rely on the periodic resync.
	if cfg.EventsDriver == "kafka" {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, products.Topics(), cfg.ProjectorWorkers, log)
		go func() {
			log.Info("projector consumer started", "group", cfg.ProjectorGroup,
				"topics", products.Topics(), "workers", cfg.ProjectorWorkers)
			if err := cons.Start(ctx, proj.Handle); err != nil {
				log.Error("consumer exit", "err", err)
				cancel()
			}
		}()
	} else {
		log.Info("no event stream, projecting on resync only", "resync", cfg.ProjectorResync)
	}

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down projector")
	cancel()
	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("projection still running at shutdown")
	}
}

func openStore(ctx context.Context, cfg config.Config) (readmodel.Store, func(), error) {
	switch cfg.ReadModelDriver {
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{
			MaxConns: int32(cfg.PostgresMaxConn),
			MinConns: int32(cfg.PostgresMinConn),
			AppName:  cfg.ProjectorGroup,
		})
		if err != nil {
			return nil, nil, err
		}
		return readmodel.NewPostgres(db), db.Close, nil
	case "sqlite":
		s, err := readmodel.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported read model %q", cfg.ReadModelDriver)
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Reader, func(), error) {
	if cfg.LedgerDriver == "memory" {
		return ledger.NewMemory(), func() {}, nil
	}
	dctx, dcancel := context.WithTimeout(ctx, 10*time.Second)
	defer dcancel()
	c, err := ledger.Dial(dctx, ledger.ClientConfig{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		PollInterval:    cfg.ConfirmPoll,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}
