package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-supplychain-tracker/internal/catalog"
	"github.com/ariefcatur/go-supplychain-tracker/internal/config"
	"github.com/ariefcatur/go-supplychain-tracker/internal/httpx"
	"github.com/ariefcatur/go-supplychain-tracker/internal/identity"
	kafkax "github.com/ariefcatur/go-supplychain-tracker/internal/kafka"
	"github.com/ariefcatur/go-supplychain-tracker/internal/ledger"
	"github.com/ariefcatur/go-supplychain-tracker/internal/lifecycle"
	"github.com/ariefcatur/go-supplychain-tracker/internal/metrics"
	"github.com/ariefcatur/go-supplychain-tracker/internal/obs"
	"github.com/ariefcatur/go-supplychain-tracker/internal/products"
	"github.com/ariefcatur/go-supplychain-tracker/internal/rabbit"
	"github.com/ariefcatur/go-supplychain-tracker/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.ServiceName)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ledger
	gw, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		log.Error("ledger", "driver", cfg.LedgerDriver, "err", err)
		os.Exit(1)
	}
	defer closeLedger()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(reg)

	repo := catalog.New(gw, catalog.Options{Logger: log, Concurrency: cfg.ReloadConcurrency, Observer: rec})
	defer repo.Close()

	// Redis: snapshot cache + idempotency, both optional
	var idem *redisx.Idempotency
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		idem = redisx.NewIdempotency(rdb)
		cache := redisx.NewSnapshotCache(rdb, cfg.ServiceName)
		warmStart(ctx, repo, cache, log)
		repo.OnReload(func(s catalog.Snapshot) {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			if err := cache.Save(sctx, s); err != nil {
				log.Warn("snapshot cache save", "generation", s.Generation, "err", err)
			}
		})
	}

	if _, err := repo.ReloadAll(ctx); err != nil {
		log.Warn("initial reload failed, serving the cached catalog", "err", err)
	}

	// Events
	pub, closePub, err := openPublisher(ctx, cfg, log, rec)
	if err != nil {
		log.Error("events", "driver", cfg.EventsDriver, "err", err)
		os.Exit(1)
	}

	svc := lifecycle.New(gw, repo, nil, lifecycle.Options{
		Logger:    log,
		Publisher: pub,
		Metrics:   rec,
		Producer:  cfg.ServiceName,
	})

	// Identity: start from PRIVATE_KEY, re-read it on SIGHUP
	if ev, err := identity.FromKey(cfg.PrivateKey, cfg.ChainID); err != nil {
		log.Error("signing key rejected, running read-only", "err", err)
	} else {
		identity.Apply(svc, ev)
	}
	if svc.Signer() == nil {
		log.Info("no signing identity, running read-only")
	}
	idEvents := make(chan identity.Event, 1)
	go identity.Follow(ctx, idEvents, svc, log)
	go watchIdentity(ctx, cfg.ChainID, idEvents, log)

	// HTTP
	router := httpx.NewRouter(httpx.RouterOptions{
		Timeout: cfg.RequestTimeout,
		Metrics: metrics.Handler(reg),
	})
	ph := &httpx.ProductsHandler{
		Repo:         repo,
		Lifecycle:    svc,
		Idem:         idem,
		Log:          log,
		WriteTimeout: cfg.RequestTimeout,
	}
	ph.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			cancel()
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	repo.Close()
	cancel()
	closePub()
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Gateway, func(), error) {
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

// openPublisher returns a nil Publisher when events are disabled.
func openPublisher(ctx context.Context, cfg config.Config, log *slog.Logger, rec *metrics.Recorder) (lifecycle.Publisher, func(), error) {
	switch cfg.EventsDriver {
	case "kafka":
		prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log, rec.ObservePublish)
		prod.Start(ctx)
		return prod, func() {
			prod.Close()
			prod.WaitClosed()
		}, nil
	case "rabbitmq":
		p, err := rabbit.Dial(cfg.RabbitURL, rabbit.DefaultExchange)
		if err != nil {
			return nil, nil, err
		}
		return observed{p, rec}, func() { _ = p.Close() }, nil
	}
	return nil, func() {}, nil
}

// observed counts publishes for transports without a completion callback.
type observed struct {
	lifecycle.Publisher
	rec *metrics.Recorder
}

func (o observed) Publish(ctx context.Context, topic string, key []byte, env products.Envelope) error {
	err := o.Publisher.Publish(ctx, topic, key, env)
	o.rec.ObservePublish(topic, err)
	return err
}

func warmStart(ctx context.Context, repo *catalog.Repository, cache *redisx.SnapshotCache, log *slog.Logger) {
	lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	cs, ok, err := cache.Load(lctx)
	switch {
	case err != nil:
		log.Warn("snapshot cache load", "err", err)
	case !ok:
		log.Info("snapshot cache empty")
	case repo.Restore(cs.Products, cs.LoadedAt):
		log.Info("catalog restored from cache", "products", len(cs.Products), "loaded_at", cs.LoadedAt)
	}
}

// watchIdentity re-reads PRIVATE_KEY from the environment and .env on
// SIGHUP. A missing key revokes write access.
func watchIdentity(ctx context.Context, chainID int64, out chan<- identity.Event, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			_ = godotenv.Overload()
			ev, err := identity.FromKey(os.Getenv("PRIVATE_KEY"), chainID)
			if err != nil {
				log.Error("reload signing key", "err", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
