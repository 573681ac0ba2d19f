package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"unum/internal/anchor"
	"unum/internal/dupindex"
	"unum/internal/enroll"
	enrollhandler "unum/internal/enroll/handler"
	enrollmetrics "unum/internal/enroll/metrics"
	"unum/internal/jwttoken"
	"unum/internal/platform/config"
	"unum/internal/platform/httpserver"
	"unum/internal/platform/logger"
	platformmetrics "unum/internal/platform/metrics"
	"unum/internal/platform/middleware"
	platformredis "unum/internal/platform/redis"
	"unum/internal/registry"
	"unum/internal/revocation"
	"unum/pkg/platform/audit/publisher"
	kafkasink "unum/pkg/platform/audit/sink/kafka"
	auditmem "unum/pkg/platform/audit/store/memory"
	"unum/pkg/platform/circuit"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durable stores when Postgres is configured, in-memory otherwise.
	var db *sql.DB
	if cfg.PostgresURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("opening postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("postgres unreachable", "error", err)
			os.Exit(1)
		}
	}

	index, identities, records, err := buildStores(ctx, cfg, db, log)
	if err != nil {
		log.Error("initializing stores", "error", err)
		os.Exit(1)
	}

	// Audit pipeline: in-process store, async buffer, optional Kafka fan-out.
	auditOpts := []publisher.Option{
		publisher.WithAsyncBuffer(cfg.AuditBuffer),
		publisher.WithLogger(log),
	}
	var kafka *kafkasink.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err = kafkasink.New(cfg.KafkaBrokers, kafkasink.WithLogger(log))
		if err != nil {
			log.Error("connecting audit sink", "error", err)
			os.Exit(1)
		}
		defer kafka.Close()
		auditOpts = append(auditOpts, publisher.WithSink(kafka))
	}
	auditor := publisher.NewPublisher(auditmem.NewInMemoryStore(), auditOpts...)
	defer auditor.Close()

	// Anchoring.
	var submitter anchor.Submitter = anchor.LoopbackSubmitter{}
	if cfg.AnchorURL != "" {
		submitter = anchor.NewHTTPSubmitter(cfg.AnchorURL, cfg.AnchorTimeout)
	} else {
		log.Warn("no anchor service configured, using loopback submitter")
	}
	gateway := anchor.New(submitter, index, log,
		anchor.WithMaxAttempts(cfg.AnchorMaxAttempts),
		anchor.WithBaseBackoff(cfg.AnchorBaseBackoff),
		anchor.WithBreaker(circuit.New("anchor")),
	)

	// Services.
	revoker := revocation.NewService(identities, index, gateway, records, auditor, log)
	enrollments := enroll.New(index, identities, gateway, revoker,
		enroll.WithLogger(log),
		enroll.WithAuditPublisher(auditor),
		enroll.WithMetrics(enrollmetrics.New()),
	)

	// HTTP surface.
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "unum", "unum-api")
	transportMetrics := platformmetrics.New()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(log))
	router.Use(middleware.Logger(log))
	router.Use(transportMetrics.Instrument)
	router.Use(chimiddleware.Timeout(30 * time.Second))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(jwtService, log))
		enrollhandler.New(enrollments, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting unum engine", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Reservations stranded by crashed workers are swept back.
	reaper := dupindex.NewReaper(index, log, cfg.ReservationMaxAge, cfg.ReaperInterval)
	g.Go(func() error { return reaper.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildStores selects the index and registry backends from configuration:
// Redis index when configured, else Postgres, else in-memory.
func buildStores(ctx context.Context, cfg config.Config, db *sql.DB, log *slog.Logger) (dupindex.Index, registry.Store, revocation.RecordStore, error) {
	var (
		index      dupindex.Index
		identities registry.Store
		records    revocation.RecordStore
	)

	switch {
	case cfg.RedisURL != "":
		client, err := platformredis.New(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		index = dupindex.NewRedis(client.Client, dupindex.WithPendingTTL(cfg.ReservationMaxAge))
		log.Info("duplicate index backed by redis")
	case db != nil:
		pg := dupindex.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, nil, err
		}
		index = pg
		log.Info("duplicate index backed by postgres")
	default:
		index = dupindex.NewInMemory()
		log.Warn("duplicate index is in-memory, uniqueness does not survive restarts")
	}

	if db != nil {
		regStore := registry.NewPostgres(db)
		if err := regStore.EnsureSchema(ctx); err != nil {
			return nil, nil, nil, err
		}
		identities = regStore

		recStore := revocation.NewPostgresRecordStore(db)
		if err := recStore.EnsureSchema(ctx); err != nil {
			return nil, nil, nil, err
		}
		records = recStore
	} else {
		identities = registry.NewInMemory()
		records = revocation.NewInMemoryRecordStore()
	}

	return index, identities, records, nil
}
