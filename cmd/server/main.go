package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/live-chess-backend/internal/broadcast"
	"github.com/DoyleJ11/live-chess-backend/internal/config"
	"github.com/DoyleJ11/live-chess-backend/internal/dispatch"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/httpapi"
	"github.com/DoyleJ11/live-chess-backend/internal/hub"
	"github.com/DoyleJ11/live-chess-backend/internal/logging"
	"github.com/DoyleJ11/live-chess-backend/internal/metrics"
	"github.com/DoyleJ11/live-chess-backend/internal/monitor"
	"github.com/DoyleJ11/live-chess-backend/internal/notify"
	"github.com/DoyleJ11/live-chess-backend/internal/pairing"
	"github.com/DoyleJ11/live-chess-backend/internal/room"
	"github.com/DoyleJ11/live-chess-backend/internal/rules"
	"github.com/DoyleJ11/live-chess-backend/internal/store"
	"github.com/DoyleJ11/live-chess-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "Optional dotenv file")
	addr := fs.String("addr", "", "Listen address (overrides ADDR)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var (
		gw      store.Gateway
		results pairing.ResultSink
		lister  store.Lister
		closers []func() error
	)
	if cfg.DatabaseURL != "" {
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		gs, err := store.NewGormStore(db)
		if err != nil {
			return err
		}
		gw, results, lister = gs, gs, gs
		closers = append(closers, gs.Close)
		log.Info("using postgres store")
	} else {
		mem := store.NewMemory()
		gw, results, lister = mem, mem, mem
		log.Warn("DATABASE_URL not set, sessions are kept in memory only")
	}

	var (
		relay broadcast.Relay
		rr    *notify.RedisRelay
	)
	if cfg.RedisURL != "" {
		rr, err = notify.Dial(ctx, cfg.RedisURL, log)
		if err != nil {
			return err
		}
		relay = rr
		closers = append(closers, rr.Close)
	}

	b := broadcast.New(cfg.SubscriberBuffer, relay, log, m)

	// Rooms outlive the signal context so shutdown can flush dirty sessions.
	h := hub.NewHub(context.Background(), hub.Options{
		Room: room.Config{
			Policy:      cfg.Policy(),
			Thresholds:  cfg.Thresholds(),
			SaveTimeout: cfg.SaveTimeout,
		},
		Deps: room.Deps{
			Rules:     rules.NewChess(),
			Store:     gw,
			Retrier:   store.NewRetrier(gw, cfg.RetryPolicy(), log),
			Results:   results,
			Publisher: b,
			Log:       log,
			Metrics:   m,
		},
		Linger:   cfg.ArchiveLinger,
		OnRemove: b.CloseSession,
		Metrics:  m,
		Log:      log,
	})

	recovered, err := recoverSessions(ctx, lister, h, time.Now)
	if err != nil {
		log.Error("session recovery failed", zap.Error(err))
	} else {
		log.Info("sessions recovered", zap.Int("count", recovered))
	}

	d := dispatch.New(h, gw, cfg.TimeControl(), time.Now, log, m)
	sweeper := monitor.NewSweeper(h, cfg.SweepInterval, time.Now, log, m)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Dispatcher:  d,
			Broadcaster: b,
			Metrics:     m,
			WS: ws.Options{
				ReadTimeout:    cfg.WSReadTimeout,
				WriteTimeout:   cfg.WSWriteTimeout,
				OriginPatterns: cfg.WSOrigins,
			},
			Log: log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	if rr != nil {
		g.Go(func() error { return rr.Run(gctx, b.DeliverUser) })
	}
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = multierr.Append(err, h.Shutdown(sctx))
	for _, c := range closers {
		err = multierr.Append(err, c())
	}
	log.Info("shutdown complete", zap.Error(err))
	return err
}

// recoverSessions reattaches every unfinished session so the sweep keeps
// their clocks and liveness honest after a restart.
func recoverSessions(ctx context.Context, lister store.Lister, h *hub.Hub, now func() time.Time) (int, error) {
	sessions, err := lister.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	var errs error
	n := 0
	for _, s := range sessions {
		if _, err := h.Ensure(ctx, engine.Rebase(s, now())); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("recover %s: %w", s.ID, err))
			continue
		}
		n++
	}
	return n, errs
}
