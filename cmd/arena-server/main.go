package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/castlegate/arena/internal/board"
	"github.com/castlegate/arena/internal/challenge"
	appcfg "github.com/castlegate/arena/internal/config"
	"github.com/castlegate/arena/internal/gateway"
	"github.com/castlegate/arena/internal/matchmaking"
	"github.com/castlegate/arena/internal/notify"
	"github.com/castlegate/arena/internal/obslog"
	"github.com/castlegate/arena/internal/session"
	"github.com/castlegate/arena/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	obslog.Init(cfg.LogLevel, cfg.LogFormat)
	defer obslog.Sync()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		obslog.L().Fatal("redis_url_invalid", zap.Error(err))
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancelPing()
		obslog.L().Fatal("redis_connect_error", zap.Error(err))
	}
	cancelPing()

	var store storage.Store
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPGStore(cfg.DatabaseURL, cfg.InitialRating)
		if err != nil {
			obslog.L().Fatal("postgres_init_error", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	} else {
		obslog.L().Warn("storage_memory_mode")
		store = storage.NewMemStore(cfg.InitialRating)
	}

	hub := notify.NewHub(16)
	sinks := []notify.Notifier{hub, notify.NewRedisBridge(rdb)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.WebhookURL))
	}
	notifier := notify.Fanout(sinks...)

	engine := session.NewEngine(store, board.NewOracle(), notifier,
		session.WithClockBudget(cfg.InitialClockSec),
		session.WithKFactor(cfg.RatingK),
	)
	pairer := matchmaking.NewPairer(store, engine, notifier)
	challenges := challenge.NewManager(rdb, store, engine, notifier, cfg.ChallengeTTL())

	sweeper := session.NewSweeper(engine, store)
	if err := sweeper.Start(cfg.SweepInterval()); err != nil {
		obslog.L().Fatal("sweeper_start_error", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gateway.New(engine, pairer, challenges, store, hub).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sweeper.Stop()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		obslog.L().Error("server_exit_error", zap.Error(err))
		os.Exit(1)
	}
	obslog.L().Info("server_exit")
}
