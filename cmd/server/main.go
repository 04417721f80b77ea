package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/bazar-buzzer/internal/config"
	"github.com/iliyamo/bazar-buzzer/internal/database"
	"github.com/iliyamo/bazar-buzzer/internal/handler"
	"github.com/iliyamo/bazar-buzzer/internal/leaderboard"
	"github.com/iliyamo/bazar-buzzer/internal/notify"
	"github.com/iliyamo/bazar-buzzer/internal/queue"
	"github.com/iliyamo/bazar-buzzer/internal/repository"
	"github.com/iliyamo/bazar-buzzer/internal/router"
	"github.com/iliyamo/bazar-buzzer/internal/service"
)

func main() {
	// Load .env from the working directory when present.
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
	if err := run(config.Load()); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
	log.Println("shutdown complete")
}

// run owns every resource the server opens; returning, with or without an
// error, releases them before main exits.
func run(cfg config.Config) error {
	db, dialect, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := database.Migrate(ctx, db, dialect); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Printf("db: %s ready", dialect)

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}

	var bus notify.Bus = notify.NewLocalBus()
	if cfg.NotifyBackend == config.NotifyRedis {
		if rdb != nil {
			bus = notify.NewRedisBus(rdb, cfg.NotifyChannel)
			log.Printf("notify: redis channel %s", cfg.NotifyChannel)
		} else {
			log.Printf("notify: redis unavailable, using in-process bus")
		}
	}

	repo := repository.NewParticipantRepo(db)
	projector := leaderboard.New(repo, bus, cfg.LeaderboardLimit, nil)

	var audit service.AuditSink
	var publisher *queue.Publisher
	if cfg.AuditEnabled {
		publisher = queue.NewPublisher(cfg.RabbitURL, queue.DefaultBuffer)
		audit = publisher
	}

	opts := service.Options{
		MaxParticipants: cfg.MaxParticipants,
		LeaseDuration:   cfg.LeaseDuration,
	}
	registry := service.NewRegistry(repo, bus, audit, opts)
	arbitrator := service.NewArbitrator(repo, opts)
	ledger := service.NewLedger(repo, bus, projector, audit, opts)
	admin := service.NewAdmin(repo, bus, projector, audit, opts)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())

	router.RegisterRoutes(e, db)
	router.RegisterBuzzer(e,
		handler.NewBuzzerHandler(registry, arbitrator, ledger),
		handler.NewLeaderboardHandler(projector),
		config.LoadRateLimitConfig(), rdb)
	router.RegisterJoin(e, cfg.PublicBaseURL, config.LoadCacheConfig(), rdb)
	router.RegisterAdmin(e, handler.NewAdminHandler(cfg, admin), cfg.JWTSecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return projector.Run(gctx) })
	if publisher != nil {
		g.Go(func() error { return publisher.Run(gctx) })
		g.Go(func() error { return queue.StartAuditConsumer(gctx, cfg.RabbitURL, cfg.AuditLogDir) })
	}
	g.Go(func() error {
		addr := ":" + cfg.Port
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
