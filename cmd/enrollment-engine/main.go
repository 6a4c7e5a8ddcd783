package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/go-redis/redis/v8"

	"github.com/campusforge/enrollment-engine/internal/audit"
	"github.com/campusforge/enrollment-engine/internal/auth"
	"github.com/campusforge/enrollment-engine/internal/config"
	"github.com/campusforge/enrollment-engine/internal/enrollment"
	"github.com/campusforge/enrollment-engine/internal/eventstore"
	"github.com/campusforge/enrollment-engine/internal/gateway"
	"github.com/campusforge/enrollment-engine/internal/lockmgr"
	"github.com/campusforge/enrollment-engine/internal/policy"
	"github.com/campusforge/enrollment-engine/internal/registrar"
	"github.com/campusforge/enrollment-engine/pkg/messaging"
)

func main() {
	cfg, err := config.Load(os.Environ())
	if err != nil {
		log.Printf("config error: %v", err)
		os.Exit(64)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Printf("failed to open database: %v", err)
		os.Exit(70)
	}
	if err := db.Ping(); err != nil {
		log.Printf("failed to reach database: %v", err)
		os.Exit(70)
	}
	defer db.Close()

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSURL,
		Name:           "enrollment-engine",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Printf("failed to connect to NATS: %v", err)
		os.Exit(70)
	}
	defer natsClient.Close()

	store := eventstore.NewPublishingStore(eventstore.NewPostgresStore(db), natsClient)
	if err := store.EnsureStream(); err != nil {
		log.Printf("failed to ensure event stream: %v", err)
		os.Exit(70)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	}
	cache := enrollment.NewAggregateCache(rdb, 30*time.Second)

	locks := lockmgr.New()
	engine := policy.NewEngine(policy.DefaultPolicies()...)
	auditLog, err := audit.NewWithDB(context.Background(), db)
	if err != nil {
		log.Printf("failed to load audit chain: %v", err)
		os.Exit(70)
	}
	repo := registrar.NewRepository(db)

	coordinator := enrollment.NewCoordinator(store, locks, engine, cache, repo, repo, auditLog, enrollment.Config{
		WaitTimeout:      cfg.LockWaitTimeout,
		HoldTTL:          cfg.LockHoldTTL,
		MaxRetries:       cfg.CoordinatorMaxRetries,
		RetryBaseDelay:   10 * time.Millisecond,
		RetryCap:         500 * time.Millisecond,
		SnapshotInterval: cfg.SnapshotInterval,
		CreditCapDefault: cfg.CreditCapDefault,
	})

	verifier := auth.NewVerifier(cfg.JWTSecret)
	gw := gateway.NewGateway(gateway.Config{
		Port:            cfg.Port,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		HistoryWindow:   cfg.HistoryWindow,
	}, coordinator, verifier)

	reconciler := enrollment.NewReconciler(coordinator, repo, repo, 30*time.Second, 5*time.Minute, gw.BroadcastAuditReport)
	ctx, stopReconciler := context.WithCancel(context.Background())
	reconciler.Start(ctx)
	defer func() {
		reconciler.Stop()
		stopReconciler()
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: gw.Router(),
	}

	go func() {
		log.Printf("enrollment engine listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("listen: %v", err)
			os.Exit(70)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down enrollment engine...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("enrollment engine stopped")
}
