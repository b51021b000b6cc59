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

	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"aural-realtime/internal/config"
	"aural-realtime/internal/realtime"
	"aural-realtime/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadServiceConfig()
	if err != nil {
		log.Fatalf("aural-realtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("aural-realtime: invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	store, closeStore, err := openStore(ctx, cfg, rdb)
	if err != nil {
		log.Fatalf("aural-realtime: %v", err)
	}
	defer closeStore()

	hub := realtime.NewHub()
	reg := session.NewRegistry(session.WithStore(store), session.WithPublisher(newPublisher(hub, rdb)))
	if err := reg.Restore(ctx); err != nil {
		log.Fatalf("aural-realtime: %v", err)
	}

	srv := realtime.NewServer(hub, reg, rdb, ctx, realtime.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		JWTSecret:     cfg.JWTSecret,
		SendBuffer:    cfg.SendBuffer,
	})

	go hub.Run(ctx)
	if rdb != nil {
		go srv.RunRedisSubscriber()
	}
	if len(cfg.JWTSecret) == 0 {
		log.Printf("aural-realtime: JWT_SECRET is empty, trusting payload user ids")
	}

	r := srv.Router(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	go func() {
		log.Printf("aural-realtime listening on :%s (store=%s)", cfg.Port, cfg.StoreBackend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("aural-realtime: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("aural-realtime: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("aural-realtime: shutdown: %v", err)
	}
}

// openStore builds the session store selected by STORE_BACKEND. The returned
// func releases it.
func openStore(ctx context.Context, cfg config.ServiceConfig, rdb *redis.Client) (session.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		return session.NewMemoryStore(), func() {}, nil

	case config.BackendRedis:
		if rdb == nil {
			return nil, nil, errors.New("redis store needs REDIS_URL")
		}
		return session.NewRedisStore(rdb), func() {}, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("pg: %w", err)
		}
		if err := session.AutoMigrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pg migrate: %w", err)
		}
		return session.NewPostgresStore(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// newPublisher routes broadcasts through the Redis channel when it is
// configured and straight to the hub otherwise. Either way one instance owns
// every session; the registry is not shared between processes.
func newPublisher(hub *realtime.Hub, rdb *redis.Client) session.Publisher {
	if rdb == nil {
		return hub
	}
	return realtime.NewRedisPublisher(rdb, hub)
}
