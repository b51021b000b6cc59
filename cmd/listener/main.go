// Command listener joins one radio and keeps the user's catalog playback
// device in step with it until the radio is deleted or the process stops.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"aural-realtime/internal/catalog"
	"aural-realtime/internal/client"
	"aural-realtime/internal/config"
	"aural-realtime/internal/room"
)

const leaveTimeout = 5 * time.Second

func main() {
	cfg, err := config.LoadListenerConfig()
	if err != nil {
		log.Fatalf("listener: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := client.NewLoop()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go loop.Run(loopCtx)

	conn, err := client.Dial(ctx, cfg.ServerURL, cfg.AccessToken, loop)
	if err != nil {
		log.Fatalf("listener: dial %s: %v", cfg.ServerURL, err)
	}
	defer conn.Close()

	userID := conn.UserID()
	if userID == "" {
		userID = cfg.UserID
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("listener: invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	closed := make(chan struct{})
	proxy, ctrl, err := openRoom(ctx, loop, conn, userID, cfg.RadioID, room.RadioOptions{
		Device:       catalog.NewPlayer(cfg.CatalogURL, cfg.CatalogToken),
		Catalog:      catalog.NewClient(cfg.CatalogURL, cfg.CatalogToken, rdb, cfg.MetadataTTL),
		Alerter:      room.AlertFunc(func(err error) { log.Printf("listener: %v", err) }),
		SyncInterval: cfg.SyncInterval,
		OnClose:      func() { close(closed) },
		OnTrack: func(t catalog.Track) {
			log.Printf("listener: now playing %q by %q", t.Title, t.Artist)
		},
	})
	if err != nil {
		log.Fatalf("listener: join %s: %v", cfg.RadioID, err)
	}
	log.Printf("listener: joined radio %s as %s", cfg.RadioID, userID)

	select {
	case <-ctx.Done():
		leave(loop, ctrl)
	case <-closed:
		log.Printf("listener: radio %s closed", cfg.RadioID)
	case <-conn.Done():
		log.Printf("listener: connection lost")
	}
	_ = loop.Do(context.Background(), proxy.Close)
}

// openRoom joins radioID through ch and opens a room on it once the join is
// acknowledged.
func openRoom(ctx context.Context, loop *client.Loop, ch client.Channel, userID, radioID string, opts room.RadioOptions) (*client.Proxy, *room.RadioController, error) {
	type result struct {
		ctrl *room.RadioController
		err  error
	}
	res := make(chan result, 1)

	var proxy *client.Proxy
	err := loop.Do(ctx, func() {
		proxy = client.NewProxy(loop, ch, userID)
		proxy.JoinRadio(radioID, func(err error) {
			if err != nil {
				res <- result{err: err}
				return
			}
			ctrl, err := room.NewRadioController(loop, proxy, opts)
			res <- result{ctrl: ctrl, err: err}
		})
	})
	if err != nil {
		return nil, nil, err
	}

	select {
	case r := <-res:
		if r.err != nil {
			_ = loop.Do(context.Background(), proxy.Close)
			return nil, nil, r.err
		}
		return proxy, r.ctrl, nil
	case <-ctx.Done():
		_ = loop.Do(context.Background(), proxy.Close)
		return nil, nil, ctx.Err()
	}
}

// leave leaves the radio and waits briefly for the ack.
func leave(loop *client.Loop, ctrl *room.RadioController) {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	acked := make(chan error, 1)
	err := loop.Do(ctx, func() {
		if err := ctrl.Leave(func(err error) { acked <- err }); err != nil {
			acked <- err
		}
	})
	if err != nil {
		return
	}
	select {
	case err := <-acked:
		if err != nil {
			log.Printf("listener: leave: %v", err)
		}
	case <-ctx.Done():
		log.Printf("listener: leave: %v", ctx.Err())
	}
}
