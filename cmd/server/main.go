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
	"github.com/redis/go-redis/v9"

	"github.com/parley-social/parley/internal/auth"
	"github.com/parley-social/parley/internal/config"
	"github.com/parley-social/parley/internal/connection"
	"github.com/parley-social/parley/internal/conversation"
	"github.com/parley-social/parley/internal/httpapi"
	"github.com/parley-social/parley/internal/hub"
	"github.com/parley-social/parley/internal/message"
	"github.com/parley-social/parley/internal/securelog"
	"github.com/parley-social/parley/internal/storage"
	"github.com/parley-social/parley/internal/user"
	"github.com/parley-social/parley/internal/ws"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "adduser" {
		err = runAddUser(os.Args[2:], os.Stdin)
	} else {
		err = run()
	}
	if err != nil {
		securelog.Error("server.run", err)
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the process environment still applies.
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := storage.NewPostgresStore(storeCtx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, store)
}

// serve owns store from here on and closes it before returning.
func serve(ctx context.Context, cfg config.Config, store storage.Store) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	registry := hub.NewRegistry()
	defer registry.Close()

	broadcaster, relayErr, err := newBroadcaster(ctx, cfg, registry)
	if err != nil {
		return err
	}

	users := user.NewService(store.Users())
	authService := auth.NewService(users, store.Tokens(), cfg.TokenTTL)
	conversations := conversation.NewStore(store.Conversations(), connection.NewDirectory(store.Connections()))
	messages := message.NewLog(store.Messages())

	chat := ws.NewHandler(authService, users, conversations, messages, registry, broadcaster, ws.Options{
		ReplayHistory:  cfg.ReplayHistory,
		OriginPatterns: cfg.AllowedOrigins,
	})
	api := httpapi.NewHandler(authService, users, conversations, messages, store)

	// No WriteTimeout: the deadline would outlive the upgrade on hijacked
	// websocket connections. Sessions bound each frame write themselves.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(api, chat),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSEnabled() {
			log.Printf("listening with TLS on %s", cfg.ListenAddr)
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}

		log.Printf("listening on %s", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Shutdown does not wait for hijacked connections; closing the
		// registry ends every joined session.
		registry.Close()
		_ = srv.Shutdown(shutdownCtx)
		err = <-errCh
	case err = <-errCh:
	case rerr := <-relayErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		registry.Close()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return fmt.Errorf("redis relay stopped: %w", rerr)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// newBroadcaster returns the local registry, or a Redis relay in front of it
// when PARLEY_REDIS_URL is set. The relay is subscribed before this returns;
// relayErr yields an error if it stops while ctx is still live, and is nil
// for the local registry.
func newBroadcaster(ctx context.Context, cfg config.Config, registry *hub.Registry) (b hub.Broadcaster, relayErr <-chan error, err error) {
	if cfg.RedisURL == "" {
		return registry, nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	relay := hub.NewRedisRelay(client, registry, cfg.RedisPrefix)
	run := func(ctx context.Context) error {
		defer client.Close()
		return relay.Run(ctx)
	}
	relayErr, err = startRelay(ctx, run, relay.Ready(), relayReadyTimeout)
	if err != nil {
		return nil, nil, err
	}
	return relay, relayErr, nil
}

const relayReadyTimeout = 5 * time.Second

var errRelayExited = errors.New("relay exited")

// startRelay runs run in the background and waits for ready, so nothing is
// published before the subscription exists. If run fails to get there, or
// wait passes, run is cancelled and the error returned.
func startRelay(ctx context.Context, run func(context.Context) error, ready <-chan struct{}, wait time.Duration) (<-chan error, error) {
	runCtx, stop := context.WithCancel(ctx)
	exited := make(chan error, 1)
	go func() {
		defer stop()
		err := run(runCtx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errRelayExited
		}
		securelog.Error("server.relay", err)
		exited <- err
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ready:
		return exited, nil
	case err := <-exited:
		return nil, fmt.Errorf("start relay: %w", err)
	case <-timer.C:
		stop()
		return nil, errors.New("start relay: timed out waiting for subscription")
	case <-ctx.Done():
		stop()
		return nil, ctx.Err()
	}
}
