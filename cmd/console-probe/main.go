// console-probe exercises the console API client end to end: sign-in,
// concurrent authenticated requests, and the forced sign-out path. It is the
// operational smoke test for the client core.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fleetops/console-client/internal/authbus"
	"github.com/fleetops/console-client/internal/client"
	"github.com/fleetops/console-client/internal/config"
	"github.com/fleetops/console-client/internal/credstore"
	"github.com/fleetops/console-client/internal/logger"
	"github.com/fleetops/console-client/internal/metrics"
)

func main() {
	path := flag.String("path", "/api/orders", "API path to probe")
	fanout := flag.Int("fanout", 4, "number of concurrent requests")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("Failed to load configuration")
	}

	store, watchable := buildStore(cfg)

	c, err := client.New(client.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		UserAgent: cfg.API.UserAgent,
		Store:     store,
		Metrics:   metrics.New(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("Failed to create client")
	}

	c.Bus().Subscribe(authbus.SignedOut, func(e authbus.Event) {
		logger.Get().Warn().Str("reason", string(e.Reason)).Msg("Session terminated")
	})
	c.Bus().Subscribe(authbus.TokenRefreshed, func(authbus.Event) {
		logger.Get().Info().Msg("Access token refreshed")
	})

	ctx := context.Background()

	if watchable {
		if err := c.WatchRemoteSignOut(ctx); err != nil {
			logger.Get().Warn().Err(err).Msg("Failed to watch for remote sign-out")
		}
	}

	if email := os.Getenv("CONSOLE_EMAIL"); email != "" {
		profile, err := c.SignIn(ctx, email, os.Getenv("CONSOLE_PASSWORD"))
		if err != nil {
			logger.Get().Fatal().Err(err).Msg("Sign-in failed")
		}
		if profile != nil {
			logger.Get().Info().Str("user", profile.ID).Strs("roles", profile.Roles).Msg("Signed in")
		}
	} else if !store.Get().Present() {
		logger.Get().Fatal().Msg("No stored session and no CONSOLE_EMAIL/CONSOLE_PASSWORD set")
	}

	// Fire concurrent requests at the same path; a stale access token makes
	// this a live demonstration of the single-flight refresh.
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *fanout; i++ {
		g.Go(func() error {
			raw, err := c.Do(gctx, "GET", *path, nil)
			if err != nil {
				return err
			}
			logger.Get().Info().Int("worker", i).Int("bytes", len(raw)).Str("path", *path).Msg("Request succeeded")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Get().Fatal().Err(err).Msg("Probe failed")
	}
	logger.Get().Info().Msg("All probes succeeded")
}

func buildStore(cfg *config.Config) (credstore.Store, bool) {
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Get().Info().Str("addr", cfg.Redis.Addr).Msg("Using shared Redis credential store")
		return credstore.NewRedisStore(rdb, cfg.Redis.KeyPrefix), true
	}

	store, err := credstore.NewFileStore(cfg.Credentials.Path)
	if err != nil {
		logger.Get().Fatal().Err(err).Msg("Failed to create credential store")
	}
	return store, false
}
