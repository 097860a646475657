package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/storefront-engine/api/controllers"
	"github.com/angelmondragon/storefront-engine/api/middleware"
	"github.com/angelmondragon/storefront-engine/internal/state"
	"github.com/angelmondragon/storefront-engine/pkg/config"
	"github.com/angelmondragon/storefront-engine/pkg/db"
	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/medusa"
	"github.com/angelmondragon/storefront-engine/pkg/migrate"
	"github.com/angelmondragon/storefront-engine/pkg/redis"
)

const (
	localAttemptScopes = 4096
	localReplayRecords = 4096
)

// stateStack is the session state backend plus what the router needs from it.
type stateStack struct {
	backend   state.Backend
	attempts  middleware.AttemptCounter
	replays   middleware.ReplayStore
	readiness map[string]controllers.Pinger
	closers   []func() error
}

func (s *stateStack) Close(ctx context.Context, logg *logger.Logger) {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			logg.Error(ctx, "error closing state backend", err)
		}
	}
}

func buildStateStack(ctx context.Context, cfg *config.Config, logg *logger.Logger) (*stateStack, error) {
	stack := &stateStack{readiness: map[string]controllers.Pinger{}}

	switch cfg.Storefront.Driver() {
	case config.StateDriverRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		stack.backend = state.NewRedisBackend(client)
		stack.attempts = client
		stack.replays = client
		stack.readiness["redis"] = client
		stack.closers = append(stack.closers, client.Close)

	case config.StateDriverSQL:
		client, err := db.New(ctx, cfg.DB, logg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap database: %w", err)
		}
		stack.closers = append(stack.closers, client.Close)
		if err := migrate.MaybeRun(ctx, cfg, logg, client); err != nil {
			stack.Close(ctx, logg)
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		stack.backend = state.NewSQLBackend(client.DB())
		stack.readiness["database"] = client

	default:
		stack.backend = state.NewMemoryBackend()
	}

	if stack.attempts == nil {
		local, err := middleware.NewLocalAttemptCounter(localAttemptScopes)
		if err != nil {
			stack.Close(ctx, logg)
			return nil, err
		}
		stack.attempts = local
	}
	if stack.replays == nil {
		local, err := middleware.NewLocalReplayStore(localReplayRecords)
		if err != nil {
			stack.Close(ctx, logg)
			return nil, err
		}
		stack.replays = local
	}
	return stack, nil
}

// waitForBackend lists regions until the commerce backend answers. Only
// retryable failures are retried.
func waitForBackend(ctx context.Context, client *medusa.Client, logg *logger.Logger) error {
	backoff := retry.WithMaxRetries(5, retry.WithCappedDuration(8*time.Second, retry.NewExponential(500*time.Millisecond)))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		regions, err := client.ListRegions(ctx)
		if err != nil {
			logg.Warn(logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			}), "commerce backend not ready")
			if pkgerrors.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		logg.Info(logg.WithField(ctx, "regions", len(regions)), "commerce backend reachable")
		return nil
	})
}
