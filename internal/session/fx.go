package session

import (
	"context"

	"github.com/scanpoint/verity/internal/clock"
	"github.com/scanpoint/verity/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("session",
	fx.Provide(func(cfg config.Config, clk clock.Clock, log *zap.Logger) *Store {
		return NewStore(Config{
			TTL:            cfg.Verification.SessionTTL,
			SweepInterval:  cfg.Verification.SweepInterval,
			DeviceIdleMax:  cfg.Verification.DeviceIdleMax,
			ActivityLogCap: cfg.Verification.ActivityLogCap,
		}, clk, log)
	}),
	fx.Invoke(runSweeper),
)

func runSweeper(lc fx.Lifecycle, store *Store) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go store.RunSweeper(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
