package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/scanpoint/verity/internal/audit"
	"github.com/scanpoint/verity/internal/clock"
	"github.com/scanpoint/verity/internal/config"
	"github.com/scanpoint/verity/internal/denylist"
	"github.com/scanpoint/verity/internal/migration"
	"github.com/scanpoint/verity/internal/observability/logger"
	"github.com/scanpoint/verity/internal/observability/tracing"
	"github.com/scanpoint/verity/internal/pos"
	"github.com/scanpoint/verity/internal/reconcile"
	"github.com/scanpoint/verity/internal/seed"
	"github.com/scanpoint/verity/internal/server"
	"github.com/scanpoint/verity/internal/session"
	"github.com/scanpoint/verity/internal/webhook"
	"github.com/scanpoint/verity/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		tracing.Module,
		clock.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.RunMigrations(sqlDB); err != nil {
				return err
			}
			if !cfg.IsProduction() {
				return seed.EnsureDefaultLocation(conn, cfg.POS.OutletID)
			}
			return nil
		}),
		denylist.Module,
		session.Module,
		pos.Module,
		reconcile.Module,
		webhook.Module,
		audit.Module,
		server.Module,
	)
	app.Run()
}
