package pos

import (
	"github.com/scanpoint/verity/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("pos",
	fx.Provide(func(cfg config.Config, log *zap.Logger) Client {
		return NewHTTPClient(cfg, log)
	}),
)
