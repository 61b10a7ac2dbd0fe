package webhook

import (
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(NewService),
)
