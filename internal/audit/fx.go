package audit

import (
	"github.com/scanpoint/verity/internal/audit/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("audit",
	fx.Provide(repository.Provide),
	fx.Provide(NewService),
)
