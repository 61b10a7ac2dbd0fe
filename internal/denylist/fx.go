package denylist

import (
	"github.com/scanpoint/verity/internal/decision"
	"github.com/scanpoint/verity/internal/denylist/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("denylist",
	fx.Provide(repository.Provide),
	fx.Provide(NewService),
	fx.Provide(func(s *Service) decision.DenyList { return s }),
)
