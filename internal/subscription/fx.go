package subscription

import (
	"github.com/smallcraft/commerce-core/internal/subscription/repository"
	"github.com/smallcraft/commerce-core/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
