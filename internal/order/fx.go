package order

import (
	"github.com/smallcraft/commerce-core/internal/order/repository"
	"github.com/smallcraft/commerce-core/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
