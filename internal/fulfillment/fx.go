package fulfillment

import (
	"github.com/smallcraft/commerce-core/internal/fulfillment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fulfillment.service",
	fx.Provide(service.NewService),
)
