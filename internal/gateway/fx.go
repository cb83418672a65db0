package gateway

import (
	"github.com/smallcraft/commerce-core/internal/gateway/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway.service",
	fx.Provide(service.NewService),
)
