package ledger

import (
	"github.com/smallcraft/commerce-core/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
)
