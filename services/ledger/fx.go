package ledger

import (
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(RegisterRoutes),
)
