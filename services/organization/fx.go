package organization

import "go.uber.org/fx"

var Module = fx.Module("organization.service",
	fx.Provide(NewService, NewHandler),
	fx.Invoke(RegisterRoutes),
)
