package serverfx

import (
	"go.uber.org/fx"

	"github.com/sydworks/chat-edge/pkg/middleware/auth"
	"github.com/sydworks/chat-edge/pkg/middleware/logger"
	"github.com/sydworks/chat-edge/pkg/middleware/metrics"
	"github.com/sydworks/chat-edge/pkg/token"
	"github.com/sydworks/chat-edge/pkg/transport/httpx"
)

// Module returns a complete Fx option set; add app-specific fx.Invoke(...) alongside.
func Module() fx.Option {
	return fx.Options(
		logger.Module,
		auth.Module,
		token.Module,
		metrics.Module,

		fx.Provide(httpx.NewChi),
		fx.Provide(provideConfig),
		fx.Provide(provideHTTPClient),

		fx.Provide(fx.Annotate(
			provideRouter,
			fx.ParamTags(``, ``, ``, `name:"metrics"`, ``, ``, ``, ``),
			fx.ResultTags(`name:"app"`),
		)),

		fx.Invoke(registerHooks),
	)
}
