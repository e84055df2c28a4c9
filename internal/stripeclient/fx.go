package stripeclient

import (
	"github.com/smallbiznis/backoffice/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("stripeclient",
	fx.Provide(New),
	fx.Provide(func(cfg config.Config) (*WebhookParser, error) {
		return NewWebhookParser(cfg.StripeWebhookSecret)
	}),
)
