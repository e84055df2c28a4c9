package creditledger

import (
	"github.com/smallbiznis/backoffice/internal/creditledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditledger.service",
	fx.Provide(service.NewService),
)
