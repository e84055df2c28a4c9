package sync

import (
	"github.com/smallbiznis/backoffice/internal/sync/inflight"
	"go.uber.org/fx"
)

var Module = fx.Module("sync.engine",
	fx.Provide(inflight.NewTracker),
	fx.Provide(NewEngine),
)
