package main

import (
	"hash/fnv"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/backoffice/internal/audit"
	"github.com/smallbiznis/backoffice/internal/clock"
	"github.com/smallbiznis/backoffice/internal/config"
	"github.com/smallbiznis/backoffice/internal/creditledger"
	"github.com/smallbiznis/backoffice/internal/logger"
	"github.com/smallbiznis/backoffice/internal/migration"
	"github.com/smallbiznis/backoffice/internal/observability"
	"github.com/smallbiznis/backoffice/internal/organization"
	"github.com/smallbiznis/backoffice/internal/server"
	"github.com/smallbiznis/backoffice/internal/stripeclient"
	syncengine "github.com/smallbiznis/backoffice/internal/sync"
	"github.com/smallbiznis/backoffice/internal/subscription"
	"github.com/smallbiznis/backoffice/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		audit.Module,
		stripeclient.Module,
		creditledger.Module,
		subscription.Module,
		organization.Module,
		syncengine.Module,

		server.Module,
	)
	app.Run()
}

// RegisterSnowflake builds the process-wide ID generator. The node number is
// derived from the hostname so replicas don't collide.
func RegisterSnowflake() (*snowflake.Node, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "backoffice"
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(hostname))
	return snowflake.NewNode(int64(h.Sum32() % 1024))
}
