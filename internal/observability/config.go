package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/backoffice/internal/config"
)

// Config holds observability configuration derived from environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
}

// LoadConfig derives the observability configuration.
func LoadConfig(appCfg config.Config) Config {
	return Config{
		ServiceName:          appCfg.AppName,
		Environment:          appCfg.Environment,
		Version:              appCfg.AppVersion,
		OtelEnabled:          envBool("OTEL_ENABLED", false),
		OtelExporterEndpoint: strings.TrimSpace(envOr("OTEL_EXPORTER_ENDPOINT", appCfg.OTLPEndpoint)),
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(envOr("OTEL_EXPORTER_PROTOCOL", "grpc"))),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}
