package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SyncConfig tunes the Stripe reconciliation engine.
type SyncConfig struct {
	// PageSize is the Stripe list page size for subscriptions and invoices.
	PageSize int `mapstructure:"pageSize"`
	// LookbackSlack is subtracted from the last sync point (seconds) so that
	// invoices finalized around the previous run are never missed. Overlap is
	// harmless: credit application is idempotent.
	LookbackSlack int `mapstructure:"lookbackSlack"`
	// CreditsMetadataKey names the invoice metadata key carrying the credit amount.
	CreditsMetadataKey string `mapstructure:"creditsMetadataKey"`
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PageSize:           50,
		LookbackSlack:      3600,
		CreditsMetadataKey: "credits",
	}
}

// SyncConfigHolder exposes the current sync config and hot-reloads it on change.
type SyncConfigHolder struct {
	current atomic.Value // holds SyncConfig
}

func NewSyncConfigHolder() (*SyncConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("sync")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/backoffice/config")
	v.AddConfigPath("/etc/backoffice")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BACKOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSyncConfig()
	v.SetDefault("sync.pageSize", defaults.PageSize)
	v.SetDefault("sync.lookbackSlack", defaults.LookbackSlack)
	v.SetDefault("sync.creditsMetadataKey", defaults.CreditsMetadataKey)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg SyncConfig
	if err := v.UnmarshalKey("sync", &cfg); err != nil {
		return nil, err
	}
	if err := validateSyncConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SyncConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated SyncConfig
		if err := v.UnmarshalKey("sync", &updated); err != nil {
			log.Printf("[sync-config] reload failed: %v", err)
			return
		}
		if err := validateSyncConfig(updated); err != nil {
			log.Printf("[sync-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[sync-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticSyncConfigHolder wraps a fixed config with no file watching.
func NewStaticSyncConfigHolder(cfg SyncConfig) (*SyncConfigHolder, error) {
	if err := validateSyncConfig(cfg); err != nil {
		return nil, err
	}
	holder := &SyncConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func (h *SyncConfigHolder) Get() SyncConfig {
	return h.current.Load().(SyncConfig)
}

func validateSyncConfig(cfg SyncConfig) error {
	if cfg.PageSize < 1 || cfg.PageSize > 100 {
		return errors.New("sync.pageSize must be between 1 and 100")
	}
	if cfg.LookbackSlack < 0 {
		return errors.New("sync.lookbackSlack cannot be negative")
	}
	if strings.TrimSpace(cfg.CreditsMetadataKey) == "" {
		return errors.New("sync.creditsMetadataKey cannot be empty")
	}
	return nil
}
