package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingEntry maps one (provider, model) pair to its unit price in credits.
type PricingEntry struct {
	Provider       string `mapstructure:"provider"`
	Model          string `mapstructure:"model"`
	CreditsPerUnit int64  `mapstructure:"creditsPerUnit"`
}

// PricingConfig is the fallback unit-price table used when no database
// pricing row exists for a (provider, model) pair.
type PricingConfig struct {
	Entries []PricingEntry `mapstructure:"entries"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Entries: []PricingEntry{
			{Provider: "hunyuan", Model: "hunyuan-3d", CreditsPerUnit: 10},
			{Provider: "tripo", Model: "v2.5-20250123", CreditsPerUnit: 10},
			// Chat is priced per thousand tokens.
			{Provider: "openai", Model: "gpt-4o-mini", CreditsPerUnit: 1},
		},
	}
}

// PricingHolder exposes the current pricing table and hot-reloads it when
// the config file changes on disk.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/atelier/config") // Volume-mounted config
	v.AddConfigPath("/etc/atelier")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("ATELIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultPricingConfig()
		v.SetDefault("pricing.entries", defaults.Entries)
	}

	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// Lookup returns the configured unit price for a (provider, model) pair.
func (h *PricingHolder) Lookup(provider, model string) (int64, bool) {
	cfg := h.Get()
	for _, entry := range cfg.Entries {
		if strings.EqualFold(entry.Provider, provider) && strings.EqualFold(entry.Model, model) {
			return entry.CreditsPerUnit, true
		}
	}
	return 0, false
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.Entries) == 0 {
		return errors.New("pricing.entries cannot be empty")
	}
	for _, entry := range cfg.Entries {
		if entry.CreditsPerUnit < 0 {
			return errors.New("pricing.entries creditsPerUnit cannot be negative")
		}
	}
	return nil
}
