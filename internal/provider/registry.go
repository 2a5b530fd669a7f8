package provider

import (
	"strings"

	"github.com/atelierhq/atelier/internal/config"
	providerdomain "github.com/atelierhq/atelier/internal/provider/domain"
	"github.com/atelierhq/atelier/internal/provider/hunyuan"
	"github.com/atelierhq/atelier/internal/provider/tripo"
	"go.uber.org/zap"
)

// Registry holds one constructed caller per configured provider. Providers
// without credentials are skipped at startup, not at first call.
type Registry struct {
	callers map[string]providerdomain.JobCaller
}

func NewRegistry(cfg config.Config, log *zap.Logger) *Registry {
	registry := &Registry{callers: map[string]providerdomain.JobCaller{}}
	log = log.Named("provider.registry")

	if caller, err := hunyuan.NewCaller(cfg.Provider); err != nil {
		log.Warn("hunyuan caller unavailable", zap.Error(err))
	} else {
		registry.register(caller)
	}
	if caller, err := tripo.NewCaller(cfg.Provider); err != nil {
		log.Warn("tripo caller unavailable", zap.Error(err))
	} else {
		registry.register(caller)
	}

	return registry
}

func (r *Registry) register(caller providerdomain.JobCaller) {
	name := strings.ToLower(strings.TrimSpace(caller.Provider()))
	if name == "" {
		return
	}
	r.callers[name] = caller
}

func (r *Registry) Caller(providerName string) (providerdomain.JobCaller, error) {
	if r == nil {
		return nil, providerdomain.ErrProviderNotFound
	}
	caller, ok := r.callers[strings.ToLower(strings.TrimSpace(providerName))]
	if !ok {
		return nil, providerdomain.ErrProviderNotFound
	}
	return caller, nil
}
