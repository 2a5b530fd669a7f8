package chat

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	chatdomain "github.com/atelierhq/atelier/internal/chat/domain"
	"github.com/atelierhq/atelier/internal/chat/openai"
	"github.com/atelierhq/atelier/internal/chat/service"
	"github.com/atelierhq/atelier/internal/config"
)

// Module wires the streaming chat service. Without an API key the app still
// starts; the completer is absent and chat requests fail with a stable error.
var Module = fx.Module("chat.service",
	fx.Provide(newCompleter),
	fx.Provide(service.NewService),
)

func newCompleter(cfg config.Config, log *zap.Logger) chatdomain.Completer {
	completer, err := openai.NewCompleter(cfg.Chat)
	if err != nil {
		log.Named("chat.service").Warn("chat completer disabled", zap.Error(err))
		return nil
	}
	return completer
}
