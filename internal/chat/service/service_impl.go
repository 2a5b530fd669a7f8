package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	chatdomain "github.com/atelierhq/atelier/internal/chat/domain"
	"github.com/atelierhq/atelier/internal/config"
	creditdomain "github.com/atelierhq/atelier/internal/credit/domain"
	pricingdomain "github.com/atelierhq/atelier/internal/pricing/domain"
)

// Provider tag used for chat pricing and usage attribution.
const chatProvider = "openai"

type Params struct {
	fx.In

	Cfg       config.Config
	Log       *zap.Logger
	Credit    creditdomain.Service
	Pricing   pricingdomain.Service
	Completer chatdomain.Completer
}

// Service runs the estimate-then-reconcile flow: allowance is checked
// against a pre-stream estimate, the stream runs synchronously, and the
// charge is computed from the usage the provider actually reported. Nothing
// is reserved during the stream; a concurrent spender can make the final
// charge fail even though the response already streamed. That race is
// accepted.
type Service struct {
	cfg       config.ChatConfig
	log       *zap.Logger
	credit    creditdomain.Service
	pricing   pricingdomain.Service
	completer chatdomain.Completer
}

func NewService(p Params) chatdomain.Service {
	return &Service{
		cfg:       p.Cfg.Chat,
		log:       p.Log.Named("chat.service"),
		credit:    p.Credit,
		pricing:   p.Pricing,
		completer: p.Completer,
	}
}

func (s *Service) StreamCompletion(ctx context.Context, req chatdomain.StreamRequest) (*chatdomain.StreamResult, error) {
	if req.UserID == 0 || len(req.Messages) == 0 || req.Sink == nil {
		return nil, chatdomain.ErrInvalidRequest
	}
	if s.completer == nil {
		return nil, chatdomain.ErrNoCompleter
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.cfg.Model
	}

	unitPrice, err := s.pricing.Resolve(ctx, chatProvider, model)
	if err != nil {
		return nil, err
	}

	estimatedTokens := chatdomain.EstimateTokens(req.Messages)
	estimatedCredits := chatdomain.CreditsForTokens(estimatedTokens, unitPrice)

	allowance, err := s.credit.EnsureAllowance(ctx, creditdomain.EnsureAllowanceRequest{
		UserID:          req.UserID,
		OrgID:           req.OrgID,
		RequiredCredits: estimatedCredits,
	})
	if err != nil {
		return nil, err
	}

	usage, streamErr := s.completer.Complete(ctx, chatdomain.CompletionRequest{
		Model:    model,
		Messages: req.Messages,
	}, req.Sink)

	cancelled := errors.Is(streamErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)
	if streamErr != nil && !cancelled {
		return nil, streamErr
	}

	var credits int64
	switch {
	case usage != nil && usage.TotalTokens > 0:
		credits = chatdomain.CreditsForTokens(usage.TotalTokens, unitPrice)
	case cancelled:
		// Only usage actually attributed before cancellation is charged.
		credits = 0
	default:
		credits = estimatedCredits
	}

	charge := creditdomain.ChargeRequest{
		UserID:  req.UserID,
		OrgID:   allowance.Credit.OrgID,
		Credits: credits,
		Usage: creditdomain.ChargeUsage{
			UsageType: creditdomain.UsageTypeText,
			Model:     model,
			Provider:  chatProvider,
			Metadata:  map[string]any{"estimated_tokens": estimatedTokens},
		},
		Reason:         creditdomain.ReasonUsage,
		IdempotencyKey: "chat-" + uuid.NewString(),
		Context:        allowance,
	}
	if usage != nil {
		charge.Usage.PromptTokens = usage.PromptTokens
		charge.Usage.CompletionTokens = usage.CompletionTokens
		charge.Usage.TotalTokens = usage.TotalTokens
	}

	// The stream's cancellation must not abort the ledger write.
	result, err := s.credit.Charge(context.WithoutCancel(ctx), charge)
	if err != nil {
		// The response already streamed; the ledger write still failed, so
		// the caller has to see the error.
		s.log.Error("post-stream charge failed",
			zap.Int64("org_id", int64(allowance.Credit.OrgID)),
			zap.Int64("credits", credits),
			zap.Error(err),
		)
		return nil, err
	}

	return &chatdomain.StreamResult{
		Usage:            usage,
		EstimatedCredits: estimatedCredits,
		ChargedCredits:   result.Usage.CreditCost,
		Cancelled:        cancelled,
	}, nil
}
