package service

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	chatdomain "github.com/atelierhq/atelier/internal/chat/domain"
	"github.com/atelierhq/atelier/internal/config"
	creditdomain "github.com/atelierhq/atelier/internal/credit/domain"
	creditservice "github.com/atelierhq/atelier/internal/credit/service"
	orgdomain "github.com/atelierhq/atelier/internal/organization/domain"
	pricingdomain "github.com/atelierhq/atelier/internal/pricing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixedPricing struct {
	unit int64
}

func (p fixedPricing) Resolve(context.Context, string, string) (int64, error) { return p.unit, nil }

func (p fixedPricing) Upsert(context.Context, pricingdomain.ModelPricing) (*pricingdomain.ModelPricing, error) {
	return nil, nil
}

func (p fixedPricing) List(context.Context) ([]pricingdomain.ModelPricing, error) { return nil, nil }

type stubCompleter struct {
	chunks []string
	usage  *chatdomain.Usage
	err    error
	called bool
}

func (c *stubCompleter) Complete(_ context.Context, _ chatdomain.CompletionRequest, sink chatdomain.Sink) (*chatdomain.Usage, error) {
	c.called = true
	for _, chunk := range c.chunks {
		if err := sink(chunk); err != nil {
			return c.usage, err
		}
	}
	return c.usage, c.err
}

type chatEnv struct {
	svc    chatdomain.Service
	credit creditdomain.Service
	node   *snowflake.Node
	stub   *stubCompleter
}

func newChatEnv(t *testing.T, unitPrice int64, stub *stubCompleter) *chatEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&creditdomain.OrganizationCredit{},
		&creditdomain.MemberQuota{},
		&creditdomain.UsageRecord{},
		&creditdomain.CreditTransaction{},
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	log := zap.NewNop()
	credit := creditservice.NewService(creditservice.Params{DB: db, Log: log, GenID: node})

	svc := NewService(Params{
		Cfg:       config.Config{Chat: config.ChatConfig{Model: "gpt-4o-mini"}},
		Log:       log,
		Credit:    credit,
		Pricing:   fixedPricing{unit: unitPrice},
		Completer: stub,
	})

	return &chatEnv{svc: svc, credit: credit, node: node, stub: stub}
}

func (e *chatEnv) seedBalance(t *testing.T, orgID snowflake.ID, balance int64) {
	t.Helper()
	_, err := e.credit.Recharge(context.Background(), creditdomain.RechargeRequest{OrgID: orgID, Delta: balance})
	require.NoError(t, err)
}

func (e *chatEnv) balance(t *testing.T, orgID snowflake.ID) int64 {
	t.Helper()
	credit, err := e.credit.GetOrganizationCredit(context.Background(), orgID)
	require.NoError(t, err)
	return credit.Balance
}

func TestStreamCompletion_ChargesActualUsage(t *testing.T) {
	stub := &stubCompleter{
		chunks: []string{"Hello, ", "teapot."},
		usage:  &chatdomain.Usage{PromptTokens: 500, CompletionTokens: 1000, TotalTokens: 1500},
	}
	env := newChatEnv(t, 2, stub)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	env.seedBalance(t, orgID, 100)

	var streamed strings.Builder
	result, err := env.svc.StreamCompletion(context.Background(), chatdomain.StreamRequest{
		UserID:   userID,
		OrgID:    orgID,
		Messages: []chatdomain.Message{{Role: "user", Content: "Draw me a teapot"}},
		Sink:     func(chunk string) error { streamed.WriteString(chunk); return nil },
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, teapot.", streamed.String())
	// 1500 tokens at 2 credits per thousand.
	assert.Equal(t, int64(3), result.ChargedCredits)
	assert.Equal(t, int64(97), env.balance(t, orgID))
	assert.False(t, result.Cancelled)
}

func TestStreamCompletion_FallsBackToEstimate(t *testing.T) {
	stub := &stubCompleter{chunks: []string{"ok"}}
	env := newChatEnv(t, 1000, stub)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	env.seedBalance(t, orgID, 1000)

	content := strings.Repeat("x", 40) // 10 tokens + 4 overhead + 3 base = 17
	result, err := env.svc.StreamCompletion(context.Background(), chatdomain.StreamRequest{
		UserID:   userID,
		OrgID:    orgID,
		Messages: []chatdomain.Message{{Role: "user", Content: content}},
		Sink:     func(string) error { return nil },
	})
	require.NoError(t, err)

	assert.Equal(t, result.EstimatedCredits, result.ChargedCredits,
		"a stream without usage data is charged at the pre-stream estimate")
	assert.Equal(t, int64(17), result.ChargedCredits)
	assert.Equal(t, int64(1000-17), env.balance(t, orgID))
}

func TestStreamCompletion_CancelledChargesZero(t *testing.T) {
	stub := &stubCompleter{err: context.Canceled}
	env := newChatEnv(t, 5, stub)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	env.seedBalance(t, orgID, 100)

	result, err := env.svc.StreamCompletion(context.Background(), chatdomain.StreamRequest{
		UserID:   userID,
		OrgID:    orgID,
		Messages: []chatdomain.Message{{Role: "user", Content: "a very long prompt that was cancelled"}},
		Sink:     func(string) error { return nil },
	})
	require.NoError(t, err)

	assert.True(t, result.Cancelled)
	assert.Zero(t, result.ChargedCredits)
	assert.Equal(t, int64(100), env.balance(t, orgID))

	// The zero-credit charge still leaves an audit pair.
	transactions, listErr := env.credit.ListTransactions(context.Background(), orgID, 10)
	require.NoError(t, listErr)
	require.Len(t, transactions, 2) // recharge + zero-credit usage
	assert.Zero(t, transactions[0].Delta)
}

func TestStreamCompletion_InsufficientBalanceBeforeStream(t *testing.T) {
	stub := &stubCompleter{usage: &chatdomain.Usage{TotalTokens: 10}}
	env := newChatEnv(t, 1000, stub)
	orgID := env.node.Generate()
	userID := env.node.Generate()
	env.seedBalance(t, orgID, 1)

	_, err := env.svc.StreamCompletion(context.Background(), chatdomain.StreamRequest{
		UserID:   userID,
		OrgID:    orgID,
		Messages: []chatdomain.Message{{Role: "user", Content: strings.Repeat("x", 400)}},
		Sink:     func(string) error { return nil },
	})
	require.ErrorIs(t, err, creditdomain.ErrInsufficientCredit)
	assert.False(t, stub.called, "the model is never called when the allowance check fails")
}

func TestStreamCompletion_InvalidRequest(t *testing.T) {
	env := newChatEnv(t, 1, &stubCompleter{})

	_, err := env.svc.StreamCompletion(context.Background(), chatdomain.StreamRequest{
		UserID: env.node.Generate(),
	})
	require.ErrorIs(t, err, chatdomain.ErrInvalidRequest)
}
