package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"

	"github.com/atelierhq/atelier/pkg/db/pagination"
)

// EnsureAllowanceRequest is the pre-flight allowance check input. OrgID is
// optional; when zero it resolves from the user's membership.
type EnsureAllowanceRequest struct {
	UserID          snowflake.ID
	OrgID           snowflake.ID
	RequiredCredits int64
}

// AllowanceContext is a snapshot of the credit rows at check time. Charge may
// reuse it as a starting point but always re-validates inside its own
// transaction.
type AllowanceContext struct {
	Credit OrganizationCredit
	Quota  MemberQuota
}

// ChargeUsage is the typed usage payload recorded alongside a charge.
type ChargeUsage struct {
	UsageType        UsageType
	Model            string
	Provider         string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Count            int64
	Metadata         map[string]any
}

// ChargeRequest debits an organization and a member quota atomically.
type ChargeRequest struct {
	UserID         snowflake.ID
	OrgID          snowflake.ID // optional, resolved from membership when zero
	Credits        int64
	Usage          ChargeUsage
	Reason         string
	IdempotencyKey string
	Context        *AllowanceContext // optional snapshot from EnsureAllowance
}

// ChargeResult reports the ledger rows written by a charge.
type ChargeResult struct {
	Usage        UsageRecord
	Transaction  CreditTransaction
	BalanceAfter int64
	QuotaUsed    int64
}

// RechargeRequest adds (or removes, with a negative delta) credits.
type RechargeRequest struct {
	OrgID      snowflake.ID
	OperatorID snowflake.ID
	Delta      int64
	Reason     string
}

// Service owns every mutation of organization balance and member quota.
type Service interface {
	EnsureAllowance(ctx context.Context, req EnsureAllowanceRequest) (*AllowanceContext, error)
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)

	Recharge(ctx context.Context, req RechargeRequest) (*CreditTransaction, error)
	SetBalance(ctx context.Context, orgID, operatorID snowflake.ID, balance int64) (*CreditTransaction, error)
	SetQuotaLimit(ctx context.Context, orgID, userID snowflake.ID, limit *int64) error
	ResetUsage(ctx context.Context, orgID, userID snowflake.ID) error

	GetOrganizationCredit(ctx context.Context, orgID snowflake.ID) (*OrganizationCredit, error)
	ListTransactions(ctx context.Context, orgID snowflake.ID, limit int) ([]CreditTransaction, error)
	ListUsage(ctx context.Context, orgID snowflake.ID, page pagination.Pagination) ([]UsageRecord, *pagination.PageInfo, error)
}
