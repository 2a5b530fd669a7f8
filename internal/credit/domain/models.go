// Package domain contains persistence models for the credit ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageType classifies what kind of paid operation produced a usage record.
type UsageType string

const (
	UsageTypeText   UsageType = "text"
	UsageTypeImage  UsageType = "image"
	UsageTypeThreeD UsageType = "threeD"
	UsageTypeAudio  UsageType = "audio"
	UsageTypeOther  UsageType = "other"
)

// Transaction reasons.
const (
	ReasonUsage      = "usage"
	ReasonRecharge   = "recharge"
	ReasonAdjustment = "adjustment"
)

// OrganizationCredit holds the spendable balance for one organization.
// The balance is mutated only through signed deltas recorded as
// CreditTransaction rows.
type OrganizationCredit struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;uniqueIndex:ux_organization_credits_org" json:"org_id"`
	Balance   int64        `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (OrganizationCredit) TableName() string { return "organization_credits" }

// MemberQuota tracks per-member spending inside an organization.
// A nil QuotaLimit means unlimited.
type MemberQuota struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;index;uniqueIndex:ux_member_quotas_org_user,priority:1" json:"org_id"`
	UserID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_member_quotas_org_user,priority:2" json:"user_id"`
	QuotaLimit *int64       `gorm:"column:quota_limit" json:"quota_limit"`
	Used       int64        `gorm:"not null;default:0" json:"used"`
	Period     string       `gorm:"type:text;not null;default:'monthly'" json:"period"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (MemberQuota) TableName() string { return "member_quotas" }

// UsageRecord is the append-only audit row written once per successful charge.
type UsageRecord struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID      `gorm:"not null;index" json:"org_id"`
	UserID           *snowflake.ID     `gorm:"index" json:"user_id"` // nil = system-attributed
	UsageType        UsageType         `gorm:"type:text;not null" json:"usage_type"`
	Model            string            `gorm:"type:text;not null" json:"model"`
	Provider         string            `gorm:"type:text;not null" json:"provider"`
	PromptTokens     int64             `json:"prompt_tokens"`
	CompletionTokens int64             `json:"completion_tokens"`
	TotalTokens      int64             `json:"total_tokens"`
	Count            int64             `json:"count"`
	CreditCost       int64             `gorm:"not null" json:"credit_cost"`
	IdempotencyKey   *string           `gorm:"type:text;uniqueIndex:ux_usage_records_idem" json:"idempotency_key,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// CreditTransaction is the append-only balance-delta ledger entry.
// Summing Delta in creation order reproduces the organization balance and
// every BalanceAfter snapshot.
type CreditTransaction struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID  `gorm:"not null;index" json:"org_id"`
	UserID       *snowflake.ID `json:"user_id"` // operator or consumer
	UsageID      *snowflake.ID `gorm:"index" json:"usage_id"` // nil for manual adjustments
	Delta        int64         `gorm:"not null" json:"delta"`
	BalanceAfter int64         `gorm:"not null" json:"balance_after"`
	Reason       string        `gorm:"type:text;not null" json:"reason"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }
