package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/atelierhq/atelier/internal/credit/domain"
	orgdomain "github.com/atelierhq/atelier/internal/organization/domain"
	"github.com/atelierhq/atelier/pkg/db"
	"github.com/atelierhq/atelier/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("credit.service"),
		genID: p.GenID,
	}
}

func (s *Service) EnsureAllowance(ctx context.Context, req creditdomain.EnsureAllowanceRequest) (*creditdomain.AllowanceContext, error) {
	if req.UserID == 0 {
		return nil, creditdomain.ErrInvalidUser
	}
	if req.RequiredCredits < 0 {
		return nil, creditdomain.ErrInvalidCredits
	}

	orgID, err := s.resolveOrgID(ctx, s.db, req.UserID, req.OrgID)
	if err != nil {
		return nil, err
	}

	credit, err := s.ensureOrganizationCredit(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	quota, err := s.ensureMemberQuota(ctx, s.db, orgID, req.UserID)
	if err != nil {
		return nil, err
	}

	if req.RequiredCredits > 0 && credit.Balance < req.RequiredCredits {
		return nil, creditdomain.ErrInsufficientCredit
	}
	if quota.QuotaLimit != nil && quota.Used+req.RequiredCredits > *quota.QuotaLimit {
		return nil, creditdomain.ErrQuotaExceeded
	}

	return &creditdomain.AllowanceContext{Credit: *credit, Quota: *quota}, nil
}

func (s *Service) Charge(ctx context.Context, req creditdomain.ChargeRequest) (*creditdomain.ChargeResult, error) {
	if req.UserID == 0 {
		return nil, creditdomain.ErrInvalidUser
	}
	if req.Credits < 0 {
		return nil, creditdomain.ErrInvalidCredits
	}

	orgID, err := s.resolveOrgID(ctx, s.db, req.UserID, req.OrgID)
	if err != nil {
		return nil, err
	}

	// Retries with the same key return the original ledger pair untouched.
	if req.IdempotencyKey != "" {
		existing, err := s.findChargeByIdempotencyKey(ctx, orgID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	reason := req.Reason
	if reason == "" {
		reason = creditdomain.ReasonUsage
	}

	var result creditdomain.ChargeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureOrganizationCredit(ctx, tx, orgID); err != nil {
			return err
		}
		if _, err := s.ensureMemberQuota(ctx, tx, orgID, req.UserID); err != nil {
			return err
		}

		now := time.Now().UTC()

		// The allowance snapshot may be stale by now, so sufficiency is
		// re-checked inside the UPDATE itself: a guarded write cannot
		// overdraw no matter how many spenders race.
		if req.Credits > 0 {
			debit := tx.Model(&creditdomain.OrganizationCredit{}).
				Where("org_id = ? AND balance >= ?", orgID, req.Credits).
				Updates(map[string]any{
					"balance":    gorm.Expr("balance - ?", req.Credits),
					"updated_at": now,
				})
			if debit.Error != nil {
				return debit.Error
			}
			if debit.RowsAffected == 0 {
				return creditdomain.ErrInsufficientCredit
			}

			use := tx.Model(&creditdomain.MemberQuota{}).
				Where("org_id = ? AND user_id = ? AND (quota_limit IS NULL OR used + ? <= quota_limit)",
					orgID, req.UserID, req.Credits).
				Updates(map[string]any{
					"used":       gorm.Expr("used + ?", req.Credits),
					"updated_at": now,
				})
			if use.Error != nil {
				return use.Error
			}
			if use.RowsAffected == 0 {
				return creditdomain.ErrQuotaExceeded
			}
		}

		var credit creditdomain.OrganizationCredit
		if err := tx.Where("org_id = ?", orgID).First(&credit).Error; err != nil {
			return err
		}
		var quota creditdomain.MemberQuota
		if err := tx.Where("org_id = ? AND user_id = ?", orgID, req.UserID).First(&quota).Error; err != nil {
			return err
		}
		balanceAfter := credit.Balance

		userID := req.UserID
		usage := creditdomain.UsageRecord{
			ID:               s.genID.Generate(),
			OrgID:            orgID,
			UserID:           &userID,
			UsageType:        req.Usage.UsageType,
			Model:            req.Usage.Model,
			Provider:         req.Usage.Provider,
			PromptTokens:     req.Usage.PromptTokens,
			CompletionTokens: req.Usage.CompletionTokens,
			TotalTokens:      req.Usage.TotalTokens,
			Count:            req.Usage.Count,
			CreditCost:       req.Credits,
			CreatedAt:        now,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			usage.IdempotencyKey = &key
		}
		if req.Usage.Metadata != nil {
			usage.Metadata = datatypes.JSONMap(req.Usage.Metadata)
		}
		if err := tx.Create(&usage).Error; err != nil {
			return err
		}

		usageID := usage.ID
		txn := creditdomain.CreditTransaction{
			ID:           s.genID.Generate(),
			OrgID:        orgID,
			UserID:       &userID,
			UsageID:      &usageID,
			Delta:        -req.Credits,
			BalanceAfter: balanceAfter,
			Reason:       reason,
			CreatedAt:    now,
		}
		if err := tx.Create(&txn).Error; err != nil {
			return err
		}

		result = creditdomain.ChargeResult{
			Usage:        usage,
			Transaction:  txn,
			BalanceAfter: balanceAfter,
			QuotaUsed:    quota.Used,
		}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) && req.IdempotencyKey != "" {
			existing, findErr := s.findChargeByIdempotencyKey(ctx, orgID, req.IdempotencyKey)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.log.Info("credits charged",
		zap.String("org_id", orgID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.Int64("credits", req.Credits),
		zap.Int64("balance_after", result.BalanceAfter),
	)
	return &result, nil
}

func (s *Service) Recharge(ctx context.Context, req creditdomain.RechargeRequest) (*creditdomain.CreditTransaction, error) {
	if req.OrgID == 0 {
		return nil, creditdomain.ErrUserOrganizationRequired
	}

	reason := req.Reason
	if reason == "" {
		reason = creditdomain.ReasonRecharge
	}

	var txn creditdomain.CreditTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ensureOrganizationCredit(ctx, tx, req.OrgID); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&creditdomain.OrganizationCredit{}).
			Where("org_id = ?", req.OrgID).
			Updates(map[string]any{
				"balance":    gorm.Expr("balance + ?", req.Delta),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		var credit creditdomain.OrganizationCredit
		if err := tx.Where("org_id = ?", req.OrgID).First(&credit).Error; err != nil {
			return err
		}

		txn = creditdomain.CreditTransaction{
			ID:           s.genID.Generate(),
			OrgID:        req.OrgID,
			Delta:        req.Delta,
			BalanceAfter: credit.Balance,
			Reason:       reason,
			CreatedAt:    now,
		}
		if req.OperatorID != 0 {
			operator := req.OperatorID
			txn.UserID = &operator
		}
		return tx.Create(&txn).Error
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// SetBalance is expressed as a recharge of (target - current) so that every
// balance change stays visible as a signed delta in the transaction log.
func (s *Service) SetBalance(ctx context.Context, orgID, operatorID snowflake.ID, balance int64) (*creditdomain.CreditTransaction, error) {
	if orgID == 0 {
		return nil, creditdomain.ErrUserOrganizationRequired
	}
	credit, err := s.ensureOrganizationCredit(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	return s.Recharge(ctx, creditdomain.RechargeRequest{
		OrgID:      orgID,
		OperatorID: operatorID,
		Delta:      balance - credit.Balance,
		Reason:     creditdomain.ReasonAdjustment,
	})
}

func (s *Service) SetQuotaLimit(ctx context.Context, orgID, userID snowflake.ID, limit *int64) error {
	if orgID == 0 {
		return creditdomain.ErrUserOrganizationRequired
	}
	if userID == 0 {
		return creditdomain.ErrInvalidUser
	}
	if _, err := s.ensureMemberQuota(ctx, s.db, orgID, userID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&creditdomain.MemberQuota{}).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		Updates(map[string]any{"quota_limit": limit, "updated_at": time.Now().UTC()}).Error
}

func (s *Service) ResetUsage(ctx context.Context, orgID, userID snowflake.ID) error {
	if orgID == 0 {
		return creditdomain.ErrUserOrganizationRequired
	}
	if userID == 0 {
		return creditdomain.ErrInvalidUser
	}
	if _, err := s.ensureMemberQuota(ctx, s.db, orgID, userID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&creditdomain.MemberQuota{}).
		Where("org_id = ? AND user_id = ?", orgID, userID).
		Updates(map[string]any{"used": 0, "updated_at": time.Now().UTC()}).Error
}

func (s *Service) GetOrganizationCredit(ctx context.Context, orgID snowflake.ID) (*creditdomain.OrganizationCredit, error) {
	if orgID == 0 {
		return nil, creditdomain.ErrUserOrganizationRequired
	}
	return s.ensureOrganizationCredit(ctx, s.db, orgID)
}

func (s *Service) ListTransactions(ctx context.Context, orgID snowflake.ID, limit int) ([]creditdomain.CreditTransaction, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	var txns []creditdomain.CreditTransaction
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (s *Service) ListUsage(ctx context.Context, orgID snowflake.ID, page pagination.Pagination) ([]creditdomain.UsageRecord, *pagination.PageInfo, error) {
	if orgID == 0 {
		return nil, nil, creditdomain.ErrUserOrganizationRequired
	}

	pageSize := page.PageSize
	if pageSize <= 0 || pageSize > 250 {
		pageSize = 50
	}

	query := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at DESC, id DESC").
		Limit(pageSize + 1)

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, nil, creditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, nil, creditdomain.ErrInvalidPageToken
		}
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, nil, creditdomain.ErrInvalidPageToken
		}
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, cursorID)
	}

	var items []*creditdomain.UsageRecord
	if err := query.Find(&items).Error; err != nil {
		return nil, nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(record *creditdomain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			// Nanosecond precision so bursts landing in the same second
			// do not straddle a page boundary.
			CreatedAt: record.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	records := make([]creditdomain.UsageRecord, 0, len(items))
	for _, item := range items {
		records = append(records, *item)
	}
	return records, pageInfo, nil
}

func (s *Service) resolveOrgID(ctx context.Context, tx *gorm.DB, userID, orgID snowflake.ID) (snowflake.ID, error) {
	if orgID != 0 {
		return orgID, nil
	}
	var member orgdomain.OrganizationMember
	err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, creditdomain.ErrUserOrganizationRequired
		}
		return 0, err
	}
	return member.OrgID, nil
}

// ensureOrganizationCredit reads or lazily creates the balance row. The
// create races benignly: ON CONFLICT DO NOTHING plus a re-read keeps the
// operation idempotent.
func (s *Service) ensureOrganizationCredit(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (*creditdomain.OrganizationCredit, error) {
	now := time.Now().UTC()
	row := creditdomain.OrganizationCredit{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Balance:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "org_id"}}, DoNothing: true}).
		Create(&row).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	var credit creditdomain.OrganizationCredit
	if err := tx.WithContext(ctx).Where("org_id = ?", orgID).First(&credit).Error; err != nil {
		return nil, err
	}
	return &credit, nil
}

func (s *Service) ensureMemberQuota(ctx context.Context, tx *gorm.DB, orgID, userID snowflake.ID) (*creditdomain.MemberQuota, error) {
	now := time.Now().UTC()
	row := creditdomain.MemberQuota{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		UserID:    userID,
		Used:      0,
		Period:    "monthly",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&row).Error; err != nil && !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	var quota creditdomain.MemberQuota
	if err := tx.WithContext(ctx).Where("org_id = ? AND user_id = ?", orgID, userID).First(&quota).Error; err != nil {
		return nil, err
	}
	return &quota, nil
}

func (s *Service) findChargeByIdempotencyKey(ctx context.Context, orgID snowflake.ID, key string) (*creditdomain.ChargeResult, error) {
	var usage creditdomain.UsageRecord
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var txn creditdomain.CreditTransaction
	if err := s.db.WithContext(ctx).Where("usage_id = ?", usage.ID).First(&txn).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return &creditdomain.ChargeResult{
		Usage:        usage,
		Transaction:  txn,
		BalanceAfter: txn.BalanceAfter,
	}, nil
}
