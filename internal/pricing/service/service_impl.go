package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/atelierhq/atelier/internal/config"
	pricingdomain "github.com/atelierhq/atelier/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const cacheTTL = 5 * time.Minute

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Holder *config.PricingHolder
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	holder *config.PricingHolder

	mu        sync.RWMutex
	cache     map[string]int64
	cacheTime time.Time
}

func NewService(p Params) pricingdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("pricing.service"),
		genID:  p.GenID,
		holder: p.Holder,
		cache:  map[string]int64{},
	}
}

// Resolve looks up the unit price for a (provider, model) pair. Database rows
// win; the file-backed pricing table is the fallback for models that have not
// been priced explicitly.
func (s *Service) Resolve(ctx context.Context, provider, model string) (int64, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return 0, pricingdomain.ErrPriceNotFound
	}

	key := provider + "/" + model
	if price, ok := s.cached(key); ok {
		return price, nil
	}

	var row pricingdomain.ModelPricing
	err := s.db.WithContext(ctx).
		Where("provider = ? AND model = ? AND is_active = ?", provider, model, true).
		First(&row).Error
	if err == nil {
		s.store(key, row.CreditsPerUnit)
		return row.CreditsPerUnit, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	if s.holder != nil {
		if price, ok := s.holder.Lookup(provider, model); ok {
			s.store(key, price)
			return price, nil
		}
	}
	return 0, pricingdomain.ErrPriceNotFound
}

func (s *Service) Upsert(ctx context.Context, pricing pricingdomain.ModelPricing) (*pricingdomain.ModelPricing, error) {
	pricing.Provider = strings.ToLower(strings.TrimSpace(pricing.Provider))
	pricing.Model = strings.TrimSpace(pricing.Model)
	if pricing.Provider == "" || pricing.Model == "" || pricing.CreditsPerUnit < 0 {
		return nil, pricingdomain.ErrInvalidPrice
	}

	now := time.Now().UTC()
	if pricing.ID == 0 {
		pricing.ID = s.genID.Generate()
		pricing.CreatedAt = now
	}
	pricing.UpdatedAt = now

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "model"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "credits_per_unit", "is_active", "updated_at"}),
		}).
		Create(&pricing).Error
	if err != nil {
		return nil, err
	}

	s.invalidate()
	return &pricing, nil
}

func (s *Service) List(ctx context.Context) ([]pricingdomain.ModelPricing, error) {
	var rows []pricingdomain.ModelPricing
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("provider ASC, model ASC").
		Find(&rows).Error
	return rows, err
}

func (s *Service) cached(key string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if time.Since(s.cacheTime) > cacheTTL {
		return 0, false
	}
	price, ok := s.cache[key]
	return price, ok
}

func (s *Service) store(key string, price int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.cacheTime) > cacheTTL {
		s.cache = map[string]int64{}
		s.cacheTime = time.Now()
	}
	s.cache[key] = price
}

func (s *Service) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = map[string]int64{}
	s.cacheTime = time.Time{}
}
