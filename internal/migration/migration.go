// Package migration creates the schema on startup so the service is usable
// out of the box for local and self-hosted environments.
package migration

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	creditdomain "github.com/atelierhq/atelier/internal/credit/domain"
	gendomain "github.com/atelierhq/atelier/internal/generation/domain"
	orgdomain "github.com/atelierhq/atelier/internal/organization/domain"
	pricingdomain "github.com/atelierhq/atelier/internal/pricing/domain"
	"github.com/atelierhq/atelier/internal/storage"
)

func Run(db *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")

	if err := db.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&creditdomain.OrganizationCredit{},
		&creditdomain.MemberQuota{},
		&creditdomain.UsageRecord{},
		&creditdomain.CreditTransaction{},
		&pricingdomain.ModelPricing{},
		&gendomain.GenerationBatch{},
		&gendomain.Generation{},
		&gendomain.AsyncTask{},
		&storage.StorageObject{},
	); err != nil {
		return err
	}

	log.Info("schema migrated")
	return nil
}
