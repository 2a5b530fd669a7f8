package migration

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atelierhq/atelier/internal/config"
	pricingdomain "github.com/atelierhq/atelier/internal/pricing/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger, holder *config.PricingHolder, node *snowflake.Node) error {
		if err := Run(conn, log); err != nil {
			return err
		}
		return seedPricing(conn, holder, node)
	}),
)

// seedPricing inserts the configured default prices for rows that do not
// exist yet. Existing rows win; operators tune prices through the API.
func seedPricing(db *gorm.DB, holder *config.PricingHolder, node *snowflake.Node) error {
	for _, entry := range holder.Get().Entries {
		row := pricingdomain.ModelPricing{
			ID:             node.Generate(),
			Provider:       entry.Provider,
			Model:          entry.Model,
			CreditsPerUnit: entry.CreditsPerUnit,
			IsActive:       true,
		}
		err := db.Where("provider = ? AND model = ?", entry.Provider, entry.Model).
			FirstOrCreate(&row).Error
		if err != nil {
			return err
		}
	}
	return nil
}
