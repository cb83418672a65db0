package migration

import (
	"github.com/smallcraft/commerce-core/internal/config"
	orderdomain "github.com/smallcraft/commerce-core/internal/order/domain"
	subscriptiondomain "github.com/smallcraft/commerce-core/internal/subscription/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// mysql and sqlite deployments rely on gorm's schema derivation.
		return AutoMigrate(conn)
	}),
)

// AutoMigrate derives the schema from the models. Used for non-postgres
// databases and in tests.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&orderdomain.Order{},
		&orderdomain.OrderItem{},
		&subscriptiondomain.Plan{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Invoice{},
		&subscriptiondomain.SubscriptionAddOn{},
	)
}
