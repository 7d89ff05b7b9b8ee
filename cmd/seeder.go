package cmd

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Development fixtures: one pending payment plus an active premium grant so
// the confirm and webhook flows have something to converge on locally.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample data for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		if clearData {
			for _, table := range []string{"payments", "user_premium", "user_limits"} {
				if _, err := db.Exec("DELETE FROM " + table); err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		devUserID := "00000000-0000-0000-0000-000000000001"
		pendingProviderID := uuid.NewString()

		if _, err := db.Exec(`
			INSERT INTO payments (user_id, plan_id, provider_payment_id, amount, currency, status, email, created_at, updated_at)
			VALUES ($1, 'premium-monthly', $2, 299, 'RUB', 'pending', 'dev@example.com', now(), now())
			ON CONFLICT (provider_payment_id) DO NOTHING`,
			devUserID, pendingProviderID); err != nil {
			log.Fatalf("failed to seed pending payment: %v", err)
		}
		fmt.Println("Seeded pending payment:", pendingProviderID)

		if _, err := db.Exec(`
			INSERT INTO user_premium (user_id, plan_type, is_active, expires_at, created_at, updated_at)
			VALUES ($1, 'premium', true, now() + interval '30 days', now(), now())
			ON CONFLICT (user_id) DO UPDATE SET
				plan_type = EXCLUDED.plan_type,
				is_active = EXCLUDED.is_active,
				expires_at = EXCLUDED.expires_at,
				updated_at = now()`,
			devUserID); err != nil {
			log.Fatalf("failed to seed user_premium: %v", err)
		}

		if _, err := db.Exec(`
			INSERT INTO user_limits (user_id, subscription_type, updated_at)
			VALUES ($1, 'premium', now())
			ON CONFLICT (user_id) DO UPDATE SET
				subscription_type = EXCLUDED.subscription_type,
				updated_at = now()`,
			devUserID); err != nil {
			log.Fatalf("failed to seed user_limits: %v", err)
		}

		fmt.Println("Seeded premium entitlement for dev user:", devUserID)
	},
}
