package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"storefront-api/config"
	"storefront-api/internal/service"
	"storefront-api/internal/store"
	"storefront-api/internal/util"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	cmd := &cli.Command{
		Name:  "storectl",
		Usage: "Maintenance tasks for the storefront database",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Create or update the database schema",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, db, err := open()
					if err != nil {
						return err
					}
					defer db.Close()

					if err := db.Migrate(ctx); err != nil {
						return fmt.Errorf("migrate: %w", err)
					}
					util.GetLogger().Info("Migration complete", zap.String("store", cfg.Store.Name))
					return nil
				},
			},
			{
				Name:  "seed",
				Usage: "Create the admin account and default categories",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "admin-email", Usage: "admin login (defaults to ADMIN_EMAIL)"},
					&cli.StringFlag{Name: "admin-password", Usage: "admin password (defaults to ADMIN_PASSWORD)"},
					&cli.BoolFlag{Name: "skip-categories", Usage: "only seed the admin account"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, db, err := open()
					if err != nil {
						return err
					}
					defer db.Close()

					if err := db.Migrate(ctx); err != nil {
						return fmt.Errorf("migrate: %w", err)
					}

					email := c.String("admin-email")
					if email == "" {
						email = cfg.Mail.AdminEmail
					}
					password := c.String("admin-password")
					if password == "" {
						password = cfg.Store.AdminPassword
					}

					seeder := service.NewSeeder(db)
					if err := seeder.SeedAdmin(ctx, email, password); err != nil {
						return err
					}
					if !c.Bool("skip-categories") {
						if err := seeder.SeedCategories(ctx, cfg.SeedCategoryList()); err != nil {
							return err
						}
					}
					util.GetLogger().Info("Seed complete", zap.String("admin", email))
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func open() (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		return nil, nil, err
	}
	db, err := store.NewStore(cfg.Database.URL, 2)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
