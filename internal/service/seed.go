package service

import (
	"context"
	"fmt"

	"storefront-api/config"
	"storefront-api/internal/auth"
	"storefront-api/internal/models"
	"storefront-api/internal/util"

	"go.uber.org/zap"
)

// SeedStore is the persistence Seeder needs.
type SeedStore interface {
	EnsureUser(ctx context.Context, user *models.User) (bool, error)
	CountCategories(ctx context.Context) (int, error)
	EnsureCategory(ctx context.Context, cat *models.Category) (*models.Category, bool, error)
}

// Seeder creates the admin account and the default categories of a fresh database.
type Seeder struct {
	store  SeedStore
	logger *zap.Logger
}

func NewSeeder(store SeedStore) *Seeder {
	return &Seeder{store: store, logger: util.GetLogger()}
}

// SeedAdmin creates the admin user unless the email is already registered.
func (s *Seeder) SeedAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		s.logger.Warn("Admin seed skipped, email or password not configured")
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := &models.User{Name: "Admin", Email: email, Password: hash, Role: models.RoleAdmin}
	created, err := s.store.EnsureUser(ctx, admin)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		s.logger.Info("Admin user created", zap.String("email", email))
	}
	return nil
}

// SeedCategories inserts the defaults only when no category exists yet.
func (s *Seeder) SeedCategories(ctx context.Context, defaults []config.SeedCategory) error {
	n, err := s.store.CountCategories(ctx)
	if err != nil {
		return fmt.Errorf("count categories: %w", err)
	}
	if n > 0 {
		return nil
	}

	for _, d := range defaults {
		slug := util.Slugify(d.Name)
		if slug == "" {
			continue
		}
		if _, _, err := s.store.EnsureCategory(ctx, &models.Category{
			Name:        d.Name,
			Slug:        slug,
			Description: d.Description,
		}); err != nil {
			return fmt.Errorf("seed category %q: %w", d.Name, err)
		}
	}

	s.logger.Info("Default categories seeded", zap.Int("count", len(defaults)))
	return nil
}
