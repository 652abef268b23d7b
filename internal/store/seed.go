package store

import (
	"context"
	"fmt"

	"storefront-api/internal/models"
)

// EnsureUser inserts user unless the email is already registered. It reports whether a
// row was created.
func (s *Store) EnsureUser(ctx context.Context, user *models.User) (bool, error) {
	query := `
		INSERT INTO users (name, email, password, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at, updated_at`

	rows, err := s.db.QueryxContext(ctx, query, user.Name, user.Email, user.Password, user.Role)
	if err != nil {
		return false, fmt.Errorf("ensure user: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return false, rows.Err()
	}
	if err := rows.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return false, err
	}
	return true, nil
}
