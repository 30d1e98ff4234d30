package store

import (
	"context"
	"fmt"

	"geochat/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdentityStore defines persistence operations for anonymous identities.
type IdentityStore interface {
	// UpsertIdentity creates the row if absent and refreshes last_seen_at
	// (and display fields) if present. The stored row is written back into
	// identity.
	UpsertIdentity(ctx context.Context, identity *models.AnonymousIdentity) error
}

// PostgresIdentityStore implements IdentityStore with PostgreSQL.
type PostgresIdentityStore struct {
	db *pgxpool.Pool
}

func NewPostgresIdentityStore(db *pgxpool.Pool) *PostgresIdentityStore {
	return &PostgresIdentityStore{
		db: db,
	}
}

func (s *PostgresIdentityStore) UpsertIdentity(ctx context.Context, identity *models.AnonymousIdentity) error {
	query := `
        INSERT INTO anonymous_identities (device_id, display_name, avatar_color, last_seen_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (device_id) DO UPDATE
        SET display_name = EXCLUDED.display_name,
            avatar_color = EXCLUDED.avatar_color,
            last_seen_at = EXCLUDED.last_seen_at
        RETURNING device_id::text, display_name, avatar_color, last_seen_at
    `
	err := s.db.QueryRow(ctx, query,
		identity.DeviceID,
		identity.DisplayName,
		identity.AvatarColor,
		identity.LastSeenAt,
	).Scan(
		&identity.DeviceID,
		&identity.DisplayName,
		&identity.AvatarColor,
		&identity.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert identity %s: %w", identity.DeviceID, err)
	}
	return nil
}
