package store

import (
	"context"
	"fmt"
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GroupStore defines persistence operations for chat groups.
type GroupStore interface {
	CreateGroup(ctx context.Context, group *models.ChatGroup) error
	GetGroupByID(ctx context.Context, groupID uuid.UUID) (*models.ChatGroup, error)
	// ListActiveGroups returns the most recently active groups with their
	// live member counts, newest activity first, capped at limit.
	ListActiveGroups(ctx context.Context, limit int) ([]*models.ChatGroup, error)
	// ListActiveGroupsMinimal is the cheap variant used by discovery's retry
	// path: id, name and coordinates only, no ordering, no member counts.
	ListActiveGroupsMinimal(ctx context.Context, limit int) ([]*models.ChatGroup, error)
	DeactivateGroup(ctx context.Context, groupID, ownerID uuid.UUID) error
	TouchActivity(ctx context.Context, groupID uuid.UUID, at time.Time) error
}

// PostgresGroupStore implements GroupStore with PostgreSQL.
type PostgresGroupStore struct {
	db *pgxpool.Pool
}

func NewPostgresGroupStore(db *pgxpool.Pool) *PostgresGroupStore {
	return &PostgresGroupStore{
		db: db,
	}
}

func (s *PostgresGroupStore) CreateGroup(ctx context.Context, group *models.ChatGroup) error {
	query := `
        INSERT INTO chat_groups (id, name, description, owner_id, latitude, longitude, created_at, last_activity_at, active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
    `
	_, err := s.db.Exec(ctx, query,
		group.ID,
		group.Name,
		group.Description,
		group.OwnerID,
		group.Latitude,
		group.Longitude,
		group.CreatedAt,
		group.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

func (s *PostgresGroupStore) GetGroupByID(ctx context.Context, groupID uuid.UUID) (*models.ChatGroup, error) {
	query := `
        SELECT g.id, g.name, g.description, g.owner_id, g.latitude, g.longitude,
               g.created_at, g.last_activity_at, g.active,
               (SELECT COUNT(*) FROM memberships m WHERE m.group_id = g.id AND m.active) AS member_count
        FROM chat_groups g
        WHERE g.id = $1
    `
	group := &models.ChatGroup{}
	err := s.db.QueryRow(ctx, query, groupID).Scan(
		&group.ID,
		&group.Name,
		&group.Description,
		&group.OwnerID,
		&group.Latitude,
		&group.Longitude,
		&group.CreatedAt,
		&group.LastActivityAt,
		&group.Active,
		&group.MemberCount,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group by ID: %w", err)
	}
	return group, nil
}

func (s *PostgresGroupStore) ListActiveGroups(ctx context.Context, limit int) ([]*models.ChatGroup, error) {
	query := `
        SELECT g.id, g.name, g.description, g.owner_id, g.latitude, g.longitude,
               g.created_at, g.last_activity_at, g.active,
               (SELECT COUNT(*) FROM memberships m WHERE m.group_id = g.id AND m.active) AS member_count
        FROM chat_groups g
        WHERE g.active
        ORDER BY g.last_activity_at DESC
        LIMIT $1
    `
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*models.ChatGroup, 0)
	for rows.Next() {
		group := &models.ChatGroup{}
		err := rows.Scan(
			&group.ID,
			&group.Name,
			&group.Description,
			&group.OwnerID,
			&group.Latitude,
			&group.Longitude,
			&group.CreatedAt,
			&group.LastActivityAt,
			&group.Active,
			&group.MemberCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		groups = append(groups, group)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group rows: %w", err)
	}
	return groups, nil
}

func (s *PostgresGroupStore) ListActiveGroupsMinimal(ctx context.Context, limit int) ([]*models.ChatGroup, error) {
	query := `
        SELECT id, name, latitude, longitude, last_activity_at
        FROM chat_groups
        WHERE active
        LIMIT $1
    `
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active groups (minimal): %w", err)
	}
	defer rows.Close()

	groups := make([]*models.ChatGroup, 0)
	for rows.Next() {
		group := &models.ChatGroup{Active: true}
		err := rows.Scan(
			&group.ID,
			&group.Name,
			&group.Latitude,
			&group.Longitude,
			&group.LastActivityAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan minimal group row: %w", err)
		}
		groups = append(groups, group)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating minimal group rows: %w", err)
	}
	return groups, nil
}

// DeactivateGroup flips active to false. Only the owner may deactivate.
func (s *PostgresGroupStore) DeactivateGroup(ctx context.Context, groupID, ownerID uuid.UUID) error {
	query := `UPDATE chat_groups SET active = FALSE WHERE id = $1 AND owner_id = $2 AND active`
	result, err := s.db.Exec(ctx, query, groupID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to deactivate group %s: %w", groupID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (s *PostgresGroupStore) TouchActivity(ctx context.Context, groupID uuid.UUID, at time.Time) error {
	query := `UPDATE chat_groups SET last_activity_at = $1 WHERE id = $2 AND last_activity_at < $1`
	_, err := s.db.Exec(ctx, query, at, groupID)
	if err != nil {
		return fmt.Errorf("failed to touch group activity for %s: %w", groupID, err)
	}
	return nil
}

var (
	ErrGroupNotFound = fmt.Errorf("group not found")
)
