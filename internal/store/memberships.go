package store

import (
	"context"
	"fmt"
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore defines persistence operations for group memberships and
// poll votes.
type MembershipStore interface {
	// Join creates the membership row or resurrects a soft-deleted one.
	Join(ctx context.Context, groupID uuid.UUID, memberRef string) (*models.Membership, error)
	// Leave flips active to false; the row is never physically deleted so a
	// later re-join resurrects it.
	Leave(ctx context.Context, groupID uuid.UUID, memberRef string) error
	IsMember(ctx context.Context, groupID uuid.UUID, memberRef string) (bool, error)
	CountActiveMembers(ctx context.Context, groupID uuid.UUID) (int, error)
	// RecordVote stores a sender's vote; revoting replaces the option.
	RecordVote(ctx context.Context, vote *models.PollVote) error
	CountVotesByOption(ctx context.Context, messageID string) (map[string]int, error)
}

// PostgresMembershipStore implements MembershipStore with PostgreSQL.
type PostgresMembershipStore struct {
	db *pgxpool.Pool
}

func NewPostgresMembershipStore(db *pgxpool.Pool) *PostgresMembershipStore {
	return &PostgresMembershipStore{
		db: db,
	}
}

func (s *PostgresMembershipStore) Join(ctx context.Context, groupID uuid.UUID, memberRef string) (*models.Membership, error) {
	query := `
        INSERT INTO memberships (group_id, member_ref, joined_at, active)
        VALUES ($1, $2, $3, TRUE)
        ON CONFLICT (group_id, member_ref) DO UPDATE
        SET active = TRUE
        RETURNING group_id, member_ref, joined_at, active
    `
	membership := &models.Membership{}
	err := s.db.QueryRow(ctx, query, groupID, memberRef, time.Now()).Scan(
		&membership.GroupID,
		&membership.MemberRef,
		&membership.JoinedAt,
		&membership.Active,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to join group %s: %w", groupID, err)
	}
	return membership, nil
}

func (s *PostgresMembershipStore) Leave(ctx context.Context, groupID uuid.UUID, memberRef string) error {
	query := `UPDATE memberships SET active = FALSE WHERE group_id = $1 AND member_ref = $2 AND active`
	result, err := s.db.Exec(ctx, query, groupID, memberRef)
	if err != nil {
		return fmt.Errorf("failed to leave group %s: %w", groupID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

func (s *PostgresMembershipStore) IsMember(ctx context.Context, groupID uuid.UUID, memberRef string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM memberships WHERE group_id = $1 AND member_ref = $2 AND active)`
	var isMember bool
	err := s.db.QueryRow(ctx, query, groupID, memberRef).Scan(&isMember)
	if err != nil {
		return false, fmt.Errorf("failed to check membership for group %s: %w", groupID, err)
	}
	return isMember, nil
}

func (s *PostgresMembershipStore) CountActiveMembers(ctx context.Context, groupID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM memberships WHERE group_id = $1 AND active`
	var count int
	err := s.db.QueryRow(ctx, query, groupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members for group %s: %w", groupID, err)
	}
	return count, nil
}

func (s *PostgresMembershipStore) RecordVote(ctx context.Context, vote *models.PollVote) error {
	query := `
        INSERT INTO poll_votes (message_id, voter_ref, option, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (message_id, voter_ref) DO UPDATE
        SET option = EXCLUDED.option, created_at = EXCLUDED.created_at
    `
	_, err := s.db.Exec(ctx, query, vote.MessageID, vote.VoterRef, vote.Option, vote.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record vote for message %s: %w", vote.MessageID, err)
	}
	return nil
}

func (s *PostgresMembershipStore) CountVotesByOption(ctx context.Context, messageID string) (map[string]int, error) {
	query := `SELECT option, COUNT(*) FROM poll_votes WHERE message_id = $1 GROUP BY option`
	rows, err := s.db.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query votes for message %s: %w", messageID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var option string
		var count int
		if err := rows.Scan(&option, &count); err != nil {
			return nil, fmt.Errorf("failed to scan vote row: %w", err)
		}
		counts[option] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vote rows: %w", err)
	}
	return counts, nil
}

var (
	ErrMembershipNotFound = fmt.Errorf("membership not found")
)
