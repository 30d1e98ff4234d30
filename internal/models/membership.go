package models

import (
	"time"

	"github.com/google/uuid"
)

// Membership links a sender (user or anonymous device) to a group.
// Memberships are soft state: leaving flips Active, re-joining resurrects
// the same row.
type Membership struct {
	GroupID   uuid.UUID `json:"groupId" db:"group_id"`
	MemberRef string    `json:"memberRef" db:"member_ref"`
	JoinedAt  time.Time `json:"joinedAt" db:"joined_at"`
	Active    bool      `json:"active" db:"active"`
}

// PollVote records one sender's vote on a poll message. A sender may vote
// once per message; revoting updates the option.
type PollVote struct {
	MessageID string    `json:"messageId" db:"message_id"`
	Option    string    `json:"option" db:"option"`
	VoterRef  string    `json:"voterRef" db:"voter_ref"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
