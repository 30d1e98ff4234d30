package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SenderKind distinguishes authenticated users from anonymous devices.
type SenderKind string

const (
	SenderKindUser      SenderKind = "user"
	SenderKindAnonymous SenderKind = "anonymous"
)

// MessageKind is the payload shape of a message.
type MessageKind string

const (
	MessageKindText MessageKind = "text"
	MessageKindPoll MessageKind = "poll"
)

// MaxContentLength is enforced both client-side (before any network call)
// and server-side on insert.
const MaxContentLength = 1000

// OptimisticIDPrefix namespaces locally assigned temporary message ids so
// they can never collide with server-assigned UUIDs.
const OptimisticIDPrefix = "local-"

// PollPayload carries the question and options of a poll message.
type PollPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Message is a chat message in a group. ID is a string because a message id
// is either a server-assigned UUID or, while optimistic, a temporary id
// carrying the OptimisticIDPrefix.
type Message struct {
	ID          string       `json:"id" db:"id"`
	GroupID     uuid.UUID    `json:"groupId" db:"group_id"`
	Content     string       `json:"content" db:"content"`
	SentAt      JSONTime     `json:"sentAt" db:"created_at"`
	SenderKind  SenderKind   `json:"senderKind" db:"sender_kind"`
	UserID      string       `json:"userId,omitempty" db:"user_id"`
	DeviceID    string       `json:"deviceId,omitempty" db:"device_id"`
	DisplayName string       `json:"displayName" db:"display_name"`
	AvatarColor string       `json:"avatarColor" db:"avatar_color"`
	Kind        MessageKind  `json:"kind" db:"kind"`
	Poll        *PollPayload `json:"poll,omitempty" db:"poll"`

	// IsOptimistic marks a locally inserted message awaiting its server echo.
	// Never persisted.
	IsOptimistic bool `json:"isOptimistic,omitempty" db:"-"`
}

// SenderRef returns the populated sender reference for the message's kind.
func (m *Message) SenderRef() string {
	if m.SenderKind == SenderKindAnonymous {
		return m.DeviceID
	}
	return m.UserID
}

// Validate checks the invariants every message must satisfy before it is
// accepted from any boundary: required fields present, a recognized sender
// kind, exactly one sender reference populated, and a bounded content length.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message is missing an id")
	}
	if m.GroupID == uuid.Nil {
		return fmt.Errorf("message %s is missing a group id", m.ID)
	}
	if m.SentAt.IsZero() {
		return fmt.Errorf("message %s is missing a sent timestamp", m.ID)
	}
	switch m.SenderKind {
	case SenderKindUser:
		if m.UserID == "" || m.DeviceID != "" {
			return fmt.Errorf("message %s: user sender must populate userId and only userId", m.ID)
		}
	case SenderKindAnonymous:
		if m.DeviceID == "" || m.UserID != "" {
			return fmt.Errorf("message %s: anonymous sender must populate deviceId and only deviceId", m.ID)
		}
	default:
		return fmt.Errorf("message %s has unrecognized sender kind %q", m.ID, m.SenderKind)
	}
	switch m.Kind {
	case MessageKindText:
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("message %s has empty content", m.ID)
		}
	case MessageKindPoll:
		if m.Poll == nil || m.Poll.Question == "" || len(m.Poll.Options) < 2 {
			return fmt.Errorf("message %s has an incomplete poll payload", m.ID)
		}
	default:
		return fmt.Errorf("message %s has unrecognized kind %q", m.ID, m.Kind)
	}
	if len(m.Content) > MaxContentLength {
		return fmt.Errorf("message %s content exceeds %d characters", m.ID, MaxContentLength)
	}
	return nil
}

// CreateMessageRequest captures message-send input. The sender reference is
// taken from the request's auth context, never from the body.
type CreateMessageRequest struct {
	GroupID uuid.UUID    `json:"groupId" binding:"required"`
	Content string       `json:"content" binding:"max=1000"`
	Kind    MessageKind  `json:"kind,omitempty"`
	Poll    *PollPayload `json:"poll,omitempty"`
}

// VoteRequest records a poll vote for a message.
type VoteRequest struct {
	Option string `json:"option" binding:"required,max=120"`
}
