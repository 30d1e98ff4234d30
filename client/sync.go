package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
)

// SyncState is the synchronizer's lifecycle state for one open chat.
type SyncState string

const (
	// StateUnauthorized: the device never joined this group. Terminal until
	// the caller joins elsewhere and opens a fresh synchronizer.
	StateUnauthorized SyncState = "unauthorized"
	StateLoading      SyncState = "loading"
	StateReady        SyncState = "ready"
	// StateError: history fetch or subscription failed. Messages already
	// loaded are preserved so a transient drop does not blank the screen.
	StateError SyncState = "error"
)

const historyFetchLimit = 100

var (
	// ErrNotJoined is returned by Open for groups absent from the device's
	// joined set.
	ErrNotJoined = errors.New("this group has not been joined on this device")
	// ErrRateLimited is returned by Send when the server-side limit check
	// denies the insert. Distinct from generic send failure by contract.
	ErrRateLimited = errors.New("sending too quickly, rate limit reached")
	// ErrContentTooLong is returned before any network call.
	ErrContentTooLong = fmt.Errorf("message content exceeds %d characters", models.MaxContentLength)
)

// MessageBackend is the slice of the remote service the synchronizer needs.
type MessageBackend interface {
	// History returns up to limit messages inside the server's retention
	// window, oldest-first.
	History(ctx context.Context, groupID uuid.UUID, limit int) ([]*models.Message, error)
	// Send inserts a message and returns the server-confirmed row.
	Send(ctx context.Context, req *models.CreateMessageRequest) (*models.Message, error)
	// CheckRateLimit is the pre-send check; false means the next insert
	// would be rejected.
	CheckRateLimit(ctx context.Context) (bool, error)
}

// Subscriber opens push channels for inserted rows.
type Subscriber interface {
	Subscribe(ctx context.Context, groupID uuid.UUID) (MessageStream, error)
}

// MessageStream is one open push channel. Events is closed when the stream
// ends; Close must always be called to release the channel.
type MessageStream interface {
	Events() <-chan *models.Message
	Close() error
}

// JoinedChecker answers whether this device has joined a group.
type JoinedChecker interface {
	IsJoined(groupID uuid.UUID) bool
}

// ActivityRecorder is optionally implemented by a JoinedChecker that tracks
// per-chat activity timestamps; StateStore does.
type ActivityRecorder interface {
	TouchJoinedActivity(groupID uuid.UUID)
}

// Sender describes how this device's outgoing messages present themselves
// while optimistic, before the server echo arrives.
type Sender struct {
	Kind        models.SenderKind
	Ref         string
	DisplayName string
	AvatarColor string
}

// Synchronizer maintains the de-duplicated, chronologically ordered message
// list for one open chat: bounded history plus a push subscription, with
// optimistic local inserts reconciled against their server echoes.
//
// All mutation goes through the mutex; the push goroutine and UI calls may
// interleave freely.
type Synchronizer struct {
	backend    MessageBackend
	subscriber Subscriber
	joined     JoinedChecker
	activity   ActivityRecorder // nil when joined does not track activity
	sender     Sender
	groupID    uuid.UUID

	mu       sync.Mutex
	state    SyncState
	lastErr  error
	messages []*models.Message
	index    map[string]int
	stream   MessageStream
	closed   bool
}

// NewSynchronizer creates a synchronizer for one group. Open starts it.
func NewSynchronizer(backend MessageBackend, subscriber Subscriber, joined JoinedChecker, sender Sender, groupID uuid.UUID) *Synchronizer {
	s := &Synchronizer{
		backend:    backend,
		subscriber: subscriber,
		joined:     joined,
		sender:     sender,
		groupID:    groupID,
		state:      StateLoading,
		index:      make(map[string]int),
	}
	if recorder, ok := joined.(ActivityRecorder); ok {
		s.activity = recorder
	}
	return s
}

// Open loads the bounded history and establishes the push subscription.
// It returns ErrNotJoined without touching the network when the device
// never joined the group.
func (s *Synchronizer) Open(ctx context.Context) error {
	if !s.joined.IsJoined(s.groupID) {
		s.mu.Lock()
		s.state = StateUnauthorized
		s.mu.Unlock()
		return ErrNotJoined
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	s.mu.Unlock()

	history, err := s.backend.History(ctx, s.groupID, historyFetchLimit)
	if err != nil {
		s.fail(fmt.Errorf("failed to load history: %w", err))
		return err
	}

	kept := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		if vErr := msg.Validate(); vErr != nil {
			log.Printf("Synchronizer: Dropping malformed history row: %v", vErr)
			continue
		}
		kept = append(kept, msg)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].SentAt.Before(kept[j].SentAt)
	})

	stream, err := s.subscriber.Subscribe(ctx, s.groupID)
	if err != nil {
		s.fail(fmt.Errorf("failed to subscribe: %w", err))
		return err
	}

	s.mu.Lock()
	if s.closed {
		// Torn down while the fetch was in flight; do not resurrect state.
		s.mu.Unlock()
		_ = stream.Close()
		return nil
	}
	s.messages = kept
	s.reindexLocked()
	s.stream = stream
	s.state = StateReady
	s.lastErr = nil
	s.mu.Unlock()

	go s.consume(stream)
	return nil
}

func (s *Synchronizer) consume(stream MessageStream) {
	for msg := range stream.Events() {
		s.applyInsert(msg)
	}
	s.mu.Lock()
	if !s.closed && s.state == StateReady {
		// The channel dropped underneath us; keep the list, flag the state.
		s.state = StateError
		s.lastErr = errors.New("push subscription closed unexpectedly")
	}
	s.mu.Unlock()
}

// applyInsert reconciles one pushed row: validate, then append-or-replace by
// id. Replaying the same event is a no-op beyond the first application.
func (s *Synchronizer) applyInsert(msg *models.Message) {
	if err := msg.Validate(); err != nil {
		log.Printf("Synchronizer: Dropping malformed pushed row: %v", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if pos, ok := s.index[msg.ID]; ok {
		// Confirmation of a row we already hold (an optimistic entry or a
		// replayed event): replace in place, preserving list position.
		confirmed := *msg
		confirmed.IsOptimistic = false
		s.messages[pos] = &confirmed
		s.mu.Unlock()
		return
	}

	appended := *msg
	appended.IsOptimistic = false
	s.messages = append(s.messages, &appended)
	s.index[appended.ID] = len(s.messages) - 1
	s.mu.Unlock()

	// Activity bookkeeping does its own locking and may hit disk; keep it
	// outside the list lock.
	if s.activity != nil {
		s.activity.TouchJoinedActivity(s.groupID)
	}
}

// AddOptimistic appends a locally originated placeholder and returns its
// temporary id synchronously; no network is involved. Every optimistic
// entry must later be resolved exactly once via ResolveOptimistic.
func (s *Synchronizer) AddOptimistic(content string, kind models.MessageKind, poll *models.PollPayload) string {
	tempID := fmt.Sprintf("%s%d-%04x", models.OptimisticIDPrefix, time.Now().UnixNano(), rand.Intn(0x10000))

	msg := &models.Message{
		ID:           tempID,
		GroupID:      s.groupID,
		Content:      content,
		SentAt:       models.JSONTime(time.Now()),
		SenderKind:   s.sender.Kind,
		DisplayName:  s.sender.DisplayName,
		AvatarColor:  s.sender.AvatarColor,
		Kind:         kind,
		Poll:         poll,
		IsOptimistic: true,
	}
	if s.sender.Kind == models.SenderKindAnonymous {
		msg.DeviceID = s.sender.Ref
	} else {
		msg.UserID = s.sender.Ref
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tempID
	}
	s.messages = append(s.messages, msg)
	s.index[tempID] = len(s.messages) - 1
	return tempID
}

// ResolveOptimistic settles an optimistic entry: replaced in place by the
// confirmed message on success, removed entirely on failure. If the server
// echo already arrived through the push channel the placeholder is simply
// dropped so the confirmed id never appears twice.
func (s *Synchronizer) ResolveOptimistic(tempID string, confirmed *models.Message, sendErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	pos, ok := s.index[tempID]
	if !ok {
		return
	}

	if sendErr != nil || confirmed == nil {
		s.removeAtLocked(pos)
		return
	}

	if _, echoed := s.index[confirmed.ID]; echoed {
		s.removeAtLocked(pos)
		return
	}

	settled := *confirmed
	settled.IsOptimistic = false
	s.messages[pos] = &settled
	delete(s.index, tempID)
	s.index[settled.ID] = pos
}

func (s *Synchronizer) removeAtLocked(pos int) {
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	s.reindexLocked()
}

func (s *Synchronizer) reindexLocked() {
	s.index = make(map[string]int, len(s.messages))
	for i, msg := range s.messages {
		s.index[msg.ID] = i
	}
}

// Send performs the full optimistic send flow: local length check, server
// rate-limit pre-check, optimistic insert, remote send, reconciliation.
// The returned id is the confirmed server id on success.
func (s *Synchronizer) Send(ctx context.Context, content string, kind models.MessageKind, poll *models.PollPayload) (string, error) {
	if kind == "" {
		kind = models.MessageKindText
	}
	if len(content) > models.MaxContentLength {
		return "", ErrContentTooLong
	}

	allowed, err := s.backend.CheckRateLimit(ctx)
	if err != nil {
		return "", fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		return "", ErrRateLimited
	}

	tempID := s.AddOptimistic(content, kind, poll)

	confirmed, err := s.backend.Send(ctx, &models.CreateMessageRequest{
		GroupID: s.groupID,
		Content: content,
		Kind:    kind,
		Poll:    poll,
	})
	s.ResolveOptimistic(tempID, confirmed, err)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return "", err
		}
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return confirmed.ID, nil
}

// Close releases the push subscription. Events and completions arriving
// after Close are dropped. Safe to call more than once.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Printf("Synchronizer: Error closing push subscription for group %s: %v", s.groupID, err)
		}
	}
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error behind StateError, if any.
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Messages returns a snapshot of the current list, ordered by sentAt as of
// the last history load with pushed rows appended in arrival order.
func (s *Synchronizer) Messages() []*models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make([]*models.Message, len(s.messages))
	copy(snapshot, s.messages)
	return snapshot
}

func (s *Synchronizer) fail(err error) {
	s.mu.Lock()
	if s.closed {
		// Torn down while the work was in flight; completions are no-ops.
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.lastErr = err
	s.mu.Unlock()
	log.Printf("Synchronizer: Group %s entered error state: %v", s.groupID, err)
}
