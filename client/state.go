package client

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
)

const nearbyCacheTTL = 24 * time.Hour

// JoinedRecord is one entry in the device's joined set. Leaving flips Active
// instead of deleting so a rejoin restores the record in place.
// LastActivityAt is refreshed on join and on observed message activity.
type JoinedRecord struct {
	GroupID        uuid.UUID `json:"groupId"`
	Name           string    `json:"name"`
	JoinedAt       time.Time `json:"joinedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Active         bool      `json:"active"`
}

type nearbySnapshot struct {
	Origin   models.Coordinate   `json:"origin"`
	RadiusKm float64             `json:"radiusKm"`
	Groups   []*models.ChatGroup `json:"groups"`
	StoredAt time.Time           `json:"storedAt"`
}

type stateFile struct {
	DeviceID  string                   `json:"deviceId"`
	Onboarded bool                     `json:"onboarded"`
	Joined    map[string]*JoinedRecord `json:"joined"`
	Nearby    *nearbySnapshot          `json:"nearby,omitempty"`
}

// StateStore persists the small per-device state as a single JSON file:
// device identity, onboarding flag, the joined set, and the last nearby
// result. Writes go through a temp file and rename so a crash mid-write
// never leaves a torn file.
type StateStore struct {
	mu   sync.Mutex
	path string
	data *stateFile
}

// OpenStateStore loads the state file at path, creating an empty state
// (with a fresh device id) when the file does not exist.
func OpenStateStore(path string) (*StateStore, error) {
	s := &StateStore{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.data = &stateFile{
			DeviceID: uuid.NewString(),
			Joined:   make(map[string]*JoinedRecord),
		}
		if err := s.flushLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var data stateFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if data.Joined == nil {
		data.Joined = make(map[string]*JoinedRecord)
	}
	if data.DeviceID == "" {
		data.DeviceID = uuid.NewString()
	}
	s.data = &data
	return s, nil
}

func (s *StateStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// DeviceID returns the stable per-install device identifier.
func (s *StateStore) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.DeviceID
}

// Onboarded reports whether first-run onboarding completed.
func (s *StateStore) Onboarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Onboarded
}

// SetOnboarded records onboarding completion.
func (s *StateStore) SetOnboarded(done bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Onboarded = done
	return s.flushLocked()
}

// RecordJoin adds a group to the joined set, resurrecting a previously
// left record.
func (s *StateStore) RecordJoin(groupID uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := groupID.String()
	now := time.Now()
	if rec, ok := s.data.Joined[key]; ok {
		rec.Active = true
		rec.Name = name
		rec.LastActivityAt = now
		return s.flushLocked()
	}
	s.data.Joined[key] = &JoinedRecord{
		GroupID:        groupID,
		Name:           name,
		JoinedAt:       now,
		LastActivityAt: now,
		Active:         true,
	}
	return s.flushLocked()
}

// TouchJoinedActivity refreshes a joined record's activity timestamp.
// Unknown groups are a no-op.
func (s *StateStore) TouchJoinedActivity(groupID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Joined[groupID.String()]
	if !ok {
		return
	}
	rec.LastActivityAt = time.Now()
	if err := s.flushLocked(); err != nil {
		log.Printf("StateStore: Failed to persist activity for group %s: %v", groupID, err)
	}
}

// RecordLeave marks a joined record inactive. Unknown groups are a no-op.
func (s *StateStore) RecordLeave(groupID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Joined[groupID.String()]
	if !ok {
		return nil
	}
	rec.Active = false
	return s.flushLocked()
}

// IsJoined reports whether the device currently holds an active membership
// record for the group.
func (s *StateStore) IsJoined(groupID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.Joined[groupID.String()]
	return ok && rec.Active
}

// JoinedGroups returns the active joined records, most recent first.
func (s *StateStore) JoinedGroups() []*JoinedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*JoinedRecord, 0, len(s.data.Joined))
	for _, rec := range s.data.Joined {
		if rec.Active {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JoinedAt.After(out[j].JoinedAt)
	})
	return out
}

// StoreNearby caches the latest discovery result for offline reopen.
func (s *StateStore) StoreNearby(origin models.Coordinate, radiusKm float64, groups []*models.ChatGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Nearby = &nearbySnapshot{
		Origin:   origin,
		RadiusKm: radiusKm,
		Groups:   groups,
		StoredAt: time.Now(),
	}
	if err := s.flushLocked(); err != nil {
		log.Printf("StateStore: Failed to persist nearby cache: %v", err)
	}
}

// CachedNearby returns the last stored discovery result, or false when none
// exists or the snapshot is older than 24 hours.
func (s *StateStore) CachedNearby() ([]*models.ChatGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.data.Nearby
	if snap == nil {
		return nil, false
	}
	if time.Since(snap.StoredAt) > nearbyCacheTTL {
		return nil, false
	}
	out := make([]*models.ChatGroup, len(snap.Groups))
	copy(out, snap.Groups)
	return out, true
}
