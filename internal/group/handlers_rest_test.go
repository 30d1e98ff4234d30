package group

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"geochat/internal/middleware"
	"geochat/internal/models"
	"geochat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fakeGroupStore struct {
	groups       map[uuid.UUID]*models.ChatGroup
	created      []*models.ChatGroup
	minimalCalls int
	fullCalls    int
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{groups: make(map[uuid.UUID]*models.ChatGroup)}
}

func (s *fakeGroupStore) CreateGroup(ctx context.Context, group *models.ChatGroup) error {
	s.created = append(s.created, group)
	s.groups[group.ID] = group
	return nil
}

func (s *fakeGroupStore) GetGroupByID(ctx context.Context, groupID uuid.UUID) (*models.ChatGroup, error) {
	if g, ok := s.groups[groupID]; ok {
		return g, nil
	}
	return nil, store.ErrGroupNotFound
}

func (s *fakeGroupStore) listGroups() []*models.ChatGroup {
	out := make([]*models.ChatGroup, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out
}

func (s *fakeGroupStore) ListActiveGroups(ctx context.Context, limit int) ([]*models.ChatGroup, error) {
	s.fullCalls++
	return s.listGroups(), nil
}

func (s *fakeGroupStore) ListActiveGroupsMinimal(ctx context.Context, limit int) ([]*models.ChatGroup, error) {
	s.minimalCalls++
	return s.listGroups(), nil
}

func (s *fakeGroupStore) DeactivateGroup(ctx context.Context, groupID, ownerID uuid.UUID) error {
	g, ok := s.groups[groupID]
	if !ok || g.OwnerID != ownerID {
		return store.ErrGroupNotFound
	}
	g.Active = false
	return nil
}

func (s *fakeGroupStore) TouchActivity(ctx context.Context, groupID uuid.UUID, at time.Time) error {
	return nil
}

type fakeMembershipStore struct {
	joins  []string
	leaves []string
}

func (s *fakeMembershipStore) Join(ctx context.Context, groupID uuid.UUID, memberRef string) (*models.Membership, error) {
	s.joins = append(s.joins, memberRef)
	return &models.Membership{GroupID: groupID, MemberRef: memberRef, JoinedAt: time.Now(), Active: true}, nil
}

func (s *fakeMembershipStore) Leave(ctx context.Context, groupID uuid.UUID, memberRef string) error {
	s.leaves = append(s.leaves, memberRef)
	return nil
}

func (s *fakeMembershipStore) IsMember(ctx context.Context, groupID uuid.UUID, memberRef string) (bool, error) {
	return true, nil
}

func (s *fakeMembershipStore) CountActiveMembers(ctx context.Context, groupID uuid.UUID) (int, error) {
	return len(s.joins), nil
}

func (s *fakeMembershipStore) RecordVote(ctx context.Context, vote *models.PollVote) error {
	return nil
}

func (s *fakeMembershipStore) CountVotesByOption(ctx context.Context, messageID string) (map[string]int, error) {
	return nil, nil
}

func setupRouter(groups *fakeGroupStore, memberships *fakeMembershipStore, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewRestHandler(groups, memberships)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, userID)
		c.Set(middleware.ContextSenderKind, models.SenderKindUser)
		c.Set(middleware.ContextSenderRef, userID)
	})
	r.GET("/groups", handler.ListGroups)
	r.GET("/groups/:id", handler.GetGroup)
	r.POST("/groups", handler.CreateGroup)
	r.DELETE("/groups/:id", handler.DeactivateGroup)
	r.POST("/groups/:id/join", handler.JoinGroup)
	r.POST("/groups/:id/leave", handler.LeaveGroup)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateGroupJoinsOwner(t *testing.T) {
	groups := newFakeGroupStore()
	memberships := &fakeMembershipStore{}
	ownerID := uuid.New().String()
	r := setupRouter(groups, memberships, ownerID)

	w := doJSON(t, r, http.MethodPost, "/groups", gin.H{
		"name":      "Corner Cafe Crowd",
		"latitude":  -33.8737,
		"longitude": 151.0950,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	var created models.ChatGroup
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.OwnerID.String() != ownerID {
		t.Errorf("owner id = %s, want %s", created.OwnerID, ownerID)
	}
	if !created.Active {
		t.Error("new group should be active")
	}
	if len(memberships.joins) != 1 || memberships.joins[0] != ownerID {
		t.Errorf("owner not auto-joined: %v", memberships.joins)
	}
}

func TestCreateGroupRejectsBadInput(t *testing.T) {
	r := setupRouter(newFakeGroupStore(), &fakeMembershipStore{}, uuid.New().String())

	testCases := []struct {
		name string
		body gin.H
	}{
		{"missing coordinates", gin.H{"name": "No Location"}},
		{"short name", gin.H{"name": "A", "latitude": 0.0, "longitude": 0.0}},
		{"latitude out of range", gin.H{"name": "Bad Latitude", "latitude": 95.0, "longitude": 0.0}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/groups", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestJoinInactiveGroup(t *testing.T) {
	groups := newFakeGroupStore()
	inactive := &models.ChatGroup{ID: uuid.New(), Name: "Closed Group", Active: false}
	groups.groups[inactive.ID] = inactive
	memberships := &fakeMembershipStore{}
	r := setupRouter(groups, memberships, uuid.New().String())

	w := doJSON(t, r, http.MethodPost, "/groups/"+inactive.ID.String()+"/join", nil)
	if w.Code != http.StatusGone {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusGone)
	}
	if len(memberships.joins) != 0 {
		t.Errorf("inactive group must not accept joins, got %v", memberships.joins)
	}
}

func TestJoinUnknownGroup(t *testing.T) {
	r := setupRouter(newFakeGroupStore(), &fakeMembershipStore{}, uuid.New().String())

	w := doJSON(t, r, http.MethodPost, "/groups/"+uuid.New().String()+"/join", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDeactivateGroupRequiresOwner(t *testing.T) {
	groups := newFakeGroupStore()
	group := &models.ChatGroup{ID: uuid.New(), Name: "Owned Group", OwnerID: uuid.New(), Active: true}
	groups.groups[group.ID] = group
	r := setupRouter(groups, &fakeMembershipStore{}, uuid.New().String())

	w := doJSON(t, r, http.MethodDelete, "/groups/"+group.ID.String(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("non-owner deactivate status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if !group.Active {
		t.Error("group should remain active after a non-owner attempt")
	}
}

func TestListGroupsSelectsProjection(t *testing.T) {
	groups := newFakeGroupStore()
	r := setupRouter(groups, &fakeMembershipStore{}, uuid.New().String())

	w := doJSON(t, r, http.MethodGet, "/groups", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "[]" {
		t.Errorf("empty list should encode as [], got %s", body)
	}

	doJSON(t, r, http.MethodGet, "/groups?columns=minimal", nil)
	if groups.minimalCalls != 1 || groups.fullCalls != 1 {
		t.Errorf("projection selection wrong: full=%d minimal=%d", groups.fullCalls, groups.minimalCalls)
	}
}
