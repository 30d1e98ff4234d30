package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
)

// Config holds the remote endpoints and credentials for one HTTP client.
// Exactly one of Token or DeviceID should be set; Token wins when both are.
type Config struct {
	// BaseURL is the REST root, e.g. "https://geochat.example.com/api/v1".
	BaseURL string
	// WSURL is the realtime endpoint, e.g. "wss://geochat.example.com/realtime".
	WSURL string
	// Token is a signed-in user's bearer token.
	Token string
	// DeviceID authenticates an anonymous device.
	DeviceID string
	// HTTPClient overrides the default client; nil uses a 15s timeout.
	HTTPClient *http.Client
}

// HTTPBackend talks to the remote service over REST. It implements
// GroupLister, MessageBackend and IdentityRegistrar.
type HTTPBackend struct {
	cfg  Config
	http *http.Client
}

// NewHTTPBackend creates a backend client from cfg.
func NewHTTPBackend(cfg Config) *HTTPBackend {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPBackend{cfg: cfg, http: hc}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	} else if b.cfg.DeviceID != "" {
		req.Header.Set("X-Device-ID", b.cfg.DeviceID)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// ListGroups fetches active groups with their full columns.
func (b *HTTPBackend) ListGroups(ctx context.Context, limit int) ([]*models.ChatGroup, error) {
	var groups []*models.ChatGroup
	path := "/groups?limit=" + strconv.Itoa(limit)
	if err := b.do(ctx, http.MethodGet, path, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// ListGroupsMinimal fetches only id, name and coordinates. This is the
// reduced query used when the full one keeps failing.
func (b *HTTPBackend) ListGroupsMinimal(ctx context.Context, limit int) ([]*models.ChatGroup, error) {
	var groups []*models.ChatGroup
	path := "/groups?limit=" + strconv.Itoa(limit) + "&columns=minimal"
	if err := b.do(ctx, http.MethodGet, path, nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// GetGroup fetches a single group by id.
func (b *HTTPBackend) GetGroup(ctx context.Context, groupID uuid.UUID) (*models.ChatGroup, error) {
	var group models.ChatGroup
	if err := b.do(ctx, http.MethodGet, "/groups/"+groupID.String(), nil, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// CreateGroup creates a group at the given coordinates. Requires a
// signed-in user token.
func (b *HTTPBackend) CreateGroup(ctx context.Context, req *models.CreateGroupRequest) (*models.ChatGroup, error) {
	var group models.ChatGroup
	if err := b.do(ctx, http.MethodPost, "/groups", req, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// JoinGroup records a membership for the caller's sender reference.
func (b *HTTPBackend) JoinGroup(ctx context.Context, groupID uuid.UUID) error {
	return b.do(ctx, http.MethodPost, "/groups/"+groupID.String()+"/join", nil, nil)
}

// LeaveGroup marks the caller's membership inactive.
func (b *HTTPBackend) LeaveGroup(ctx context.Context, groupID uuid.UUID) error {
	return b.do(ctx, http.MethodPost, "/groups/"+groupID.String()+"/leave", nil, nil)
}

// History returns the bounded, retention-windowed message history for a
// group, oldest-first as the server sends it.
func (b *HTTPBackend) History(ctx context.Context, groupID uuid.UUID, limit int) ([]*models.Message, error) {
	var messages []*models.Message
	q := url.Values{}
	q.Set("groupId", groupID.String())
	q.Set("limit", strconv.Itoa(limit))
	if err := b.do(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Send inserts a message and returns the server-confirmed row.
func (b *HTTPBackend) Send(ctx context.Context, req *models.CreateMessageRequest) (*models.Message, error) {
	var message models.Message
	if err := b.do(ctx, http.MethodPost, "/messages", req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

// CheckRateLimit asks the server whether the next insert would be allowed,
// without consuming an allotment.
func (b *HTTPBackend) CheckRateLimit(ctx context.Context) (bool, error) {
	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := b.do(ctx, http.MethodGet, "/rate-limit/check", nil, &result); err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// Vote records a poll vote and returns the updated per-option counts.
func (b *HTTPBackend) Vote(ctx context.Context, messageID string, option string) (map[string]int, error) {
	var result struct {
		Counts map[string]int `json:"counts"`
	}
	req := &models.VoteRequest{Option: option}
	if err := b.do(ctx, http.MethodPost, "/messages/"+messageID+"/vote", req, &result); err != nil {
		return nil, err
	}
	return result.Counts, nil
}

// UpsertIdentity registers or refreshes the device's anonymous identity.
func (b *HTTPBackend) UpsertIdentity(ctx context.Context, req *models.UpsertIdentityRequest) (*models.AnonymousIdentity, error) {
	var identity models.AnonymousIdentity
	if err := b.do(ctx, http.MethodPut, "/identities", req, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

// AuthResponse is the token-bearing result of register and login.
type AuthResponse struct {
	Token string             `json:"token"`
	User  *models.PublicUser `json:"user"`
}

// SignUp registers a new account and stores the returned token on the
// client for subsequent calls.
func (b *HTTPBackend) SignUp(ctx context.Context, req *models.CreateUserRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := b.do(ctx, http.MethodPost, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	b.cfg.Token = resp.Token
	return &resp, nil
}

// SignIn logs in and stores the returned token on the client.
func (b *HTTPBackend) SignIn(ctx context.Context, req *models.LoginUserRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := b.do(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	b.cfg.Token = resp.Token
	return &resp, nil
}

// SignOut tells the server, then drops the local token. The local drop
// happens even when the server call fails.
func (b *HTTPBackend) SignOut(ctx context.Context) error {
	err := b.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	b.cfg.Token = ""
	return err
}

// Session fetches the current user for the stored token.
func (b *HTTPBackend) Session(ctx context.Context) (*models.PublicUser, error) {
	var user models.PublicUser
	if err := b.do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
