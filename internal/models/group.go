package models

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Coordinate is a WGS84 point. Accuracy, when present, is in meters.
type Coordinate struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Valid reports whether the coordinate has finite, in-range components.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) {
		return false
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// ChatGroup represents a location-anchored group chat.
// DistanceKm is derived per discovery request and never persisted.
type ChatGroup struct {
	ID             uuid.UUID `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description" db:"description"`
	OwnerID        uuid.UUID `json:"ownerId" db:"owner_id"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	LastActivityAt time.Time `json:"lastActivityAt" db:"last_activity_at"`
	Active         bool      `json:"active" db:"active"`
	MemberCount    int       `json:"memberCount" db:"member_count"`

	DistanceKm float64 `json:"distanceKm,omitempty" db:"-"`
}

// Coordinate returns the group's anchor point.
func (g *ChatGroup) Coordinate() Coordinate {
	return Coordinate{Latitude: g.Latitude, Longitude: g.Longitude}
}

// Validate rejects rows that drifted from the expected schema.
func (g *ChatGroup) Validate() error {
	if g.ID == uuid.Nil {
		return fmt.Errorf("group is missing an id")
	}
	if g.Name == "" {
		return fmt.Errorf("group %s is missing a name", g.ID)
	}
	if !g.Coordinate().Valid() {
		return fmt.Errorf("group %s has an invalid coordinate (%f, %f)", g.ID, g.Latitude, g.Longitude)
	}
	return nil
}

// CreateGroupRequest captures group creation input.
// Latitude/Longitude are pointers so that 0 is a bindable value.
type CreateGroupRequest struct {
	Name        string   `json:"name" binding:"required,min=2,max=80"`
	Description string   `json:"description" binding:"max=280"`
	Latitude    *float64 `json:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" binding:"required"`
}
