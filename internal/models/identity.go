package models

import "time"

// AnonymousIdentity is the remote mirror of a device-local identity.
// The row is upserted every time the identity is requested; lastSeenAt is
// refreshed on conflict.
type AnonymousIdentity struct {
	DeviceID    string    `json:"deviceId" db:"device_id"`
	DisplayName string    `json:"displayName" db:"display_name"`
	AvatarColor string    `json:"avatarColor" db:"avatar_color"`
	LastSeenAt  time.Time `json:"lastSeenAt" db:"last_seen_at"`
}

// UpsertIdentityRequest captures an identity upsert.
type UpsertIdentityRequest struct {
	DeviceID    string `json:"deviceId" binding:"required,uuid"`
	DisplayName string `json:"displayName" binding:"required,min=2,max=60"`
	AvatarColor string `json:"avatarColor" binding:"omitempty,hexcolor"`
}
