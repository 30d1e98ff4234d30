package client

import (
	"context"
	"fmt"

	"geochat/internal/anonid"
	"geochat/internal/models"
)

// IdentityRegistrar pushes the device's anonymous identity to the server so
// other participants see the same name and color.
type IdentityRegistrar interface {
	UpsertIdentity(ctx context.Context, req *models.UpsertIdentityRequest) (*models.AnonymousIdentity, error)
}

// Identity is the device's anonymous persona: a stable pseudonymous display
// name and avatar color derived from the device id, never from the user.
type Identity struct {
	DeviceID    string
	DisplayName string
	AvatarColor string
}

// DeriveIdentity computes the persona for a device id. Deterministic, so
// every derivation for the same device agrees without any stored mapping.
func DeriveIdentity(deviceID string) Identity {
	return Identity{
		DeviceID:    deviceID,
		DisplayName: anonid.DisplayName(deviceID),
		AvatarColor: anonid.AvatarColor(deviceID),
	}
}

// RegisterIdentity derives the device persona and registers it with the
// server. Call once at startup and again whenever the device id changes.
func RegisterIdentity(ctx context.Context, registrar IdentityRegistrar, deviceID string) (Identity, error) {
	id := DeriveIdentity(deviceID)
	_, err := registrar.UpsertIdentity(ctx, &models.UpsertIdentityRequest{
		DeviceID:    id.DeviceID,
		DisplayName: id.DisplayName,
		AvatarColor: id.AvatarColor,
	})
	if err != nil {
		return Identity{}, fmt.Errorf("failed to register device identity: %w", err)
	}
	return id, nil
}

// AnonymousSender builds the Sender used for optimistic entries from a
// device persona.
func (id Identity) AnonymousSender() Sender {
	return Sender{
		Kind:        models.SenderKindAnonymous,
		Ref:         id.DeviceID,
		DisplayName: id.DisplayName,
		AvatarColor: id.AvatarColor,
	}
}
