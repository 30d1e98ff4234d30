// Package anonid derives the stable anonymous presentation of a device:
// a display name and an avatar color, both deterministic functions of the
// device id so every participant renders the same sender identically.
package anonid

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

var adjectives = []string{
	"Amber", "Brisk", "Calm", "Dusty", "Eager", "Foggy", "Gentle", "Hazel",
	"Ivory", "Jolly", "Keen", "Lucky", "Mellow", "Nimble", "Quiet", "Rusty",
	"Silent", "Swift", "Velvet", "Wandering",
}

var animals = []string{
	"Bilby", "Cockatoo", "Dingo", "Echidna", "Falcon", "Galah", "Heron",
	"Ibis", "Kookaburra", "Lyrebird", "Magpie", "Numbat", "Otter", "Pelican",
	"Quokka", "Rosella", "Seal", "Tern", "Wallaby", "Wombat",
}

var avatarColors = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231", "#911eb4",
	"#46f0f0", "#f032e6", "#bcf60c", "#008080", "#9a6324", "#800000",
}

// DisplayName derives a display name such as "Silent Quokka 27" from a
// device id. The same device id always yields the same name.
func DisplayName(deviceID string) string {
	sum := sha256.Sum256([]byte(deviceID))
	adjective := adjectives[int(sum[0])%len(adjectives)]
	animal := animals[int(sum[1])%len(animals)]
	suffix := binary.BigEndian.Uint16(sum[2:4]) % 100
	return fmt.Sprintf("%s %s %02d", adjective, animal, suffix)
}

// AvatarColor derives a stable avatar color for a sender reference.
func AvatarColor(senderRef string) string {
	sum := sha256.Sum256([]byte(senderRef))
	return avatarColors[int(sum[4])%len(avatarColors)]
}
