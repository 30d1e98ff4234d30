package client

import (
	"time"

	"geochat/internal/models"

	"github.com/google/uuid"
)

// sampleSeed positions one degraded-mode group relative to the caller.
// Offsets are fractions of the requested radius so every sample falls inside
// it regardless of how small the radius is.
type sampleSeed struct {
	name        string
	description string
	latFrac     float64
	lngFrac     float64
}

var sampleSeeds = []sampleSeed{
	{name: "Corner Cafe Crowd", description: "Chat with people around the local cafe strip", latFrac: 0.18, lngFrac: 0.12},
	{name: "Park Run Regulars", description: "Morning runners and dog walkers nearby", latFrac: -0.25, lngFrac: 0.20},
	{name: "Night Owls", description: "Late-night chatter for whoever is still up", latFrac: 0.10, lngFrac: -0.30},
}

// kmPerDegreeLat is close enough for placing demo pins.
const kmPerDegreeLat = 111.32

// sampleGroups synthesizes the fixed degraded-mode group set at
// deterministic offsets from origin. Ids are name-derived UUIDs so repeated
// fallbacks produce the same groups.
func sampleGroups(origin models.Coordinate, radiusKm float64, now time.Time) []*models.ChatGroup {
	groups := make([]*models.ChatGroup, 0, len(sampleSeeds))
	for _, seed := range sampleSeeds {
		latOffset := seed.latFrac * radiusKm / kmPerDegreeLat
		lngOffset := seed.lngFrac * radiusKm / kmPerDegreeLat

		group := &models.ChatGroup{
			ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte("geochat-sample:"+seed.name)),
			Name:           seed.name,
			Description:    seed.description,
			Latitude:       origin.Latitude + latOffset,
			Longitude:      origin.Longitude + lngOffset,
			CreatedAt:      now,
			LastActivityAt: now,
			Active:         true,
		}
		group.DistanceKm = HaversineKm(origin, group.Coordinate())
		groups = append(groups, group)
	}
	return groups
}
