package identity

import (
	"log"
	"net/http"
	"time"

	"geochat/internal/anonid"
	"geochat/internal/models"
	"geochat/internal/store"

	"github.com/gin-gonic/gin"
)

// Handler exposes anonymous-identity HTTP handlers.
type Handler struct {
	identityStore store.IdentityStore
}

// NewHandler creates an identity Handler.
func NewHandler(identityStore store.IdentityStore) *Handler {
	return &Handler{identityStore: identityStore}
}

// UpsertIdentity mirrors a device identity server-side: created if absent,
// last_seen_at refreshed if present.
// PUT /identities
func (h *Handler) UpsertIdentity(c *gin.Context) {
	var req models.UpsertIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	avatarColor := req.AvatarColor
	if avatarColor == "" {
		avatarColor = anonid.AvatarColor(req.DeviceID)
	}

	identity := &models.AnonymousIdentity{
		DeviceID:    req.DeviceID,
		DisplayName: req.DisplayName,
		AvatarColor: avatarColor,
		LastSeenAt:  time.Now(),
	}

	if err := h.identityStore.UpsertIdentity(c.Request.Context(), identity); err != nil {
		log.Printf("UpsertIdentity: Failed to upsert identity %s: %v", req.DeviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store identity"})
		return
	}

	c.JSON(http.StatusOK, identity)
}
