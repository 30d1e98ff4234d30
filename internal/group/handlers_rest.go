package group

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"geochat/internal/middleware"
	"geochat/internal/models"
	"geochat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxGroupFetch bounds the candidate set a discovery request can pull; the
// client filters by distance on its side.
const maxGroupFetch = 100

// RestHandler handles REST API requests for chat groups and memberships.
type RestHandler struct {
	groupStore      store.GroupStore
	membershipStore store.MembershipStore
}

// NewRestHandler creates a group RestHandler.
func NewRestHandler(gs store.GroupStore, ms store.MembershipStore) *RestHandler {
	return &RestHandler{
		groupStore:      gs,
		membershipStore: ms,
	}
}

// ListGroups returns recently active groups, capped at maxGroupFetch.
// ?columns=minimal selects the cheap projection discovery retries with.
// GET /groups?limit=<int>&columns=minimal
func (h *RestHandler) ListGroups(c *gin.Context) {
	limit := maxGroupFetch
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= maxGroupFetch {
			limit = parsed
		}
	}

	var groups []*models.ChatGroup
	var err error
	if c.Query("columns") == "minimal" {
		groups, err = h.groupStore.ListActiveGroupsMinimal(c.Request.Context(), limit)
	} else {
		groups, err = h.groupStore.ListActiveGroups(c.Request.Context(), limit)
	}
	if err != nil {
		log.Printf("ListGroups: Failed to list active groups: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve groups"})
		return
	}

	if groups == nil {
		groups = make([]*models.ChatGroup, 0)
	}
	c.JSON(http.StatusOK, groups)
}

// GetGroup returns a single group with its live member count.
// GET /groups/:id
func (h *RestHandler) GetGroup(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group ID format"})
		return
	}

	group, err := h.groupStore.GetGroupByID(c.Request.Context(), groupID)
	if err != nil {
		if errors.Is(err, store.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
			return
		}
		log.Printf("GetGroup: Failed to get group %s: %v", groupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve group"})
		return
	}
	c.JSON(http.StatusOK, group)
}

// CreateGroup creates a location-anchored group owned by the authenticated
// user. Anonymous devices cannot own groups.
// POST /groups
func (h *RestHandler) CreateGroup(c *gin.Context) {
	var req models.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	ownerIDString, _ := c.Get(middleware.ContextUserID)
	ownerID, err := uuid.Parse(ownerIDString.(string))
	if err != nil {
		log.Printf("CreateGroup: Invalid ownerID from token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user session"})
		return
	}

	coordinate := models.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if !coordinate.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Coordinate is out of range"})
		return
	}

	now := time.Now()
	group := &models.ChatGroup{
		ID:             uuid.New(),
		Name:           req.Name,
		Description:    req.Description,
		OwnerID:        ownerID,
		Latitude:       *req.Latitude,
		Longitude:      *req.Longitude,
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}

	if err := h.groupStore.CreateGroup(c.Request.Context(), group); err != nil {
		log.Printf("CreateGroup: Failed to create group for owner %s: %v", ownerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create group"})
		return
	}

	// Owners are members of their own groups from the start.
	if _, err := h.membershipStore.Join(c.Request.Context(), group.ID, ownerID.String()); err != nil {
		log.Printf("CreateGroup: Failed to add owner %s to group %s: %v", ownerID, group.ID, err)
	} else {
		group.MemberCount = 1
	}

	c.JSON(http.StatusCreated, group)
}

// DeactivateGroup flips a group inactive. Only its owner may do so.
// DELETE /groups/:id
func (h *RestHandler) DeactivateGroup(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group ID format"})
		return
	}

	ownerIDString, _ := c.Get(middleware.ContextUserID)
	ownerID, err := uuid.Parse(ownerIDString.(string))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user session"})
		return
	}

	err = h.groupStore.DeactivateGroup(c.Request.Context(), groupID, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found or not owned by you"})
			return
		}
		log.Printf("DeactivateGroup: Failed to deactivate group %s: %v", groupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deactivate group"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Group deactivated"})
}

// JoinGroup creates (or resurrects) the sender's membership record.
// POST /groups/:id/join
func (h *RestHandler) JoinGroup(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group ID format"})
		return
	}

	group, err := h.groupStore.GetGroupByID(c.Request.Context(), groupID)
	if err != nil {
		if errors.Is(err, store.ErrGroupNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Group not found"})
			return
		}
		log.Printf("JoinGroup: Failed to get group %s: %v", groupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join group"})
		return
	}
	if !group.Active {
		c.JSON(http.StatusGone, gin.H{"error": "Group is no longer active"})
		return
	}

	senderRef, _ := c.Get(middleware.ContextSenderRef)
	membership, err := h.membershipStore.Join(c.Request.Context(), groupID, senderRef.(string))
	if err != nil {
		log.Printf("JoinGroup: Failed to join group %s for sender %s: %v", groupID, senderRef, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join group"})
		return
	}
	c.JSON(http.StatusOK, membership)
}

// LeaveGroup flips the sender's membership inactive; the record survives so
// a later re-join resurrects it.
// POST /groups/:id/leave
func (h *RestHandler) LeaveGroup(c *gin.Context) {
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group ID format"})
		return
	}

	senderRef, _ := c.Get(middleware.ContextSenderRef)
	err = h.membershipStore.Leave(c.Request.Context(), groupID, senderRef.(string))
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active membership for this group"})
			return
		}
		log.Printf("LeaveGroup: Failed to leave group %s for sender %s: %v", groupID, senderRef, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to leave group"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left group"})
}
