package chat

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"geochat/internal/anonid"
	"geochat/internal/config"
	"geochat/internal/middleware"
	"geochat/internal/models"
	"geochat/internal/ratelimit"
	"geochat/internal/realtime"
	"geochat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxHistoryFetch bounds a single history load.
const maxHistoryFetch = 100

// RestHandler handles REST API requests for messages and poll votes.
type RestHandler struct {
	messageStore    store.MessageStore
	membershipStore store.MembershipStore
	groupStore      store.GroupStore
	userStore       store.UserStore
	limiter         ratelimit.Limiter
	hub             *realtime.Hub
}

// NewRestHandler creates a message RestHandler.
func NewRestHandler(ms store.MessageStore, mbs store.MembershipStore, gs store.GroupStore, us store.UserStore, limiter ratelimit.Limiter, hub *realtime.Hub) *RestHandler {
	return &RestHandler{
		messageStore:    ms,
		membershipStore: mbs,
		groupStore:      gs,
		userStore:       us,
		limiter:         limiter,
		hub:             hub,
	}
}

// PostMessage validates, rate-limits, persists and publishes a new message.
// The hub publish happens after the insert succeeds, on this request's
// goroutine, so subscribers see events in commit order.
// POST /messages
func (h *RestHandler) PostMessage(c *gin.Context) {
	var req models.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}
	if req.Kind == "" {
		req.Kind = models.MessageKindText
	}

	senderKind, _ := c.Get(middleware.ContextSenderKind)
	senderRefVal, _ := c.Get(middleware.ContextSenderRef)
	senderRef := senderRefVal.(string)

	isMember, err := h.membershipStore.IsMember(c.Request.Context(), req.GroupID, senderRef)
	if err != nil {
		log.Printf("PostMessage: Failed membership check for group %s: %v", req.GroupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	if !isMember {
		c.JSON(http.StatusForbidden, gin.H{"error": "You must join this group before posting"})
		return
	}

	allowed, err := h.limiter.Allow(c.Request.Context(), senderRef)
	if err != nil {
		log.Printf("PostMessage: Rate limit check failed for sender %s: %v", senderRef, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}
	if !allowed {
		// Distinct payload so clients can tell throttling apart from a
		// generic send failure.
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":   "rate_limited",
			"message": "You are sending messages too quickly. Please wait a moment.",
		})
		return
	}

	message := &models.Message{
		ID:          uuid.New().String(),
		GroupID:     req.GroupID,
		Content:     req.Content,
		SentAt:      models.JSONTime(time.Now()),
		SenderKind:  senderKind.(models.SenderKind),
		AvatarColor: anonid.AvatarColor(senderRef),
		Kind:        req.Kind,
		Poll:        req.Poll,
	}
	if message.SenderKind == models.SenderKindAnonymous {
		message.DeviceID = senderRef
		message.DisplayName = anonid.DisplayName(senderRef)
	} else {
		message.UserID = senderRef
		if user, err := h.userStore.GetUserByID(c.Request.Context(), senderRef); err == nil {
			message.DisplayName = user.Username
		} else {
			log.Printf("PostMessage: Could not fetch sender details for user %s: %v", senderRef, err)
			message.DisplayName = "Unknown"
		}
	}

	if err := message.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message", "details": err.Error()})
		return
	}

	if err := h.messageStore.InsertMessage(c.Request.Context(), message); err != nil {
		log.Printf("PostMessage: Failed to store message for group %s: %v", req.GroupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send message"})
		return
	}

	if err := h.groupStore.TouchActivity(c.Request.Context(), req.GroupID, message.SentAt.Time()); err != nil {
		log.Printf("PostMessage: Failed to touch activity for group %s: %v", req.GroupID, err)
	}

	h.hub.PublishInsert(message)

	c.JSON(http.StatusCreated, message)
}

// GetMessages returns the bounded, windowed history for a group,
// oldest-first.
// GET /messages?groupId=<uuid>&limit=<int>
func (h *RestHandler) GetMessages(c *gin.Context) {
	groupIDStr := c.Query("groupId")
	if groupIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "groupId query parameter is required"})
		return
	}
	groupID, err := uuid.Parse(groupIDStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid groupId format"})
		return
	}

	limit := maxHistoryFetch
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= maxHistoryFetch {
			limit = parsed
		}
	}

	messages, err := h.messageStore.ListRecentByGroup(c.Request.Context(), groupID, config.Cfg.MessageRetention, limit)
	if err != nil {
		log.Printf("GetMessages: Failed to get messages for group %s: %v", groupID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve messages"})
		return
	}

	if messages == nil {
		messages = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, messages)
}

// CheckRateLimit is the pre-send check clients call before inserting.
// It does not consume an allotment.
// GET /rate-limit/check
func (h *RestHandler) CheckRateLimit(c *gin.Context) {
	senderRef, _ := c.Get(middleware.ContextSenderRef)
	allowed, err := h.limiter.Peek(c.Request.Context(), senderRef.(string))
	if err != nil {
		log.Printf("CheckRateLimit: Failed for sender %s: %v", senderRef, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check rate limit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": allowed})
}

// PostVote records the sender's vote on a poll message; revoting replaces
// the previous option.
// POST /messages/:id/vote
func (h *RestHandler) PostVote(c *gin.Context) {
	messageID := c.Param("id")

	var req models.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "details": err.Error()})
		return
	}

	message, err := h.messageStore.GetMessageByID(c.Request.Context(), messageID)
	if err != nil {
		if errors.Is(err, store.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Message not found"})
			return
		}
		log.Printf("PostVote: Failed to get message %s: %v", messageID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record vote"})
		return
	}
	if message.Kind != models.MessageKindPoll || message.Poll == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is not a poll"})
		return
	}

	validOption := false
	for _, option := range message.Poll.Options {
		if option == req.Option {
			validOption = true
			break
		}
	}
	if !validOption {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Option is not part of this poll"})
		return
	}

	senderRef, _ := c.Get(middleware.ContextSenderRef)
	vote := &models.PollVote{
		MessageID: messageID,
		Option:    req.Option,
		VoterRef:  senderRef.(string),
		CreatedAt: time.Now(),
	}
	if err := h.membershipStore.RecordVote(c.Request.Context(), vote); err != nil {
		log.Printf("PostVote: Failed to record vote for message %s: %v", messageID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record vote"})
		return
	}

	counts, err := h.membershipStore.CountVotesByOption(c.Request.Context(), messageID)
	if err != nil {
		log.Printf("PostVote: Failed to count votes for message %s: %v", messageID, err)
		c.JSON(http.StatusOK, gin.H{"message": "Vote recorded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Vote recorded", "counts": counts})
}
