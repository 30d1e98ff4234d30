package realtime

import (
	"log"
	"net/http"

	"geochat/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader upgrades HTTP connections to WebSocket connections.
// CheckOrigin allows all origins; mobile clients do not send a browser
// origin and CORS is enforced on the REST surface.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler handles realtime connection requests.
type WSHandler struct {
	hub *Hub
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *Hub) *WSHandler {
	return &WSHandler{
		hub: hub,
	}
}

// HandleConnection upgrades GET /realtime to a WebSocket connection.
// Browsers and mobile websocket stacks cannot set headers on the upgrade
// request, so credentials arrive as query parameters: either ?token=<jwt>
// for registered users or ?device=<uuid> for anonymous devices.
func (h *WSHandler) HandleConnection(c *gin.Context) {
	senderRef, ok := resolveSender(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Realtime Handler: Failed to upgrade connection for sender %s: %v", senderRef, err)
		return
	}
	log.Printf("Realtime Handler: Connection established for sender %s (%s)", senderRef, conn.RemoteAddr())

	client := NewClient(h.hub, conn, senderRef)
	go client.writePump()
	go client.readPump()
}

func resolveSender(c *gin.Context) (string, bool) {
	if tokenString := c.Query("token"); tokenString != "" {
		claims, err := utils.ValidateJWT(tokenString)
		if err != nil {
			log.Printf("Realtime Handler: Invalid token: %v", err)
			return "", false
		}
		return claims.UserID, true
	}

	if deviceID := c.Query("device"); deviceID != "" {
		if _, err := uuid.Parse(deviceID); err != nil {
			log.Printf("Realtime Handler: Invalid device id %q: %v", deviceID, err)
			return "", false
		}
		return deviceID, true
	}

	log.Println("Realtime Handler: Missing token and device query parameters")
	return "", false
}
