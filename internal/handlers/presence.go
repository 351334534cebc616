package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/middleware"
	"github.com/mossy-p/meshcall/internal/models"
)

// PresenceHandler exposes a room's presence set over HTTP.
type PresenceHandler struct {
	store PresenceStore
	log   *zap.Logger
}

func NewPresenceHandler(store PresenceStore, log *zap.Logger) *PresenceHandler {
	return &PresenceHandler{store: store, log: log.Named("presence")}
}

// Get lists the participants present in a room (public)
func (p *PresenceHandler) Get(c *gin.Context) {
	roomID := c.Param("roomId")

	ids, err := p.store.PresentUserIDs(c.Request.Context(), roomID)
	if err != nil {
		p.log.Error("read presence", zap.String("room", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read presence"})
		return
	}
	if ids == nil {
		ids = []string{}
	}

	c.JSON(http.StatusOK, models.PresenceResponse{
		RoomID:         roomID,
		PresentUserIDs: ids,
	})
}

// Join marks the caller present (requires authentication)
func (p *PresenceHandler) Join(c *gin.Context) {
	p.update(c, true)
}

// Leave marks the caller absent (requires authentication)
func (p *PresenceHandler) Leave(c *gin.Context) {
	p.update(c, false)
}

func (p *PresenceHandler) update(c *gin.Context, present bool) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	roomID := c.Param("roomId")

	var err error
	if present {
		err = p.store.Join(c.Request.Context(), roomID, userID)
	} else {
		err = p.store.Leave(c.Request.Context(), roomID, userID)
	}
	if err != nil {
		p.log.Error("update presence", zap.String("room", roomID), zap.String("user", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update presence"})
		return
	}

	c.Status(http.StatusNoContent)
}
