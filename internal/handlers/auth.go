package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/identity"
)

const tokenTTL = 24 * time.Hour

// LoginRequest names the participant to issue a token for. The relay has no
// account store, so the password is required but never checked.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresIn int64  `json:"expires_in"`
}

// Login turns a username into a participant token. The username becomes
// the participant id used in signaling messages and presence sets.
func Login(jwtSecret string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}
		participant := strings.TrimSpace(req.Username)
		if participant == "" || strings.ContainsAny(participant, " \t/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username must be a single word"})
			return
		}

		token, err := identity.Issue(jwtSecret, participant, tokenTTL)
		if err != nil {
			log.Error("issue token", zap.String("user", participant), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
			return
		}
		log.Debug("token issued", zap.String("user", participant))

		c.JSON(http.StatusOK, LoginResponse{
			Token:     token,
			UserID:    participant,
			ExpiresIn: int64(tokenTTL / time.Second),
		})
	}
}
