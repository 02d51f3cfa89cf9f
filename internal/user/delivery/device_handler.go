package delivery

import (
	"net/http"

	userRepo "jobtrack-backend/internal/user/repository"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type RegisterDeviceRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

// DeviceHandler registers the FCM tokens that status-change pushes go to.
type DeviceHandler struct {
	tokens userRepo.DeviceTokenRepository
	log    zerolog.Logger
}

func NewDeviceHandler(tokens userRepo.DeviceTokenRepository, log zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{tokens: tokens, log: log}
}

// RegisterDeviceToken
// POST /api/fcm/register
func (h *DeviceHandler) RegisterDeviceToken(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	if err := h.tokens.SaveToken(c.Request.Context(), userID, req.Token, req.DeviceInfo); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to save device token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token registered"})
}

// UnregisterDeviceToken
// DELETE /api/fcm/:token
func (h *DeviceHandler) UnregisterDeviceToken(c *gin.Context) {
	token := c.Param("token")
	if err := h.tokens.DeleteToken(c.Request.Context(), token); err != nil {
		h.log.Error().Err(err).Msg("failed to delete device token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unregister token"})
		return
	}
	c.Status(http.StatusNoContent)
}
