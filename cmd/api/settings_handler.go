package api

import (
	"context"
	"net/http"
	"time"

	"jobtrack-backend/pkg/ai"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const ollamaPingTimeout = 5 * time.Second

// SettingsHandler exposes the Ollama endpoint the classifier reads.
type SettingsHandler struct {
	ollama *ai.OllamaSettings
	log    zerolog.Logger
}

func NewSettingsHandler(ollama *ai.OllamaSettings, log zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{ollama: ollama, log: log}
}

type OllamaSettingsRequest struct {
	BaseURL string `json:"ollama_base_url" binding:"required"`
	Model   string `json:"ollama_model,omitempty"`
}

// GET /api/settings/ollama
func (h *SettingsHandler) GetOllama(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ollama_base_url": h.ollama.BaseURL(),
		"ollama_model":    h.ollama.Model(),
	})
}

// PUT /api/settings/ollama
func (h *SettingsHandler) UpdateOllama(c *gin.Context) {
	var req OllamaSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ollama.Update(req.BaseURL, req.Model); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.log.Info().
		Str("user_id", c.GetString("userID")).
		Str("ollama_base_url", h.ollama.BaseURL()).
		Str("ollama_model", h.ollama.Model()).
		Msg("ollama settings changed")
	h.GetOllama(c)
}

// TestOllama pings the configured server, or the one named in the body.
// POST /api/settings/ollama/test
func (h *SettingsHandler) TestOllama(c *gin.Context) {
	var req struct {
		BaseURL string `json:"ollama_base_url"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.BaseURL == "" {
		req.BaseURL = h.ollama.BaseURL()
	}
	if err := ai.ValidateOllamaURL(req.BaseURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ollamaPingTimeout)
	defer cancel()
	if err := ai.NewOllamaService(req.BaseURL, "").Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"connected": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "ollama_base_url": req.BaseURL})
}
