package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pomelo/internal/model"
	"pomelo/internal/service"
)

// webhookTokenHeader carries the per-session secret issued at provisioning
const webhookTokenHeader = "X-Webhook-Token"

// maxWebhookBody caps one event payload (media travels by URL, not inline)
const maxWebhookBody = 1 << 20

// WebhookHandler inbound channel-provider events
type WebhookHandler struct {
	webhookService *service.WebhookService
}

// NewWebhookHandler creates the webhook handler
func NewWebhookHandler(webhookService *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// Receive handles one provider event.
// @Summary      Receive a channel webhook event
// @Description  One event per call; unknown event types are acknowledged and dropped
// @Tags         webhook
// @Accept       json
// @Produce      json
// @Param        sessionId  path      string  true  "session id"
// @Success      200        {object}  map[string]interface{}
// @Failure      401        {object}  model.ErrorResponse
// @Failure      404        {object}  model.ErrorResponse
// @Router       /webhook/{sessionId} [post]
func (h *WebhookHandler) Receive(c *gin.Context) {
	sessionID := c.Param("sessionId")
	token := c.GetHeader(webhookTokenHeader)

	ctx := c.Request.Context()
	sess, err := h.webhookService.Authorize(ctx, sessionID, token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			notFound(c, "session not found")
		case errors.Is(err, service.ErrBadWebhookToken):
			c.JSON(http.StatusUnauthorized, model.ErrorResponse{
				Code:    40103,
				Message: "Invalid webhook token",
			})
		default:
			internalError(c, err)
		}
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}

	evt, err := model.ParseEvent(body)
	if err != nil {
		if errors.Is(err, model.ErrUnknownEvent) {
			// acknowledged so the channel does not retry
			log.Warn().Str("session_id", sessionID).Str("event", string(evt.Type)).Msg("unknown webhook event type")
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		badRequest(c, err.Error())
		return
	}

	if err := h.webhookService.Process(ctx, sess, evt); err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
