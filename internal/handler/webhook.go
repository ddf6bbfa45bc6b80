package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"savings/internal/service"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives gateway notifications.
type WebhookHandler struct {
	reconciler      *service.ReconciliationService
	signatureHeader string
	logger          *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler *service.ReconciliationService, signatureHeader string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		reconciler:      reconciler,
		signatureHeader: signatureHeader,
		logger:          logger.Named("webhook"),
	}
}

// WebhookResponse acknowledges a notification.
type WebhookResponse struct {
	Status  string           `json:"status"`
	Event   string           `json:"event,omitempty"`
	Outcome *OutcomeResponse `json:"outcome,omitempty"`
}

// Handle handles POST /webhooks/gateway
// The signature is computed over the raw body, so it is read before any decoding.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable body"})
		return
	}

	result, err := h.reconciler.HandleWebhook(c.Request.Context(), body, c.GetHeader(h.signatureHeader))
	if err != nil {
		h.logger.Warn("webhook not processed",
			zap.String("remote_ip", c.ClientIP()),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	resp := WebhookResponse{Status: result.Status, Event: result.Event}
	if result.Outcome != nil {
		outcome := toOutcomeResponse(result.Outcome)
		resp.Outcome = &outcome
	}
	respondJSON(c, http.StatusOK, resp)
}
