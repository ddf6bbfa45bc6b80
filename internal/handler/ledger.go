package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"savings/internal/middleware"
	"savings/internal/service"
)

// LedgerHandler serves targets and the transaction log.
type LedgerHandler struct {
	ledgerService *service.LedgerService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledgerService *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerService: ledgerService}
}

// TransactionResponse is the HTTP view of a transaction log entry.
type TransactionResponse struct {
	TransactionID string     `json:"transaction_id"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Fee           int64      `json:"fee"`
	NetAmount     int64      `json:"net_amount"`
	TargetType    string     `json:"target_type"`
	TargetID      string     `json:"target_id,omitempty"`
	PaymentRef    string     `json:"payment_ref"`
	InitiatedAt   time.Time  `json:"initiated_at"`
	ProcessedAt   time.Time  `json:"processed_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ListTransactions handles GET /v1/transactions
func (h *LedgerHandler) ListTransactions(c *gin.Context) {
	entries, err := h.ledgerService.ListTransactions(
		c.Request.Context(),
		middleware.UserID(c),
		queryInt(c, "limit", 0),
		queryInt(c, "offset", 0),
	)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]TransactionResponse, 0, len(entries))
	for _, e := range entries {
		item := TransactionResponse{
			TransactionID: e.TransactionID,
			Type:          string(e.Type),
			Status:        string(e.Status),
			Amount:        e.Amount,
			Fee:           e.Fee,
			NetAmount:     e.NetAmount,
			TargetType:    string(e.TargetType),
			TargetID:      e.TargetID,
			PaymentRef:    e.PaymentRef,
			InitiatedAt:   e.InitiatedAt,
			ProcessedAt:   e.ProcessedAt,
		}
		if !e.CompletedAt.IsZero() {
			completedAt := e.CompletedAt
			item.CompletedAt = &completedAt
		}
		resp = append(resp, item)
	}
	respondJSON(c, http.StatusOK, resp)
}

// GetTarget handles GET /v1/targets/:id
func (h *LedgerHandler) GetTarget(c *gin.Context) {
	target, err := h.ledgerService.GetTarget(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toTargetResponse(target))
}
