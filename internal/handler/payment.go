package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"savings/internal/domain"
	"savings/internal/middleware"
	"savings/internal/service"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	paymentService *service.PaymentService
	reconciler     *service.ReconciliationService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentService *service.PaymentService, reconciler *service.ReconciliationService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		reconciler:     reconciler,
	}
}

// InitializePaymentRequest is the HTTP request body for starting a payment.
type InitializePaymentRequest struct {
	Email          string `json:"email"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	TargetID       string `json:"target_id"`
	TargetName     string `json:"target_name"`
	DurationMonths int    `json:"duration_months"`
	Description    string `json:"description"`
}

// InitializePaymentResponse is the HTTP response for a started payment.
type InitializePaymentResponse struct {
	Reference        string               `json:"reference"`
	AuthorizationURL string               `json:"authorization_url"`
	AccessCode       string               `json:"access_code"`
	Amount           int64                `json:"amount"`
	Currency         string               `json:"currency"`
	Fee              service.FeeBreakdown `json:"fee"`
}

// Initialize handles POST /v1/payments/initialize
func (h *PaymentHandler) Initialize(c *gin.Context) {
	var req InitializePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.paymentService.Initialize(c.Request.Context(), service.InitializeRequest{
		UserID:         middleware.UserID(c),
		Email:          req.Email,
		Type:           domain.PaymentType(req.Type),
		Amount:         req.Amount,
		TargetID:       req.TargetID,
		TargetName:     req.TargetName,
		DurationMonths: req.DurationMonths,
		Description:    req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, InitializePaymentResponse{
		Reference:        result.Payment.Reference,
		AuthorizationURL: result.AuthorizationURL,
		AccessCode:       result.AccessCode,
		Amount:           result.Payment.Amount,
		Currency:         result.Payment.Currency,
		Fee:              result.Fee,
	})
}

// DurationTierResponse is one row of the duration fee table.
type DurationTierResponse struct {
	MaxMonths int             `json:"max_months"`
	Percent   decimal.Decimal `json:"percent"`
}

// FeeStructureResponse describes the fee policy in effect.
type FeeStructureResponse struct {
	CreationBasePercent decimal.Decimal        `json:"creation_base_percent"`
	DurationTiers       []DurationTierResponse `json:"duration_tiers"`
	CreationMinFee      int64                  `json:"creation_min_fee"`
	CreationMaxFee      int64                  `json:"creation_max_fee"`
	ContributionPercent decimal.Decimal        `json:"contribution_percent"`
	ContributionMinFee  int64                  `json:"contribution_min_fee"`
	ContributionMaxFee  int64                  `json:"contribution_max_fee"`
	MinAmount           int64                  `json:"min_amount"`
	MaxAmount           int64                  `json:"max_amount"`
	Quote               *service.FeeBreakdown  `json:"quote,omitempty"`
}

// GetFees handles GET /v1/payments/fees
// With amount and type query parameters the response also carries a quote.
func (h *PaymentHandler) GetFees(c *gin.Context) {
	schedule := h.paymentService.FeeStructure()

	resp := FeeStructureResponse{
		CreationBasePercent: schedule.CreationBasePercent,
		CreationMinFee:      schedule.CreationMinFee,
		CreationMaxFee:      schedule.CreationMaxFee,
		ContributionPercent: schedule.ContributionPercent,
		ContributionMinFee:  schedule.ContributionMinFee,
		ContributionMaxFee:  schedule.ContributionMaxFee,
		MinAmount:           schedule.MinAmount,
		MaxAmount:           schedule.MaxAmount,
	}
	for _, tier := range schedule.DurationTiers {
		resp.DurationTiers = append(resp.DurationTiers, DurationTierResponse{
			MaxMonths: tier.MaxMonths,
			Percent:   tier.Percent,
		})
	}

	if amount := queryInt(c, "amount", 0); amount > 0 {
		quote, err := h.paymentService.QuoteFee(int64(amount), domain.PaymentType(c.Query("type")), queryInt(c, "duration_months", 0))
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Quote = &quote
	}

	respondJSON(c, http.StatusOK, resp)
}

// GetPayment handles GET /v1/payments/:reference
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("reference"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}

// ListPayments handles GET /v1/payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	payments, err := h.paymentService.ListPayments(c.Request.Context(), middleware.UserID(c), queryInt(c, "limit", 0))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, toPaymentResponse(p))
	}
	respondJSON(c, http.StatusOK, resp)
}

// VerifyPayment handles GET /v1/payments/:reference/verify
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	reference := c.Param("reference")

	// Ownership is checked before the gateway is asked.
	if _, err := h.paymentService.GetPayment(c.Request.Context(), reference, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}

	outcome, err := h.reconciler.Verify(c.Request.Context(), reference)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toOutcomeResponse(outcome))
}

// CancelPayment handles POST /v1/payments/:reference/cancel
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	payment, err := h.reconciler.Cancel(c.Request.Context(), c.Param("reference"), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}
