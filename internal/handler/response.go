package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"savings/internal/domain"
	"savings/internal/repository"
	"savings/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	resp := ErrorResponse{Error: err.Error(), Retryable: service.IsRetryable(err)}

	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		resp.Field = vErr.Field
	}
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
		resp.Error = "internal error"
	}
	c.JSON(code, resp)
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	var (
		vErr        *service.ValidationError
		gwErr       *service.GatewayError
		conflictErr *service.StateConflictError
	)

	switch {
	// Validation errors - Bad Request
	case errors.As(err, &vErr),
		errors.Is(err, service.ErrInvalidReference),
		errors.Is(err, service.ErrMalformedWebhook):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrInvalidUserID),
		errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrNotPaymentOwner):
		return http.StatusForbidden

	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.As(err, &conflictErr):
		return http.StatusConflict

	// Upstream errors, safe to retry
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrDuplicateReference):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// PaymentResponse is the HTTP view of a payment.
type PaymentResponse struct {
	ID               string                 `json:"id"`
	Reference        string                 `json:"reference"`
	UserID           string                 `json:"user_id"`
	Amount           int64                  `json:"amount"`
	Currency         string                 `json:"currency"`
	Status           string                 `json:"status"`
	Type             string                 `json:"type"`
	Metadata         domain.PaymentMetadata `json:"metadata"`
	GatewayData      *domain.GatewayData    `json:"gateway_data,omitempty"`
	AuthorizationURL string                 `json:"authorization_url,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	SettledAt        *time.Time             `json:"settled_at,omitempty"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:               p.ID,
		Reference:        p.Reference,
		UserID:           p.UserID,
		Amount:           p.Amount,
		Currency:         p.Currency,
		Status:           string(p.Status),
		Type:             string(p.Type),
		Metadata:         p.Metadata,
		GatewayData:      p.GatewayData,
		AuthorizationURL: p.AuthorizationURL,
		CreatedAt:        p.CreatedAt,
	}
	if !p.SettledAt.IsZero() {
		settledAt := p.SettledAt
		resp.SettledAt = &settledAt
	}
	return resp
}

// ContributionResponse is the HTTP view of a contribution.
type ContributionResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description,omitempty"`
	PaymentRef  string    `json:"payment_ref"`
	PaidAt      time.Time `json:"paid_at"`
	Status      string    `json:"status"`
}

// TargetResponse is the HTTP view of a target aggregate.
type TargetResponse struct {
	ID             string                 `json:"id"`
	Kind           string                 `json:"kind"`
	Name           string                 `json:"name"`
	OwnerID        string                 `json:"owner_id"`
	TargetAmount   int64                  `json:"target_amount"`
	CurrentAmount  int64                  `json:"current_amount"`
	Progress       int                    `json:"progress"`
	DurationMonths int                    `json:"duration_months,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	Contributions  []ContributionResponse `json:"contributions"`
}

func toTargetResponse(t *domain.Target) *TargetResponse {
	if t == nil {
		return nil
	}
	resp := &TargetResponse{
		ID:             t.ID,
		Kind:           string(t.Kind),
		Name:           t.Name,
		OwnerID:        t.OwnerID,
		TargetAmount:   t.TargetAmount,
		CurrentAmount:  t.CurrentAmount,
		Progress:       t.Progress(),
		DurationMonths: t.DurationMonths,
		CreatedAt:      t.CreatedAt,
		Contributions:  make([]ContributionResponse, 0, len(t.Contributions)),
	}
	for _, c := range t.Contributions {
		resp.Contributions = append(resp.Contributions, ContributionResponse{
			ID:          c.ID,
			UserID:      c.UserID,
			Amount:      c.Amount,
			Description: c.Description,
			PaymentRef:  c.PaymentRef,
			PaidAt:      c.PaidAt,
			Status:      string(c.Status),
		})
	}
	return resp
}

// OutcomeResponse is returned by verify and webhook processing.
type OutcomeResponse struct {
	Payment PaymentResponse `json:"payment"`
	Target  *TargetResponse `json:"target,omitempty"`
	Warning string          `json:"warning,omitempty"`
}

func toOutcomeResponse(o *service.Outcome) OutcomeResponse {
	return OutcomeResponse{
		Payment: toPaymentResponse(o.Payment),
		Target:  toTargetResponse(o.Target),
		Warning: o.Warning,
	}
}

func queryInt(c *gin.Context, name string, defaultValue int) int {
	value := c.Query(name)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
