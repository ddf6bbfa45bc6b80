package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
)

// NewRelicMiddleware instruments requests with New Relic. A nil app disables it.
func NewRelicMiddleware(app *newrelic.Application) gin.HandlerFunc {
	if app == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return nrgin.Middleware(app)
}

// TransactionAttributes tags the New Relic transaction with the caller and
// payment reference so slow or failing settlements can be traced.
func TransactionAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn != nil {
			if userID := c.GetHeader(UserIDHeader); userID != "" {
				txn.AddAttribute("user_id", userID)
			}
			if reference := c.Param("reference"); reference != "" {
				txn.AddAttribute("payment_reference", reference)
			}
		}

		c.Next()

		if txn != nil {
			for _, err := range c.Errors {
				txn.NoticeError(err.Err)
			}
		}
	}
}
