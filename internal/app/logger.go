package app

import (
	"go.uber.org/zap"

	"savings/internal/config"
)

// NewLogger returns a JSON production logger in production and a
// human-readable development logger everywhere else.
func NewLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
