package app

import (
	"fmt"

	"go.uber.org/zap"

	"savings/internal/config"
	"savings/internal/events"
)

// NewPublisher returns a Kafka publisher when brokers are configured and a
// logging publisher otherwise.
func NewPublisher(cfg config.KafkaConfig, logger *zap.Logger) (events.Publisher, error) {
	if !cfg.Enabled() {
		logger.Warn("no kafka brokers configured, notifications will only be logged")
		return events.NewLogPublisher(logger), nil
	}

	publisher, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic, cfg.ClientID, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	logger.Info("publishing notifications to kafka",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
	)
	return publisher, nil
}
