package schema

import "errors"

// ServiceConfig defines defaults and limits for the coordinator.
type ServiceConfig struct {
	// QueueDepth bounds the number of pending coordinator tasks.
	QueueDepth int
	// DisableAuditLogging disables audit trail debug logs for console input.
	DisableAuditLogging bool
}

// DefaultQueueDepth is the default coordinator task queue depth.
const DefaultQueueDepth = 256

// MaxQueueDepth caps the coordinator task queue depth.
const MaxQueueDepth = 1 << 16

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.QueueDepth > MaxQueueDepth {
		return ServiceConfig{}, errors.New("queue depth exceeds maximum")
	}
	return cfg, nil
}
