package bus

import (
	"fmt"

	"github.com/teamlens/kestrel/internal/domain"
)

// New creates a new event bus based on configuration.
// Single-process deployments use ChannelBus; hosted deployments use NATSBus
// so the refresher can run in a separate process.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
