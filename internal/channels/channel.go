// Package channels connects chat platforms to the message bus.
package channels

import (
	"context"

	"github.com/haasonsaas/clawcore/pkg/models"
)

// Adapter is implemented by every chat platform integration.
type Adapter interface {
	// Start connects to the platform and begins producing inbound messages.
	// It returns once the adapter is running; the receive loop continues in
	// the background until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop disconnects and closes the Messages channel.
	Stop(ctx context.Context) error

	// Send delivers one message. Callers split text to the channel limit
	// before calling Send.
	Send(ctx context.Context, msg *models.OutboundMessage) error

	// Messages returns the inbound stream.
	Messages() <-chan *models.InboundMessage

	// Type returns the channel type.
	Type() models.ChannelType

	// Status returns the current connection status.
	Status() Status
}

// Status represents the connection status of a channel.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"` // Unix timestamp
}

// MessageLimit is the longest text each platform accepts in one message.
func MessageLimit(channel models.ChannelType) int {
	switch channel {
	case models.ChannelTelegram:
		return 4096
	case models.ChannelDiscord:
		return 2000
	case models.ChannelSlack:
		return 4000
	default:
		return 0
	}
}
