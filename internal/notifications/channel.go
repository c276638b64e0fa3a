// Package notifications delivers alert messages to external channels. A
// channel owns one transport; the dispatcher fans alerts out to every
// configured channel and is responsible for re-queueing rate-limited sends.
package notifications

import (
	"context"
	"fmt"
	"time"
)

// DeliveryStatus is the outcome of one send attempt.
type DeliveryStatus string

const (
	DeliverySent             DeliveryStatus = "sent"
	DeliveryFailed           DeliveryStatus = "failed"
	DeliveryRateLimited      DeliveryStatus = "rate_limited"
	DeliveryInvalidRecipient DeliveryStatus = "invalid_recipient"
)

// DeliveryResult reports one delivery attempt. RetryAfter is set only for
// rate_limited results; the caller re-queues after that many seconds.
type DeliveryResult struct {
	Status     DeliveryStatus `json:"status"`
	MessageID  string         `json:"messageId,omitempty"`
	RetryAfter int            `json:"retryAfter,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Message is the channel-independent notification content.
type Message struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Severity int                    `json:"severity"`
	AlertID  string                 `json:"alertId,omitempty"`
	RuleName string                 `json:"ruleName,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// Channel is the contract every notification transport implements.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message, recipient string) (*DeliveryResult, error)
	ValidateConfig() error
	ValidateRecipient(recipient string) error
	HealthCheck(ctx context.Context) error
}

// MessageEditor is implemented by channels whose transport supports editing
// an already delivered message.
type MessageEditor interface {
	UpdateMessage(ctx context.Context, messageID string, msg Message) (*DeliveryResult, error)
	DeleteMessage(ctx context.Context, messageID string) error
}

// Reactor is implemented by channels that support message reactions.
type Reactor interface {
	AddReaction(ctx context.Context, messageID, reaction string) error
}

// SeverityLabel maps the 0-100 severity scale onto a coarse level name.
func SeverityLabel(severity int) string {
	switch {
	case severity >= 90:
		return "critical"
	case severity >= 70:
		return "high"
	case severity >= 40:
		return "medium"
	case severity >= 10:
		return "low"
	default:
		return "info"
	}
}

// FormatDuration renders a duration the way humans read alert ages.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
