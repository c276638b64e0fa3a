package notifications

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/argus-soc/argus/internal/metrics"
	"github.com/argus-soc/argus/internal/models"
)

// delivery is one queued send.
type delivery struct {
	channel   Channel
	msg       Message
	recipient string
	attempts  int
}

// Dispatcher fans alert notifications out to the configured channels. It
// implements the alert sink contract, so the detection engine can hand it
// stored alerts directly. Rate-limited deliveries are re-queued after the
// channel's retry_after.
type Dispatcher struct {
	queueDepth  int
	maxAttempts int

	mu       sync.RWMutex
	channels []Channel

	queue chan delivery
	wg    sync.WaitGroup
}

// NewDispatcher builds a dispatcher with the given channels.
func NewDispatcher(channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		queueDepth:  256,
		maxAttempts: 3,
		channels:    channels,
	}
	d.queue = make(chan delivery, d.queueDepth)
	return d
}

// AddChannel registers an additional channel.
func (d *Dispatcher) AddChannel(c Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, c)
}

// AlertStored queues a notification for a freshly raised alert. Repeat hits
// of an existing alert do not re-notify.
func (d *Dispatcher) AlertStored(alert *models.Alert, created bool) {
	if !created {
		return
	}
	d.Notify(Message{
		Title:    alert.Title,
		Body:     alert.Description,
		Severity: alert.Severity,
		AlertID:  alert.ID,
		RuleName: alert.RuleName,
		Fields: map[string]interface{}{
			"hosts": alert.Entities.Hosts,
			"users": alert.Entities.Users,
			"ips":   alert.Entities.IPs,
		},
	})
}

// Notify queues a message for every configured channel. A full queue drops
// the delivery rather than blocking the caller.
func (d *Dispatcher) Notify(msg Message) {
	d.mu.RLock()
	channels := append([]Channel(nil), d.channels...)
	d.mu.RUnlock()

	for _, ch := range channels {
		select {
		case d.queue <- delivery{channel: ch, msg: msg}:
		default:
			log.Warn().Str("channel", ch.Name()).Str("alert_id", msg.AlertID).
				Msg("notification queue full, dropping delivery")
		}
	}
}

// Run drains the delivery queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case del := <-d.queue:
			d.deliver(ctx, del)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, del delivery) {
	del.attempts++
	res, err := del.channel.Send(ctx, del.msg, del.recipient)
	if err != nil {
		log.Error().Err(err).Str("channel", del.channel.Name()).Msg("notification channel error")
		metrics.NotificationsTotal.WithLabelValues(del.channel.Name(), string(DeliveryFailed)).Inc()
		return
	}
	metrics.NotificationsTotal.WithLabelValues(del.channel.Name(), string(res.Status)).Inc()

	switch res.Status {
	case DeliverySent:
		log.Debug().Str("channel", del.channel.Name()).Str("alert_id", del.msg.AlertID).
			Msg("notification delivered")
	case DeliveryRateLimited:
		if del.attempts >= d.maxAttempts {
			log.Warn().Str("channel", del.channel.Name()).Int("attempts", del.attempts).
				Msg("notification dropped after repeated rate limits")
			return
		}
		d.requeueAfter(ctx, del, time.Duration(res.RetryAfter)*time.Second)
	case DeliveryInvalidRecipient:
		log.Warn().Str("channel", del.channel.Name()).Str("error", res.Error).
			Msg("notification recipient invalid")
	default:
		log.Warn().Str("channel", del.channel.Name()).Str("error", res.Error).
			Msg("notification delivery failed")
	}
}

// requeueAfter waits out the rate-limit window in the background, then puts
// the delivery back on the queue.
func (d *Dispatcher) requeueAfter(ctx context.Context, del delivery, wait time.Duration) {
	if wait <= 0 {
		wait = time.Minute
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-ctx.Done():
		case <-time.After(wait):
			select {
			case d.queue <- del:
			default:
				log.Warn().Str("channel", del.channel.Name()).Msg("notification queue full on requeue")
			}
		}
	}()
}

// HealthReport runs every channel's health check and returns failures keyed
// by channel name.
func (d *Dispatcher) HealthReport(ctx context.Context) map[string]error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]error, len(d.channels))
	for _, ch := range d.channels {
		out[ch.Name()] = ch.HealthCheck(ctx)
	}
	return out
}

// RuleDisabled queues the high-severity operator notification raised when a
// rule is automatically disabled.
func (d *Dispatcher) RuleDisabled(ruleID, ruleName string, failures int) {
	d.Notify(Message{
		Title:    "Detection rule auto-disabled: " + ruleName,
		Body:     fmt.Sprintf("rule %s disabled after %d consecutive failures", ruleID, failures),
		Severity: 90,
		RuleName: ruleName,
	})
}
