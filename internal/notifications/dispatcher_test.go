package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
)

// recordingChannel captures sent messages and replays scripted results.
type recordingChannel struct {
	mu      sync.Mutex
	sent    []Message
	results []*DeliveryResult
}

func (c *recordingChannel) Name() string                            { return "recording" }
func (c *recordingChannel) ValidateConfig() error                   { return nil }
func (c *recordingChannel) ValidateRecipient(recipient string) error { return nil }
func (c *recordingChannel) HealthCheck(ctx context.Context) error   { return nil }

func (c *recordingChannel) Send(ctx context.Context, msg Message, recipient string) (*DeliveryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	if len(c.results) > 0 {
		res := c.results[0]
		c.results = c.results[1:]
		return res, nil
	}
	return &DeliveryResult{Status: DeliverySent}, nil
}

func (c *recordingChannel) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatcherNotifiesOnNewAlertsOnly(t *testing.T) {
	ch := &recordingChannel{}
	d := NewDispatcher(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	alert := &models.Alert{
		ID:       "a-1",
		Title:    "Brute force on ws-01",
		Severity: 80,
		RuleName: "ssh-brute-force",
		Entities: models.AlertEntities{Hosts: []string{"ws-01"}, Users: []string{"alice"}},
	}
	d.AlertStored(alert, true)
	d.AlertStored(alert, false) // repeat hit, no re-notify

	waitFor(t, func() bool { return len(ch.messages()) == 1 })
	msgs := ch.messages()
	assert.Equal(t, "a-1", msgs[0].AlertID)
	assert.Equal(t, 80, msgs[0].Severity)

	// stays at one
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ch.messages(), 1)
}

func TestDispatcherRequeuesRateLimitedDelivery(t *testing.T) {
	ch := &recordingChannel{
		results: []*DeliveryResult{
			{Status: DeliveryRateLimited, RetryAfter: 0}, // requeue uses minimum wait clamp
		},
	}
	d := NewDispatcher(ch)
	d.maxAttempts = 3

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// RetryAfter 0 clamps to a minute, too slow for a test; exercise the
	// path with an explicit short window instead.
	d.requeueAfter(ctx, delivery{channel: ch, msg: Message{AlertID: "a-9"}, attempts: 1}, 20*time.Millisecond)

	waitFor(t, func() bool { return len(ch.messages()) == 1 })
	assert.Equal(t, "a-9", ch.messages()[0].AlertID)
}

func TestDispatcherFansOutToAllChannels(t *testing.T) {
	first := &recordingChannel{}
	second := &recordingChannel{}
	d := NewDispatcher(first)
	d.AddChannel(second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Notify(Message{Title: "hello", AlertID: "a-2"})

	waitFor(t, func() bool { return len(first.messages()) == 1 && len(second.messages()) == 1 })
}

func TestDispatcherRuleDisabledNotification(t *testing.T) {
	ch := &recordingChannel{}
	d := NewDispatcher(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.RuleDisabled("r-1", "noisy-rule", 5)

	waitFor(t, func() bool { return len(ch.messages()) == 1 })
	msg := ch.messages()[0]
	assert.Equal(t, 90, msg.Severity)
	assert.Contains(t, msg.Title, "noisy-rule")
	require.Contains(t, msg.Body, "5 consecutive failures")
}

func TestDispatcherHealthReport(t *testing.T) {
	ch := &recordingChannel{}
	d := NewDispatcher(ch)
	report := d.HealthReport(context.Background())
	require.Len(t, report, 1)
	assert.NoError(t, report["recording"])
}
