package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
)

// defaultWebhookTemplate is the generic JSON payload used when a webhook has
// no custom template configured.
const defaultWebhookTemplate = `{
  "title": {{printf "%q" .Title}},
  "body": {{printf "%q" .Body}},
  "severity": {{.Severity}},
  "level": {{printf "%q" .Level}},
  "alert_id": {{printf "%q" .AlertID}},
  "rule_name": {{printf "%q" .RuleName}},
  "timestamp": {{printf "%q" .Timestamp}}
}`

// WebhookConfig configures one webhook channel.
type WebhookConfig struct {
	Name            string            `json:"name"`
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"` // default POST
	Headers         map[string]string `json:"headers,omitempty"`
	PayloadTemplate string            `json:"payloadTemplate,omitempty"`
	TimeoutS        int               `json:"timeoutS,omitempty"`
	MinSeverity     int               `json:"minSeverity,omitempty"`
}

// WebhookChannel posts alert messages as JSON to an HTTP endpoint. The
// recipient argument overrides the configured URL when non-empty, so one
// channel can serve per-rule destinations.
type WebhookChannel struct {
	cfg    WebhookConfig
	client *http.Client
	tmpl   *template.Template
}

// payloadData is the template context for one webhook delivery.
type payloadData struct {
	Title     string
	Body      string
	Severity  int
	Level     string
	AlertID   string
	RuleName  string
	Timestamp string
	Fields    map[string]interface{}
}

// NewWebhookChannel builds a webhook channel. The payload template is parsed
// eagerly so misconfiguration fails at setup rather than on first alert.
func NewWebhookChannel(cfg WebhookConfig) (*WebhookChannel, error) {
	timeout := time.Duration(cfg.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	raw := cfg.PayloadTemplate
	if raw == "" {
		raw = defaultWebhookTemplate
	}
	tmpl, err := template.New("webhook").Funcs(template.FuncMap{
		"upper":  strings.ToUpper,
		"lower":  strings.ToLower,
		"printf": fmt.Sprintf,
	}).Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook template: %w", err)
	}
	c := &WebhookChannel{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		tmpl:   tmpl,
	}
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

// Name implements Channel.
func (c *WebhookChannel) Name() string { return c.cfg.Name }

// ValidateConfig implements Channel.
func (c *WebhookChannel) ValidateConfig() error {
	if c.cfg.URL == "" {
		return fmt.Errorf("webhook %s: url is required", c.cfg.Name)
	}
	return c.ValidateRecipient(c.cfg.URL)
}

// ValidateRecipient implements Channel. A webhook recipient is a URL.
func (c *WebhookChannel) ValidateRecipient(recipient string) error {
	if recipient == "" {
		return nil // falls back to the configured URL
	}
	u, err := url.Parse(recipient)
	if err != nil {
		return fmt.Errorf("invalid webhook url %q: %w", recipient, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook url %q: scheme must be http or https", recipient)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook url %q: missing host", recipient)
	}
	return nil
}

// HealthCheck implements Channel. Webhooks have no standard health endpoint,
// so this only re-validates the configuration.
func (c *WebhookChannel) HealthCheck(ctx context.Context) error {
	return c.ValidateConfig()
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, msg Message, recipient string) (*DeliveryResult, error) {
	if msg.Severity < c.cfg.MinSeverity {
		return &DeliveryResult{Status: DeliverySent}, nil
	}
	target := c.cfg.URL
	if recipient != "" {
		if err := c.ValidateRecipient(recipient); err != nil {
			return &DeliveryResult{Status: DeliveryInvalidRecipient, Error: err.Error()}, nil
		}
		target = recipient
	}

	payload, err := c.render(msg)
	if err != nil {
		return &DeliveryResult{Status: DeliveryFailed, Error: err.Error()}, nil
	}

	method := c.cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return &DeliveryResult{Status: DeliveryFailed, Error: err.Error()}, nil
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "argus/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("webhook", c.cfg.Name).Msg("webhook delivery failed")
		return &DeliveryResult{Status: DeliveryFailed, Error: err.Error()}, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		log.Warn().Str("webhook", c.cfg.Name).Int("retry_after", retryAfter).Msg("webhook rate limited")
		return &DeliveryResult{Status: DeliveryRateLimited, RetryAfter: retryAfter}, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &DeliveryResult{
			Status: DeliveryInvalidRecipient,
			Error:  fmt.Sprintf("endpoint returned %d", resp.StatusCode),
		}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.Debug().Str("webhook", c.cfg.Name).Int("status", resp.StatusCode).Msg("webhook delivered")
		return &DeliveryResult{Status: DeliverySent, MessageID: messageIDFrom(body)}, nil
	default:
		return &DeliveryResult{
			Status: DeliveryFailed,
			Error:  fmt.Sprintf("endpoint returned %d: %s", resp.StatusCode, truncateBody(body)),
		}, nil
	}
}

func (c *WebhookChannel) render(msg Message) ([]byte, error) {
	data := payloadData{
		Title:     msg.Title,
		Body:      msg.Body,
		Severity:  msg.Severity,
		Level:     SeverityLabel(msg.Severity),
		AlertID:   msg.AlertID,
		RuleName:  msg.RuleName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fields:    msg.Fields,
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("webhook template execution failed: %w", err)
	}
	var check interface{}
	if err := json.Unmarshal(buf.Bytes(), &check); err != nil {
		return nil, fmt.Errorf("webhook template produced invalid JSON: %w", err)
	}
	return buf.Bytes(), nil
}

// parseRetryAfter reads a Retry-After header; defaults to 60s when absent or
// unparseable.
func parseRetryAfter(v string) int {
	if v == "" {
		return 60
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	if t, err := http.ParseTime(v); err == nil {
		if secs := int(time.Until(t).Seconds()); secs > 0 {
			return secs
		}
	}
	return 60
}

// messageIDFrom extracts an id from a JSON response body when one is present.
func messageIDFrom(body []byte) string {
	var payload struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.MessageID != "" {
		return payload.MessageID
	}
	return payload.ID
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
