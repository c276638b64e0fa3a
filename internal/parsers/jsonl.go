package parsers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/argus-soc/argus/internal/models"
)

// JSONLinesParser reads newline-delimited JSON where each line is one event.
// It understands both already-ECS-shaped documents and flat vendor exports.
type JSONLinesParser struct{}

// NewJSONLinesParser creates the parser.
func NewJSONLinesParser() *JSONLinesParser { return &JSONLinesParser{} }

// Metadata implements Parser.
func (p *JSONLinesParser) Metadata() Metadata {
	return Metadata{
		Name:        "jsonl",
		Category:    CategoryStructured,
		Description: "newline-delimited JSON events",
		Extensions:  []string{".jsonl", ".ndjson", ".json"},
		MIMETypes:   []string{"application/x-ndjson", "application/json"},
		Priority:    40,
	}
}

// CanParse implements Parser.
func (p *JSONLinesParser) CanParse(path string, head []byte) bool {
	if len(head) > 0 {
		trimmed := bytes.TrimLeft(head, " \t\r\n")
		return len(trimmed) > 0 && trimmed[0] == '{'
	}
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".jsonl") || strings.HasSuffix(lower, ".ndjson") || strings.HasSuffix(lower, ".json")
}

// timestampKeys are tried in order when locating the event time.
var timestampKeys = []string{"@timestamp", "timestamp", "time", "ts", "event_time", "eventTime"}

// Parse implements Parser.
func (p *JSONLinesParser) Parse(ctx context.Context, src io.Reader, sourceName string, emit EmitFunc) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	failures := newFailureCounter("jsonl", sourceName)
	var line int64

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			if err := failures.record(line, err); err != nil {
				return err
			}
			continue
		}

		ev, err := p.toEvent(obj, sourceName, line)
		if err != nil {
			if err := failures.record(line, err); err != nil {
				return err
			}
			continue
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read JSON lines stream: %w", err)
	}
	return nil
}

func (p *JSONLinesParser) toEvent(obj map[string]interface{}, sourceName string, line int64) (*models.ParsedEvent, error) {
	var ts time.Time
	for _, key := range timestampKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if parsed, ok := parseTimestamp(t); ok {
				ts = parsed
			}
		case float64:
			ts = epochToTime(t)
		}
		if !ts.IsZero() {
			break
		}
	}
	if ts.IsZero() {
		return nil, fmt.Errorf("record %d has no recognizable timestamp", line)
	}

	ev := &models.ParsedEvent{
		Timestamp: ts,
		Source: models.EventSource{
			Type: "jsonl",
			File: sourceName,
			Line: line,
		},
		Kind:    models.KindEvent,
		Outcome: models.OutcomeUnknown,
		Raw:     obj,
	}

	if msg, ok := obj["message"].(string); ok {
		ev.Message = msg
	} else if msg, ok := obj["msg"].(string); ok {
		ev.Message = msg
	}
	if action, ok := obj["action"].(string); ok {
		ev.Action = action
	}
	if host, ok := stringAt(obj, "host", "hostname", "computer_name"); ok {
		ev.Host = &models.HostInfo{Name: host}
	}
	if user, ok := stringAt(obj, "user", "username", "user_name"); ok {
		ev.User = &models.UserInfo{Name: user}
	}
	if outcome, ok := obj["outcome"].(string); ok {
		switch outcome {
		case "success":
			ev.Outcome = models.OutcomeSuccess
		case "failure":
			ev.Outcome = models.OutcomeFailure
		}
	}
	return ev, nil
}

func stringAt(obj map[string]interface{}, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// epochToTime interprets a numeric timestamp by magnitude: seconds,
// milliseconds, microseconds, or nanoseconds since the Unix epoch.
func epochToTime(v float64) time.Time {
	switch {
	case v > 1e17:
		return time.Unix(0, int64(v)).UTC()
	case v > 1e14:
		return time.UnixMicro(int64(v)).UTC()
	case v > 1e11:
		return time.UnixMilli(int64(v)).UTC()
	default:
		return time.Unix(int64(v), 0).UTC()
	}
}
