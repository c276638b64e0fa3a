package parsers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/argus-soc/argus/internal/models"
)

// AccessLogParser reads Apache/nginx combined-format access logs.
type AccessLogParser struct{}

// NewAccessLogParser creates the parser.
func NewAccessLogParser() *AccessLogParser { return &AccessLogParser{} }

// Metadata implements Parser.
func (p *AccessLogParser) Metadata() Metadata {
	return Metadata{
		Name:        "access_log",
		Category:    CategoryWebServer,
		Description: "Apache/nginx combined access log",
		Extensions:  []string{".log"},
		MIMETypes:   []string{"text/plain"},
		Priority:    35,
	}
}

// combinedPattern: ip - user [ts] "METHOD path HTTP/x" status bytes "referer" "agent"
var combinedPattern = regexp.MustCompile(`^(\S+)\s+\S+\s+(\S+)\s+\[([^\]]+)\]\s+"([A-Z]+)\s+(\S+)(?:\s+(\S+))?"\s+(\d{3})\s+(\S+)(?:\s+"([^"]*)"\s+"([^"]*)")?`)

// CanParse implements Parser.
func (p *AccessLogParser) CanParse(path string, head []byte) bool {
	if len(head) > 0 {
		return combinedPattern.Match(firstLine(head))
	}
	lower := strings.ToLower(path)
	return strings.Contains(lower, "access") && strings.HasSuffix(lower, ".log")
}

// Parse implements Parser.
func (p *AccessLogParser) Parse(ctx context.Context, src io.Reader, sourceName string, emit EmitFunc) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	failures := newFailureCounter("access_log", sourceName)
	var line int64

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		m := combinedPattern.FindStringSubmatch(text)
		if m == nil {
			if err := failures.record(line, fmt.Errorf("line %d does not match combined format", line)); err != nil {
				return err
			}
			continue
		}

		ts, ok := parseTimestamp(m[3])
		if !ok {
			if err := failures.record(line, fmt.Errorf("unparseable timestamp %q", m[3])); err != nil {
				return err
			}
			continue
		}

		status, _ := strconv.Atoi(m[7])
		outcome := models.OutcomeSuccess
		severity := 5
		if status >= 400 {
			outcome = models.OutcomeFailure
			severity = 25
		}
		if status == 401 || status == 403 {
			severity = 35
		}

		ev := &models.ParsedEvent{
			Timestamp: ts,
			Message:   fmt.Sprintf("%s %s -> %d", m[4], m[5], status),
			Source: models.EventSource{
				Type: "access_log",
				File: sourceName,
				Line: line,
			},
			Kind:       models.KindEvent,
			Categories: []models.EventCategory{models.CategoryWeb, models.CategoryNetwork},
			Types:      []string{"access"},
			Action:     strings.ToLower(m[4]),
			Outcome:    outcome,
			Severity:   severity,
			Network:    &models.NetworkInfo{SrcIP: m[1], Protocol: "http", Direction: "inbound"},
			URL:        &models.URLInfo{Path: m[5]},
			Labels: map[string]string{
				"http_status": m[7],
				"http_method": m[4],
			},
			Raw: map[string]interface{}{
				"status":     status,
				"bytes":      m[8],
				"referer":    m[9],
				"user_agent": m[10],
			},
		}
		if m[2] != "-" && m[2] != "" {
			ev.User = &models.UserInfo{Name: m[2]}
		}

		if err := emit(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read access log stream: %w", err)
	}
	return nil
}
