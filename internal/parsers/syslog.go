package parsers

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/argus-soc/argus/internal/models"
)

// SyslogParser reads RFC 3164 and RFC 5424 syslog lines, including the
// auth.log dialect, and classifies sshd/sudo/su activity.
type SyslogParser struct{}

// NewSyslogParser creates the parser.
func NewSyslogParser() *SyslogParser { return &SyslogParser{} }

// Metadata implements Parser.
func (p *SyslogParser) Metadata() Metadata {
	return Metadata{
		Name:        "syslog",
		Category:    CategorySystemLog,
		Description: "syslog / auth.log (RFC 3164 and RFC 5424)",
		Extensions:  []string{".log"},
		MIMETypes:   []string{"text/plain"},
		Priority:    30,
	}
}

// rfc3164Pattern: "Jan  2 15:04:05 host tag[pid]: message"
var rfc3164Pattern = regexp.MustCompile(`^(?:<\d+>)?([A-Z][a-z]{2}\s+\d{1,2}\s\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^:\[\s]+)(?:\[(\d+)\])?:\s*(.*)$`)

// rfc5424Pattern: "<pri>1 2026-01-15T10:30:00Z host app pid msgid sd msg"
var rfc5424Pattern = regexp.MustCompile(`^<(\d+)>1\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(?:(?:\[.*?\])+|-)\s*(.*)$`)

// CanParse implements Parser.
func (p *SyslogParser) CanParse(path string, head []byte) bool {
	if len(head) > 0 {
		line := firstLine(head)
		return rfc3164Pattern.Match(line) || rfc5424Pattern.Match(line)
	}
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, "syslog") ||
		strings.HasSuffix(lower, "auth.log") ||
		strings.HasSuffix(lower, "messages") ||
		strings.HasSuffix(lower, "secure")
}

func firstLine(head []byte) []byte {
	if idx := bytes.IndexByte(head, '\n'); idx >= 0 {
		return head[:idx]
	}
	return head
}

// Parse implements Parser.
func (p *SyslogParser) Parse(ctx context.Context, src io.Reader, sourceName string, emit EmitFunc) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	failures := newFailureCounter("syslog", sourceName)
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

		ev, err := p.parseLine(text, sourceName, line)
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
		return fmt.Errorf("failed to read syslog stream: %w", err)
	}
	return nil
}

func (p *SyslogParser) parseLine(text, sourceName string, line int64) (*models.ParsedEvent, error) {
	if m := rfc5424Pattern.FindStringSubmatch(text); m != nil {
		ts, ok := parseTimestamp(m[2])
		if !ok {
			return nil, fmt.Errorf("line %d has unparseable RFC 5424 timestamp %q", line, m[2])
		}
		ev := baseSyslogEvent(ts, m[3], m[4], m[7], sourceName, line)
		if pid, err := strconv.ParseInt(m[5], 10, 64); err == nil && ev.Process != nil {
			ev.Process.PID = pid
		}
		classifySyslog(ev, m[4], m[7])
		return ev, nil
	}

	if m := rfc3164Pattern.FindStringSubmatch(text); m != nil {
		ts, ok := parseTimestamp(m[1])
		if !ok {
			return nil, fmt.Errorf("line %d has unparseable timestamp %q", line, m[1])
		}
		ev := baseSyslogEvent(ts, m[2], m[3], m[5], sourceName, line)
		if m[4] != "" && ev.Process != nil {
			if pid, err := strconv.ParseInt(m[4], 10, 64); err == nil {
				ev.Process.PID = pid
			}
		}
		classifySyslog(ev, m[3], m[5])
		return ev, nil
	}

	return nil, fmt.Errorf("line %d is not a recognizable syslog record", line)
}

func baseSyslogEvent(ts time.Time, host, tag, msg, sourceName string, line int64) *models.ParsedEvent {
	ev := &models.ParsedEvent{
		Timestamp: ts,
		Message:   msg,
		Source: models.EventSource{
			Type: "syslog",
			File: sourceName,
			Line: line,
		},
		Kind:       models.KindEvent,
		Categories: []models.EventCategory{models.CategoryProcess},
		Outcome:    models.OutcomeUnknown,
		Severity:   10,
		Host:       &models.HostInfo{Name: host, OSName: "Linux"},
		Labels:     map[string]string{"program": tag},
	}
	if tag != "" {
		ev.Process = &models.ProcessInfo{Name: tag}
	}
	return ev
}

var (
	sshAcceptedPattern = regexp.MustCompile(`^Accepted (\S+) for (\S+) from (\S+) port (\d+)`)
	sshFailedPattern   = regexp.MustCompile(`^Failed (\S+) for (?:invalid user )?(\S+) from (\S+) port (\d+)`)
	sudoPattern        = regexp.MustCompile(`^\s*(\S+)\s*:.*COMMAND=(.+)$`)
)

func classifySyslog(ev *models.ParsedEvent, tag, msg string) {
	switch {
	case tag == "sshd":
		if m := sshAcceptedPattern.FindStringSubmatch(msg); m != nil {
			port, _ := strconv.Atoi(m[4])
			ev.Categories = []models.EventCategory{models.CategoryAuthentication}
			ev.Types = []string{"start"}
			ev.Action = "ssh_login"
			ev.Outcome = models.OutcomeSuccess
			ev.Severity = 20
			ev.User = &models.UserInfo{Name: m[2]}
			ev.Network = &models.NetworkInfo{SrcIP: m[3], SrcPort: port, Protocol: "ssh", Direction: "inbound"}
			return
		}
		if m := sshFailedPattern.FindStringSubmatch(msg); m != nil {
			port, _ := strconv.Atoi(m[4])
			ev.Categories = []models.EventCategory{models.CategoryAuthentication}
			ev.Types = []string{"start"}
			ev.Action = "ssh_login"
			ev.Outcome = models.OutcomeFailure
			ev.Severity = 45
			ev.User = &models.UserInfo{Name: m[2]}
			ev.Network = &models.NetworkInfo{SrcIP: m[3], SrcPort: port, Protocol: "ssh", Direction: "inbound"}
			return
		}
	case tag == "sudo":
		if m := sudoPattern.FindStringSubmatch(msg); m != nil {
			ev.Categories = []models.EventCategory{models.CategoryProcess, models.CategoryIAM}
			ev.Action = "sudo_command"
			ev.Outcome = models.OutcomeSuccess
			ev.Severity = 30
			ev.User = &models.UserInfo{Name: m[1]}
			ev.Process = &models.ProcessInfo{Name: "sudo", CommandLine: strings.TrimSpace(m[2])}
			return
		}
		if strings.Contains(msg, "incorrect password") || strings.Contains(msg, "authentication failure") {
			ev.Categories = []models.EventCategory{models.CategoryAuthentication}
			ev.Action = "sudo_auth"
			ev.Outcome = models.OutcomeFailure
			ev.Severity = 40
			return
		}
	case tag == "su":
		ev.Categories = []models.EventCategory{models.CategoryAuthentication}
		ev.Action = "su_session"
		if strings.Contains(msg, "FAILED") {
			ev.Outcome = models.OutcomeFailure
			ev.Severity = 40
		} else {
			ev.Outcome = models.OutcomeSuccess
			ev.Severity = 20
		}
	}
}
