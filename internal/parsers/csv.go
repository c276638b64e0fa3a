package parsers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/argus-soc/argus/internal/models"
)

// CSVParser reads header-first CSV exports. The timestamp column is located
// by header name; every other column lands in the raw payload.
type CSVParser struct{}

// NewCSVParser creates the parser.
func NewCSVParser() *CSVParser { return &CSVParser{} }

// Metadata implements Parser.
func (p *CSVParser) Metadata() Metadata {
	return Metadata{
		Name:        "csv",
		Category:    CategoryStructured,
		Description: "comma-separated event exports with a header row",
		Extensions:  []string{".csv", ".tsv"},
		MIMETypes:   []string{"text/csv", "text/tab-separated-values"},
		Priority:    20,
	}
}

// CanParse implements Parser.
func (p *CSVParser) CanParse(path string, head []byte) bool {
	if len(head) > 0 {
		line := firstLine(head)
		if bytes.IndexByte(line, ',') < 0 && bytes.IndexByte(line, '\t') < 0 {
			return false
		}
		// A header row is plain text; binary content disqualifies.
		return !bytes.ContainsRune(line, 0)
	}
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".tsv")
}

// csvTimestampHeaders are matched case-insensitively against column names.
var csvTimestampHeaders = []string{"timestamp", "@timestamp", "time", "datetime", "date", "event_time", "eventtime"}

// Parse implements Parser.
func (p *CSVParser) Parse(ctx context.Context, src io.Reader, sourceName string, emit EmitFunc) error {
	buffered := bufio.NewReader(src)
	peek, _ := buffered.Peek(4096)
	delimiter := ','
	if line := firstLine(peek); bytes.IndexByte(line, '\t') >= 0 && bytes.IndexByte(line, ',') < 0 {
		delimiter = '\t'
	}

	reader := csv.NewReader(buffered)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	tsCol := -1
	for i, name := range header {
		for _, candidate := range csvTimestampHeaders {
			if strings.EqualFold(strings.TrimSpace(name), candidate) {
				tsCol = i
				break
			}
		}
		if tsCol >= 0 {
			break
		}
	}
	if tsCol < 0 {
		return fmt.Errorf("CSV header has no recognizable timestamp column: %v", header)
	}

	failures := newFailureCounter("csv", sourceName)
	var line int64 = 1 // header consumed

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			if err := failures.record(line, err); err != nil {
				return err
			}
			continue
		}
		if tsCol >= len(record) {
			if err := failures.record(line, fmt.Errorf("row has %d columns, timestamp column is %d", len(record), tsCol)); err != nil {
				return err
			}
			continue
		}

		ts, ok := parseTimestamp(strings.TrimSpace(record[tsCol]))
		if !ok {
			if err := failures.record(line, fmt.Errorf("unparseable timestamp %q", record[tsCol])); err != nil {
				return err
			}
			continue
		}

		ev := p.toEvent(header, record, ts, sourceName, line)
		if err := emit(ev); err != nil {
			return err
		}
	}
}

func (p *CSVParser) toEvent(header, record []string, ts time.Time, sourceName string, line int64) *models.ParsedEvent {
	raw := make(map[string]interface{}, len(record))
	labels := make(map[string]string)
	var message string

	for i, value := range record {
		if i >= len(header) {
			break
		}
		name := strings.TrimSpace(header[i])
		raw[name] = value
		if value == "" {
			continue
		}
		switch strings.ToLower(name) {
		case "message", "description":
			if message == "" {
				message = value
			}
		case "hostname", "host", "computer":
			labels["host"] = value
		case "username", "user":
			labels["user"] = value
		}
	}

	ev := &models.ParsedEvent{
		Timestamp: ts,
		Message:   message,
		Source: models.EventSource{
			Type: "csv",
			File: sourceName,
			Line: line,
		},
		Kind:    models.KindEvent,
		Outcome: models.OutcomeUnknown,
		Raw:     raw,
	}
	if host, ok := labels["host"]; ok {
		ev.Host = &models.HostInfo{Name: host}
	}
	if user, ok := labels["user"]; ok {
		ev.User = &models.UserInfo{Name: user}
	}
	return ev
}
