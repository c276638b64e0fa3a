// Package parsers dissects evidence files into normalized ParsedEvents.
// Parsers are registered once at startup; the registry matches inputs by
// hint, magic bytes, MIME type, and extension.
package parsers

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/argus-soc/argus/internal/models"
)

// Category groups parsers by the kind of evidence they understand.
type Category string

const (
	CategoryWindowsEvent Category = "windows_event"
	CategorySystemLog    Category = "system_log"
	CategoryWebServer    Category = "web_server"
	CategoryStructured   Category = "structured"
)

// Metadata describes a parser to the registry and to operators.
type Metadata struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Extensions  []string `json:"supportedExtensions"`
	MIMETypes   []string `json:"supportedMimeTypes"`
	Priority    int      `json:"priority"` // higher wins on ties
}

// EmitFunc receives each parsed event in source-file order. Returning an
// error stops the stream.
type EmitFunc func(*models.ParsedEvent) error

// Parser turns an evidence stream into ParsedEvents. Parse must emit events
// in source order, tolerate truncated input, and never block on network I/O.
type Parser interface {
	Metadata() Metadata
	// CanParse inspects the path and the first bytes of the input. Either
	// may be empty.
	CanParse(path string, head []byte) bool
	Parse(ctx context.Context, src io.Reader, sourceName string, emit EmitFunc) error
}

// maxRecordFailures is the cumulative per-record failure ceiling before a
// parse stream is aborted.
const maxRecordFailures = 100

// failureCounter tracks per-record parse failures against the ceiling.
type failureCounter struct {
	parser   string
	source   string
	failures int
}

func newFailureCounter(parser, source string) *failureCounter {
	return &failureCounter{parser: parser, source: source}
}

// record logs one failed record and reports whether the stream should stop.
func (c *failureCounter) record(line int64, err error) error {
	c.failures++
	log.Warn().
		Str("parser", c.parser).
		Str("source", c.source).
		Int64("record", line).
		Err(err).
		Msg("Failed to parse record")
	if c.failures >= maxRecordFailures {
		return fmt.Errorf("aborting after %d record failures: %w", c.failures, err)
	}
	return nil
}
