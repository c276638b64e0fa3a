package parsers

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	argerr "github.com/argus-soc/argus/internal/errors"
)

// ErrNoParserMatched is returned when resolution fails.
var ErrNoParserMatched = fmt.Errorf("no parser matched")

// Registry is a read-mostly map of parsers. Reads are concurrent; writes
// happen at startup or via explicit admin actions and exclude readers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// NewDefaultRegistry creates a registry loaded with the built-in parsers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range []Parser{
		NewEVTXParser(),
		NewSyslogParser(),
		NewJSONLinesParser(),
		NewCSVParser(),
		NewAccessLogParser(),
	} {
		if err := r.Register(p); err != nil {
			// Built-in names are unique by construction.
			log.Error().Str("parser", p.Metadata().Name).Err(err).Msg("Failed to register built-in parser")
		}
	}
	return r
}

// Register adds a parser. Duplicate names fail.
func (r *Registry) Register(p Parser) error {
	meta := p.Metadata()
	if meta.Name == "" {
		return argerr.Validationf("register_parser", "parser name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.parsers[meta.Name]; exists {
		return argerr.Conflict("register_parser", meta.Name, fmt.Errorf("parser %q already registered", meta.Name))
	}
	r.parsers[meta.Name] = p
	log.Debug().Str("parser", meta.Name).Str("category", string(meta.Category)).Msg("Registered parser")
	return nil
}

// Get returns a parser by name.
func (r *Registry) Get(name string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[name]
	return p, ok
}

// List returns the metadata of every registered parser, sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.parsers))
	for _, p := range r.parsers {
		out = append(out, p.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve matches an input to a parser. Resolution order: explicit hint by
// name, then CanParse matches ranked by priority with magic-byte matches
// preferred over extension-only matches, then ErrNoParserMatched.
func (r *Registry) Resolve(path, mime string, head []byte, hint string) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if hint != "" {
		if p, ok := r.parsers[hint]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("parser hint %q: %w", hint, ErrNoParserMatched)
	}

	type candidate struct {
		parser   Parser
		priority int
		byMagic  bool
	}
	var candidates []candidate

	ext := strings.ToLower(filepath.Ext(path))
	for _, p := range r.parsers {
		meta := p.Metadata()
		magicMatch := len(head) > 0 && p.CanParse("", head)
		pathMatch := path != "" && p.CanParse(path, nil)
		mimeMatch := mime != "" && containsFold(meta.MIMETypes, mime)
		extMatch := ext != "" && containsFold(meta.Extensions, ext)

		if magicMatch || pathMatch || mimeMatch || extMatch {
			candidates = append(candidates, candidate{
				parser:   p,
				priority: meta.Priority,
				byMagic:  magicMatch,
			})
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("path=%q mime=%q: %w", path, mime, ErrNoParserMatched)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].byMagic != candidates[j].byMagic {
			return candidates[i].byMagic
		}
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].parser.Metadata().Name < candidates[j].parser.Metadata().Name
	})
	return candidates[0].parser, nil
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}
