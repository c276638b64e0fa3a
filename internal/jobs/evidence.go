package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	argerr "github.com/argus-soc/argus/internal/errors"
)

// EvidenceSource resolves an evidence id to its byte stream. The returned
// name is the original file name used for parser matching; size is -1 when
// unknown.
type EvidenceSource interface {
	Open(ctx context.Context, evidenceID string) (rc io.ReadCloser, name string, size int64, err error)
}

// DirEvidence serves evidence from a flat directory where each file is named
// by its evidence id, optionally with the original extension preserved.
type DirEvidence struct {
	Root string
}

// Open implements EvidenceSource.
func (d *DirEvidence) Open(ctx context.Context, evidenceID string) (io.ReadCloser, string, int64, error) {
	if strings.Contains(evidenceID, "..") || strings.ContainsAny(evidenceID, `/\`) {
		return nil, "", -1, argerr.Validationf("open_evidence", "invalid evidence id %q", evidenceID)
	}

	matches, err := filepath.Glob(filepath.Join(d.Root, evidenceID+"*"))
	if err != nil || len(matches) == 0 {
		return nil, "", -1, argerr.NotFound("open_evidence", evidenceID)
	}
	path := matches[0]

	f, err := os.Open(path)
	if err != nil {
		return nil, "", -1, fmt.Errorf("failed to open evidence %s: %w", evidenceID, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, "", -1, fmt.Errorf("failed to stat evidence %s: %w", evidenceID, err)
	}
	return f, filepath.Base(path), info.Size(), nil
}

// countingReader tracks bytes consumed so workers can report progress against
// the evidence size.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
