// Package archive exports timeline entries as zstd-compressed JSON lines.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"aurora/internal/domain"
	"aurora/internal/timeline"
)

// Store receives finished archive objects.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader) error
}

type Exporter struct {
	Reader timeline.Reader
}

// Manifest summarizes one export.
type Manifest struct {
	Key        string `json:"key"`
	Entries    int    `json:"entries"`
	Bytes      int    `json:"bytes"`
	LastCursor string `json:"last_cursor,omitempty"`
}

// Export writes every entry matching q, oldest first, to store under key.
// Nothing is stored when reading the timeline fails.
func (x Exporter) Export(ctx context.Context, q timeline.Query, store Store, key string) (Manifest, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return Manifest{}, err
	}
	enc := json.NewEncoder(zw)
	m := Manifest{Key: key}
	var last domain.TimelineEntry
	for e, err := range x.Reader.All(ctx, q) {
		if err != nil {
			zw.Close()
			return Manifest{}, fmt.Errorf("read timeline: %w", err)
		}
		if err := enc.Encode(e); err != nil {
			zw.Close()
			return Manifest{}, err
		}
		m.Entries++
		last = e
	}
	if err := zw.Close(); err != nil {
		return Manifest{}, err
	}
	if m.Entries > 0 {
		m.LastCursor = timeline.Cursor{At: last.At, ID: last.ID}.String()
	}
	m.Bytes = buf.Len()
	if err := store.Put(ctx, key, bytes.NewReader(buf.Bytes())); err != nil {
		return Manifest{}, fmt.Errorf("store %s: %w", key, err)
	}
	return m, nil
}

// Decode reads an archive produced by Export.
func Decode(r io.Reader) ([]domain.TimelineEntry, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var out []domain.TimelineEntry
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var e domain.TimelineEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
