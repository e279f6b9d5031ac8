package analytics

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
)

const segmentSuffix = ".ndjson.lz4"

// FileSink writes each insert as one lz4-compressed NDJSON segment in a
// directory. Segment names are UUIDv7, so lexical order is insert order.
type FileSink struct {
	dir string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("analytics dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// InsertRows writes rows to a new segment.
func (s *FileSink) InsertRows(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("segment id: %w", err)
	}
	final := filepath.Join(s.dir, "rows-"+id.String()+segmentSuffix)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	zw := lz4.NewWriter(f)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("encode row %s: %w", row.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush segment: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close segment: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish segment: %w", err)
	}
	return nil
}

// Segments lists segment paths in insert order.
func (s *FileSink) Segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), segmentSuffix) {
			paths = append(paths, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadSegment decodes every row in one segment.
func ReadSegment(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	var rows []Row
	sc := bufio.NewScanner(lz4.NewReader(f))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var row Row
		if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read segment: %w", err)
	}
	return rows, nil
}

// ReadAll decodes every segment in insert order.
func (s *FileSink) ReadAll() ([]Row, error) {
	paths, err := s.Segments()
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, p := range paths {
		seg, err := ReadSegment(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		rows = append(rows, seg...)
	}
	return rows, nil
}
