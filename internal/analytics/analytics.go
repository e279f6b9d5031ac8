// Package analytics forwards telemetry rows to the analytical sink.
//
// A row is keyed "<Env|Cmd>~<variable>~<UTC timestamp>~<device>" and carries
// the raw values string plus two zero coordinates kept for schema
// compatibility with existing analytical tables. Forwarding is best
// effort: Emit logs failures and never returns them.
package analytics

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/growline/internal/clock"
)

// Kind is the key prefix of a row.
type Kind string

const (
	// KindEnv marks environment variable readings and image URLs.
	KindEnv Kind = "Env"
	// KindCmd marks command replies.
	KindCmd Kind = "Cmd"
)

// Row is one analytical record.
type Row struct {
	ID     string  `json:"id"`
	Values string  `json:"values"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Sink accepts rows for insertion.
type Sink interface {
	InsertRows(ctx context.Context, rows []Row) error
}

// Key builds a row key. '~' is the field separator, so it is stripped from
// the variable and device parts; both are NFC-normalized so visually
// identical names share one key space.
func Key(kind Kind, varName, deviceID string, t time.Time) string {
	return string(kind) + "~" + keyPart(varName) + "~" + clock.Format(t) + "~" + keyPart(deviceID)
}

func keyPart(s string) string {
	return strings.ReplaceAll(norm.NFC.String(s), "~", "")
}

// NewRow builds the row for one reading.
func NewRow(kind Kind, varName, deviceID, values string, t time.Time) Row {
	return Row{ID: Key(kind, varName, deviceID, t), Values: values}
}

// Emit inserts rows into sink, logging instead of returning failures.
// A nil sink drops the rows.
func Emit(ctx context.Context, sink Sink, rows ...Row) {
	if sink == nil || len(rows) == 0 {
		return
	}
	if err := sink.InsertRows(ctx, rows); err != nil {
		slog.Warn("analytics insert failed", "rows", len(rows), "first", rows[0].ID, "error", err)
	}
}

// Memory records rows in process. Set Fail to make inserts fail.
//
// Thread-safety: safe for concurrent use.
type Memory struct {
	mu   sync.Mutex
	rows []Row
	Fail error
}

// InsertRows appends rows, or returns Fail if set.
func (m *Memory) InsertRows(ctx context.Context, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.rows = append(m.rows, rows...)
	return nil
}

// Rows returns a copy of everything inserted so far.
func (m *Memory) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Row(nil), m.rows...)
}
