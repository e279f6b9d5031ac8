package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/growline/internal/docstore"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// EnsureDevice inserts an empty record for deviceID.
// Uses ON CONFLICT DO NOTHING for idempotency.
func (s *Store) EnsureDevice(ctx context.Context, deviceID string) error {
	body, err := marshalBody(recordBody{})
	if err != nil {
		return fmt.Errorf("ensure device: %w", err)
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_records (device_id, body, version, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(device_id) DO NOTHING
	`, deviceID, body, now, now)
	if err != nil {
		return classify(fmt.Errorf("ensure device: %w", err))
	}
	return nil
}

// Property returns one property list. A missing record returns nil.
func (s *Store) Property(ctx context.Context, deviceID, name string) ([]docstore.Item, error) {
	body, _, err := readRecord(ctx, s.db, deviceID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read property: %w", err)
	}
	return body[name], nil
}

// UpdateProperty runs one optimistic transaction against the record.
func (s *Store) UpdateProperty(ctx context.Context, deviceID, name string, fn docstore.UpdateFunc) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		body, version, err := readRecord(ctx, tx, deviceID)
		if err != nil {
			return fmt.Errorf("update property: %w", err)
		}

		next, err := fn(docstore.CloneItems(body[name]))
		if err != nil {
			return err
		}
		body[name] = next

		data, err := marshalBody(body)
		if err != nil {
			return fmt.Errorf("update property: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE device_records
			SET body = ?, version = version + 1, updated_at = ?
			WHERE device_id = ? AND version = ?
		`, data, s.now(), deviceID, version)
		if err != nil {
			return classify(fmt.Errorf("update property: %w", err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update property: rows affected: %w", err)
		}
		if n == 0 {
			return docstore.ErrContention
		}
		return nil
	})
}

// Devices returns every device id with a record, sorted.
func (s *Store) Devices(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id FROM device_records ORDER BY device_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return ids, nil
}

// readRecord loads and decodes one record body with its version.
func readRecord(ctx context.Context, q queryer, deviceID string) (recordBody, int64, error) {
	var (
		data    []byte
		version int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT body, version FROM device_records WHERE device_id = ?
	`, deviceID).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("device %q: %w", deviceID, docstore.ErrNotFound)
	}
	if err != nil {
		return nil, 0, classify(fmt.Errorf("read record: %w", err))
	}

	body, err := unmarshalBody(data)
	if err != nil {
		return nil, 0, err
	}
	return body, version, nil
}
