package store

import (
	"context"
	"fmt"

	"github.com/roach88/growline/internal/docstore"
)

// PutFragment upserts a fragment keyed by (device, message, chunk).
// A redelivered fragment replaces the cached copy.
func (s *Store) PutFragment(ctx context.Context, f docstore.Fragment) error {
	received := f.Received
	if received == "" {
		received = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunk_fragments
		(device_id, message_id, chunk_num, total_chunks, var_name, image_type, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, message_id, chunk_num) DO UPDATE SET
			total_chunks = excluded.total_chunks,
			var_name = excluded.var_name,
			image_type = excluded.image_type,
			payload = excluded.payload,
			received_at = excluded.received_at
	`,
		f.DeviceID,
		f.MessageID,
		f.ChunkNum,
		f.TotalChunks,
		f.VarName,
		f.ImageType,
		compressPayload(f.Payload),
		received,
	)
	if err != nil {
		return classify(fmt.Errorf("put fragment: %w", err))
	}
	return nil
}

// Fragments returns the cached fragments of one message.
// Results are ordered by chunk number.
func (s *Store) Fragments(ctx context.Context, deviceID, messageID string) ([]docstore.Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_num, total_chunks, var_name, image_type, payload, received_at
		FROM chunk_fragments
		WHERE device_id = ? AND message_id = ?
		ORDER BY chunk_num ASC
	`, deviceID, messageID)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	var out []docstore.Fragment
	for rows.Next() {
		f := docstore.Fragment{DeviceID: deviceID, MessageID: messageID}
		var compressed []byte
		if err := rows.Scan(&f.ChunkNum, &f.TotalChunks, &f.VarName, &f.ImageType, &compressed, &f.Received); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		if f.Payload, err = decompressPayload(compressed); err != nil {
			return nil, fmt.Errorf("fragment %s/%d: %w", messageID, f.ChunkNum, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return out, nil
}

// FragmentSets summarizes cached messages for a device.
func (s *Store) FragmentSets(ctx context.Context, deviceID string) ([]docstore.FragmentSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, COUNT(*), MAX(received_at)
		FROM chunk_fragments
		WHERE device_id = ?
		GROUP BY message_id
		ORDER BY message_id COLLATE BINARY ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query fragment sets: %w", err)
	}
	defer rows.Close()

	var out []docstore.FragmentSet
	for rows.Next() {
		var set docstore.FragmentSet
		if err := rows.Scan(&set.MessageID, &set.Count, &set.LastReceived); err != nil {
			return nil, fmt.Errorf("scan fragment set: %w", err)
		}
		out = append(out, set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragment sets: %w", err)
	}
	return out, nil
}

// DeleteFragments removes every fragment of one message and returns the
// number of rows removed.
func (s *Store) DeleteFragments(ctx context.Context, deviceID, messageID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM chunk_fragments WHERE device_id = ? AND message_id = ?
	`, deviceID, messageID)
	if err != nil {
		return 0, classify(fmt.Errorf("delete fragments: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete fragments: %w", err)
	}
	return int(n), nil
}

// PutTurd records a corrupt-set mark, replacing an existing one.
func (s *Store) PutTurd(ctx context.Context, t docstore.Turd) error {
	recorded := t.Recorded
	if recorded == "" {
		recorded = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunk_turds (device_id, message_id, recorded_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id, message_id) DO UPDATE SET recorded_at = excluded.recorded_at
	`, t.DeviceID, t.MessageID, recorded)
	if err != nil {
		return classify(fmt.Errorf("put turd: %w", err))
	}
	return nil
}

// Turds lists the marks recorded for a device.
func (s *Store) Turds(ctx context.Context, deviceID string) ([]docstore.Turd, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, recorded_at
		FROM chunk_turds
		WHERE device_id = ?
		ORDER BY message_id COLLATE BINARY ASC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query turds: %w", err)
	}
	defer rows.Close()

	var out []docstore.Turd
	for rows.Next() {
		t := docstore.Turd{DeviceID: deviceID}
		if err := rows.Scan(&t.MessageID, &t.Recorded); err != nil {
			return nil, fmt.Errorf("scan turd: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turds: %w", err)
	}
	return out, nil
}

// DeleteTurd removes one mark.
func (s *Store) DeleteTurd(ctx context.Context, deviceID, messageID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chunk_turds WHERE device_id = ? AND message_id = ?
	`, deviceID, messageID)
	if err != nil {
		return classify(fmt.Errorf("delete turd: %w", err))
	}
	return nil
}
