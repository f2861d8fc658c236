package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/facegate/internal/database"
)

// encodeDescriptor returns the column value for a descriptor: a pgvector on
// postgres, a JSON array elsewhere.
func (s *Store) encodeDescriptor(desc []float32) (any, error) {
	if len(desc) == 0 {
		return nil, nil
	}
	if s.dialect.Name == Postgres.Name {
		return pgvector.NewVector(desc), nil
	}
	data, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("marshal descriptor: %w", err)
	}
	return string(data), nil
}

// SaveRecognition implements database.RecognitionWriter.
func (s *Store) SaveRecognition(ctx context.Context, entry *database.RecognitionEntry) error {
	desc, err := s.encodeDescriptor(entry.Descriptor)
	if err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := s.dialect.rebind(`INSERT INTO recognitions
		(name, matched, distance, box_top, box_right, box_bottom, box_left, descriptor, sketch_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	args := []any{
		entry.Name, entry.Matched, entry.Distance,
		entry.Top, entry.Right, entry.Bottom, entry.Left,
		desc, entry.SketchURL, entry.CreatedAt,
	}

	if s.dialect.Name == Postgres.Name {
		if err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&entry.ID); err != nil {
			return fmt.Errorf("insert recognition: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert recognition: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// RecentRecognitions implements database.RecognitionReader.
func (s *Store) RecentRecognitions(ctx context.Context, limit int) ([]database.RecognitionEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT
		id, name, matched, distance, box_top, box_right, box_bottom, box_left, descriptor, sketch_url, created_at
		FROM recognitions ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query recognitions: %w", err)
	}
	defer rows.Close()

	var entries []database.RecognitionEntry
	for rows.Next() {
		var e database.RecognitionEntry
		if err := s.scanRecognition(rows, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recognitions: %w", err)
	}
	return entries, nil
}

func (s *Store) scanRecognition(rows *sql.Rows, e *database.RecognitionEntry) error {
	dest := []any{&e.ID, &e.Name, &e.Matched, &e.Distance, &e.Top, &e.Right, &e.Bottom, &e.Left}

	if s.dialect.Name == Postgres.Name {
		var vec sql.Null[pgvector.Vector]
		dest = append(dest, &vec, &e.SketchURL, &e.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan recognition: %w", err)
		}
		if vec.Valid {
			e.Descriptor = vec.V.Slice()
		}
		return nil
	}

	var raw sql.NullString
	dest = append(dest, &raw, &e.SketchURL, &e.CreatedAt)
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("scan recognition: %w", err)
	}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &e.Descriptor); err != nil {
			return fmt.Errorf("decode descriptor of recognition %d: %w", e.ID, err)
		}
	}
	return nil
}
