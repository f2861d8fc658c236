package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/facegate/internal/database"
)

// List implements database.IdentityReader.
func (s *Store) List(ctx context.Context) ([]database.CanonicalImage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, image, created_at FROM identities ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var images []database.CanonicalImage
	for rows.Next() {
		var img database.CanonicalImage
		if err := rows.Scan(&img.Name, &img.Data, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return images, nil
}

// Has implements database.IdentityReader.
func (s *Store) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT COUNT(*) FROM identities WHERE name = ?"), name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check identity: %w", err)
	}
	return n > 0, nil
}

// Count implements database.IdentityReader.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// Save implements database.IdentityWriter. A single INSERT makes the write
// atomic; an existing name leaves the row untouched and returns ErrNameTaken.
func (s *Store) Save(ctx context.Context, name string, image []byte) error {
	if name == "" {
		return fmt.Errorf("%q: %w", name, database.ErrInvalidName)
	}

	res, err := s.db.ExecContext(ctx, s.dialect.insertIdentity(), name, image, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", name, database.ErrNameTaken)
	}
	return nil
}
