package reveal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dateapp/dateapp-admin/internal/shared"
)

// ValueSource resolves sensitive values by resource id.
type ValueSource interface {
	Lookup(ctx context.Context, resourceID string) (Field, error)
}

// PGValueSource reads the sensitive_fields table.
type PGValueSource struct {
	pool *pgxpool.Pool
}

// NewPGValueSource constructs a PGValueSource.
func NewPGValueSource(pool *pgxpool.Pool) *PGValueSource {
	return &PGValueSource{pool: pool}
}

// Lookup implements ValueSource.
func (s *PGValueSource) Lookup(ctx context.Context, resourceID string) (Field, error) {
	f := Field{ResourceID: strings.TrimSpace(resourceID)}
	var kind string
	err := s.pool.QueryRow(ctx,
		`SELECT kind, value FROM sensitive_fields WHERE resource_id = $1`, f.ResourceID,
	).Scan(&kind, &f.Value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Field{}, shared.ErrNotFound
		}
		return Field{}, fmt.Errorf("reveal: lookup %s: %w", f.ResourceID, err)
	}
	f.Kind = FieldKind(kind)
	return f, nil
}

// StaticSource serves values from memory; used by tests and local fixtures.
type StaticSource map[string]Field

// Lookup implements ValueSource.
func (s StaticSource) Lookup(ctx context.Context, resourceID string) (Field, error) {
	f, ok := s[resourceID]
	if !ok {
		return Field{}, shared.ErrNotFound
	}
	f.ResourceID = resourceID
	return f, nil
}

var (
	_ ValueSource = (*PGValueSource)(nil)
	_ ValueSource = StaticSource(nil)
)
