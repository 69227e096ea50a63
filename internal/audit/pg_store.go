package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dateapp/dateapp-admin/internal/platform/db"
	"github.com/dateapp/dateapp-admin/internal/shared"
)

// PGStore keeps the audit log in PostgreSQL. Sequence numbers come from the
// single-row audit_sequence counter, locked for the duration of the insert,
// so they are gap-free and become visible in order.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a PGStore.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const nextSeq = `UPDATE audit_sequence SET last_seq = last_seq + 1 WHERE id = 1 RETURNING last_seq`

const insertEntry = `
INSERT INTO audit_log (seq, principal_id, action, resource_id, reason, amount, outcome, at, ref_seq, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const selectEntries = `
SELECT seq, principal_id, action, resource_id, reason, amount, outcome, at, ref_seq, meta
FROM audit_log`

const pageEntries = selectEntries + `
WHERE seq > $1
  AND ($2::text = '' OR principal_id = $2)
  AND ($3::text = '' OR resource_id = $3)
  AND ($4::text = '' OR action = $4)
  AND ($5::timestamptz IS NULL OR at >= $5)
  AND ($6::timestamptz IS NULL OR at < $6)
ORDER BY seq ASC
LIMIT $7`

// Append implements Store.
func (s *PGStore) Append(ctx context.Context, e Entry) (Entry, error) {
	meta, err := encodeMeta(e.Meta)
	if err != nil {
		return Entry{}, err
	}
	err = db.WithTx(ctx, s.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, nextSeq).Scan(&e.Seq); err != nil {
			return fmt.Errorf("audit: allocate seq: %w", err)
		}
		_, err := tx.Exec(ctx, insertEntry,
			e.Seq, e.PrincipalID, e.Action, e.ResourceID, e.Reason,
			optionalInt(e.Amount), string(e.Outcome), e.At.UTC(), optionalInt(e.RefSeq), meta,
		)
		if err != nil {
			return fmt.Errorf("audit: insert entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Page implements Store.
func (s *PGStore) Page(ctx context.Context, f Filter, afterSeq int64, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, pageEntries,
		afterSeq, f.PrincipalID, f.ResourceID, f.Action,
		toPgTime(f.From), toPgTime(f.To), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: page: %w", err)
	}
	defer rows.Close()
	out := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: page: %w", err)
	}
	return out, nil
}

// Get implements Store.
func (s *PGStore) Get(ctx context.Context, seq int64) (Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx, selectEntries+` WHERE seq = $1`, seq))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e       Entry
		outcome string
		amount  pgtype.Int8
		refSeq  pgtype.Int8
		at      time.Time
		meta    []byte
	)
	if err := row.Scan(&e.Seq, &e.PrincipalID, &e.Action, &e.ResourceID, &e.Reason, &amount, &outcome, &at, &refSeq, &meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("audit: scan entry: %w", err)
	}
	e.Outcome = Outcome(outcome)
	e.At = at.UTC()
	if amount.Valid {
		v := amount.Int64
		e.Amount = &v
	}
	if refSeq.Valid {
		v := refSeq.Int64
		e.RefSeq = &v
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return Entry{}, fmt.Errorf("audit: decode meta: %w", err)
		}
	}
	return e, nil
}

func encodeMeta(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("audit: encode meta: %w", err)
	}
	return data, nil
}

func optionalInt(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

var _ Store = (*PGStore)(nil)
