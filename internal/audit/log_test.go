package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dateapp/dateapp-admin/internal/shared"
)

type failingStore struct {
	*MemoryStore
	err error
}

func (s failingStore) Append(ctx context.Context, e Entry) (Entry, error) {
	return Entry{}, s.err
}

type countingRecorder struct {
	mu sync.Mutex
	n  int
}

func (c *countingRecorder) AuditWriteFailed() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func fixedNow() time.Time {
	return time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
}

func entry(principal, action, resource string) Entry {
	return Entry{PrincipalID: principal, Action: action, ResourceID: resource, Outcome: OutcomeSuccess}
}

func collectAll(t *testing.T, l *Log, f Filter) []Entry {
	t.Helper()
	var out []Entry
	for e, err := range l.Query(context.Background(), f) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	log := NewLog(NewMemoryStore(), Config{Now: fixedNow})
	ctx := context.Background()

	first, err := log.Append(ctx, entry("adm-1", "suspend", "M004"))
	require.NoError(t, err)
	second, err := log.Append(ctx, entry("adm-1", "restore", "M004"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)

	got := collectAll(t, log, Filter{})
	require.Len(t, got, 2)
	assert.Equal(t, fixedNow(), got[0].At)
}

func TestAppendRejectsIncompleteEntry(t *testing.T) {
	log := NewLog(NewMemoryStore(), Config{})
	_, err := log.Append(context.Background(), Entry{Action: "suspend", ResourceID: "M1", Outcome: OutcomeSuccess})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = log.Append(context.Background(), Entry{PrincipalID: "a", Action: "suspend", ResourceID: "M1", Outcome: "maybe"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestAppendFailureIsAuditWriteFailed(t *testing.T) {
	recorder := &countingRecorder{}
	log := NewLog(failingStore{MemoryStore: NewMemoryStore(), err: errors.New("disk full")}, Config{Failures: recorder})

	_, err := log.Append(context.Background(), entry("adm-1", "refund", "INV-1"))
	assert.ErrorIs(t, err, shared.ErrAuditWriteFailed)
	assert.Equal(t, 1, recorder.n)
}

func TestConcurrentAppendsAreGapFree(t *testing.T) {
	log := NewLog(NewMemoryStore(), Config{PageSize: 7})
	ctx := context.Background()

	const writers = 50
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := log.Append(ctx, entry("adm-1", "credit", "M001"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	got := collectAll(t, log, Filter{})
	require.Len(t, got, writers)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestQueryFiltersAndIsRestartable(t *testing.T) {
	now := fixedNow()
	log := NewLog(NewMemoryStore(), Config{PageSize: 2})
	ctx := context.Background()
	for i, e := range []Entry{
		entry("adm-1", "suspend", "M004"),
		entry("adm-2", "refund", "INV-2025-001"),
		entry("adm-1", "reveal-pii", "INV-2025-003"),
		entry("adm-1", "suspend", "M005"),
		entry("adm-2", "suspend", "M004"),
	} {
		e.At = now.Add(time.Duration(i) * time.Minute)
		_, err := log.Append(ctx, e)
		require.NoError(t, err)
	}

	byPrincipal := collectAll(t, log, Filter{PrincipalID: "adm-1"})
	require.Len(t, byPrincipal, 3)
	assert.Equal(t, []int64{1, 3, 4}, seqs(byPrincipal))

	byResource := collectAll(t, log, Filter{ResourceID: "M004"})
	assert.Equal(t, []int64{1, 5}, seqs(byResource))

	byAction := collectAll(t, log, Filter{Action: "suspend", PrincipalID: "adm-1"})
	assert.Equal(t, []int64{1, 4}, seqs(byAction))

	window := collectAll(t, log, Filter{From: now.Add(time.Minute), To: now.Add(3 * time.Minute)})
	assert.Equal(t, []int64{2, 3}, seqs(window))

	resumed := collectAll(t, log, Filter{AfterSeq: 3})
	assert.Equal(t, []int64{4, 5}, seqs(resumed))

	again := collectAll(t, log, Filter{PrincipalID: "adm-1"})
	assert.Equal(t, seqs(byPrincipal), seqs(again))
}

func TestQueryStopsWhenCallerBreaks(t *testing.T) {
	log := NewLog(NewMemoryStore(), Config{PageSize: 1})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, entry("adm-1", "credit", "M001"))
		require.NoError(t, err)
	}
	entries, more, err := log.Collect(ctx, Filter{}, 3)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, []int64{1, 2, 3}, seqs(entries))

	entries, more, err = log.Collect(ctx, Filter{}, 10)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Len(t, entries, 5)
}

func TestCompensateReferencesOriginal(t *testing.T) {
	log := NewLog(NewMemoryStore(), Config{})
	ctx := context.Background()
	orig, err := log.Append(ctx, Entry{PrincipalID: "adm-1", Action: "refund", ResourceID: "INV-7", Outcome: OutcomeInconsistent})
	require.NoError(t, err)

	_, err = log.Compensate(ctx, "root", "INV-7", "", &orig)
	assert.ErrorIs(t, err, shared.ErrMissingReason)

	_, err = log.Compensate(ctx, "root", "INV-8", "manual fix", &orig)
	assert.ErrorIs(t, err, shared.ErrValidation)

	missing := int64(99)
	_, err = log.Compensate(ctx, "root", "INV-7", "manual fix", &missing)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	seq, err := log.Compensate(ctx, "root", "INV-7", "refund confirmed with PG", &orig)
	require.NoError(t, err)

	got := collectAll(t, log, Filter{Action: ActionReconcile})
	require.Len(t, got, 1)
	assert.Equal(t, seq, got[0].Seq)
	require.NotNil(t, got[0].RefSeq)
	assert.Equal(t, orig, *got[0].RefSeq)

	first := collectAll(t, log, Filter{ResourceID: "INV-7"})
	assert.Equal(t, OutcomeInconsistent, first[0].Outcome, "original entry is never rewritten")
}

func TestWriteCSV(t *testing.T) {
	log := NewLog(NewMemoryStore(), Config{Now: fixedNow})
	ctx := context.Background()
	amount := int64(15000)
	_, err := log.Append(ctx, Entry{PrincipalID: "adm-1", Action: "refund", ResourceID: "INV-2025-001", Reason: "double charge, card", Amount: &amount, Outcome: OutcomeSuccess})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, log.Query(ctx, Filter{})))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "seq,at,principal_id,action,resource_id,reason,amount,outcome,ref_seq", lines[0])
	assert.Equal(t, `1,2025-01-15T10:00:00Z,adm-1,refund,INV-2025-001,"double charge, card",15000,success,`, lines[1])
}

func seqs(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Seq)
	}
	return out
}
