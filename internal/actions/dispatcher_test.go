package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dateapp/dateapp-admin/internal/audit"
	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/session"
	"github.com/dateapp/dateapp-admin/internal/shared"
	_ "github.com/dateapp/dateapp-admin/testing"
)

type recordingExecutor struct {
	mu    sync.Mutex
	calls []Command
	err   error
	hook  func(ctx context.Context)
}

func (e *recordingExecutor) Execute(ctx context.Context, cmd Command) error {
	if e.hook != nil {
		e.hook(ctx)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, cmd)
	return e.err
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// flakyAuditor fails appends while broken is set.
type flakyAuditor struct {
	*audit.Log
	mu     sync.Mutex
	broken bool
}

func (a *flakyAuditor) Append(ctx context.Context, e audit.Entry) (int64, error) {
	a.mu.Lock()
	broken := a.broken
	a.mu.Unlock()
	if broken {
		return 0, shared.ErrAuditWriteFailed
	}
	return a.Log.Append(ctx, e)
}

func (a *flakyAuditor) setBroken(v bool) {
	a.mu.Lock()
	a.broken = v
	a.mu.Unlock()
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[module+"/"+key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+"/"+key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Release(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"/"+key)
	return nil
}

type harness struct {
	dispatcher *Dispatcher
	sessions   *session.Manager
	log        *audit.Log
	auditor    *flakyAuditor
	members    *recordingExecutor
	billing    *recordingExecutor
	quarantine Quarantine
	idem       *memoryIdempotency
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := audit.NewLog(audit.NewMemoryStore(), audit.Config{})
	h := &harness{
		sessions:   session.NewManager(session.NewRedisStore(client, time.Hour), session.Config{}),
		log:        log,
		auditor:    &flakyAuditor{Log: log},
		members:    &recordingExecutor{},
		billing:    &recordingExecutor{},
		quarantine: NewRedisQuarantine(client),
		idem:       &memoryIdempotency{keys: map[string]struct{}{}},
	}
	executors := map[Type]Executor{
		TypeSuspend:    h.members,
		TypeRestore:    h.members,
		TypeTierChange: h.members,
		TypeRefund:     h.billing,
		TypeCredit:     h.billing,
		TypeCancel:     h.billing,
	}
	d, err := NewDispatcher(h.sessions, h.auditor, executors, Config{
		Quarantine:  h.quarantine,
		Idempotency: h.idem,
	})
	require.NoError(t, err)
	h.dispatcher = d
	return h
}

func (h *harness) signIn(t *testing.T, role rbac.Role, perms ...rbac.Permission) string {
	t.Helper()
	sess, err := h.sessions.SignIn(context.Background(), rbac.Principal{
		ID: "adm-" + string(role), Role: role, Permissions: perms, Active: true,
	})
	require.NoError(t, err)
	return sess.Token
}

func (h *harness) entries(t *testing.T) []audit.Entry {
	t.Helper()
	var out []audit.Entry
	for e, err := range h.log.Query(context.Background(), audit.Filter{}) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func amount(v int64) *int64 { return &v }

func TestNewDispatcherRequiresEveryExecutor(t *testing.T) {
	_, err := NewDispatcher(nil, nil, map[Type]Executor{TypeSuspend: &recordingExecutor{}}, Config{})
	assert.Error(t, err)
}

func TestSuspendWithReasonIsAudited(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t, rbac.RoleAdmin, rbac.Permission{Resource: rbac.ResourceMemberAccount, Actions: []rbac.Verb{rbac.VerbWrite}})

	result, err := h.dispatcher.Dispatch(context.Background(), token, Request{Type: TypeSuspend, ResourceID: "M004", Reason: "policy violation"})
	require.NoError(t, err)
	assert.Equal(t, audit.OutcomeSuccess, result.Outcome)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "suspend", entries[0].Action)
	assert.Equal(t, "M004", entries[0].ResourceID)
	assert.Equal(t, "policy violation", entries[0].Reason)
	assert.Equal(t, audit.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, result.AuditSeq, entries[0].Seq)
	require.Equal(t, 1, h.members.count())
	assert.Equal(t, "adm-admin", h.members.calls[0].PrincipalID)
}

func TestMissingReasonNeverMutates(t *testing.T) {
	h := newHarness(t)
	token := h.signIn(t, rbac.RoleSuperAdmin)

	for _, typ := range []Type{TypeSuspend, TypeRefund, TypeCredit, TypeCancel} {
		_, err := h.dispatcher.Dispatch(context.Background(), token, Request{Type: typ, ResourceID: "INV-1", Reason: "   ", Amount: amount(100)})
		assert.ErrorIs(t, err, shared.ErrMissingReason, string(typ))
	}
	assert.Zero(t, h.members.count())
	assert.Zero(t, h.billing.count())
	assert.Empty(t, h.entries(t))
}

func TestPermissionChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	support := h.signIn(t, rbac.RoleAdmin, rbac.Permission{Resource: rbac.ResourceMemberAccount, Actions: []rbac.Verb{rbac.VerbWrite}})

	_, err := h.dispatcher.Dispatch(ctx, support, Request{Type: TypeRefund, ResourceID: "INV-2025-001", Reason: "dup", Amount: amount(9900)})
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = h.dispatcher.Dispatch(ctx, support, Request{Type: TypeCancel, ResourceID: "INV-2025-001", Reason: "dup"})
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
	assert.Zero(t, h.billing.count())

	_, err = h.dispatcher.Dispatch(ctx, support, Request{Type: TypeRestore, ResourceID: "M004"})
	assert.NoError(t, err)

	root := h.signIn(t, rbac.RoleSuperAdmin)
	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: TypeRefund, ResourceID: "INV-2025-001", Reason: "dup", Amount: amount(9900)})
	assert.NoError(t, err)
	assert.Equal(t, int64(9900), h.billing.calls[0].Amount)
}

func TestRequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.signIn(t, rbac.RoleSuperAdmin)

	_, err := h.dispatcher.Dispatch(ctx, root, Request{Type: TypeRefund, ResourceID: "INV-1", Reason: "x"})
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: TypeCredit, ResourceID: "M001", Reason: "x", Amount: amount(0)})
	assert.ErrorIs(t, err, shared.ErrInvalidAmount)
	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: TypeRestore, ResourceID: "M001", Amount: amount(5)})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: TypeTierChange, ResourceID: "M001", Tier: "platinum"})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: TypeSuspend, Reason: "x"})
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: TypeRevealPII, ResourceID: "M001"})
	assert.ErrorIs(t, err, shared.ErrUnsupportedAction)
	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: "delete-everything", ResourceID: "M001"})
	assert.ErrorIs(t, err, shared.ErrUnsupportedAction)

	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: "Tier-Change", ResourceID: "M001", Tier: " Premium "})
	require.NoError(t, err)
	assert.Equal(t, "premium", h.members.calls[0].Tier)

	assert.Len(t, h.entries(t), 1)
}

func TestDispatchRequiresSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.dispatcher.Dispatch(context.Background(), "bogus", Request{Type: TypeRestore, ResourceID: "M1"})
	assert.ErrorIs(t, err, shared.ErrSessionNotFound)

	token := h.signIn(t, rbac.RoleSuperAdmin)
	require.NoError(t, h.sessions.SignOut(context.Background(), token))
	_, err = h.dispatcher.Dispatch(context.Background(), token, Request{Type: TypeRestore, ResourceID: "M1"})
	assert.ErrorIs(t, err, shared.ErrSessionRevoked)
}

func TestExecutorFailureIsAuditedAndReleasesKey(t *testing.T) {
	h := newHarness(t)
	h.billing.err = errors.New("payment gateway declined")
	root := h.signIn(t, rbac.RoleSuperAdmin)
	req := Request{Type: TypeRefund, ResourceID: "INV-9", Reason: "chargeback", Amount: amount(500), IdempotencyKey: "k-1"}

	result, err := h.dispatcher.Dispatch(context.Background(), root, req)
	require.Error(t, err)
	assert.Equal(t, audit.OutcomeFailure, result.Outcome)
	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.OutcomeFailure, entries[0].Outcome)
	require.NotNil(t, entries[0].Amount)
	assert.Equal(t, int64(500), *entries[0].Amount)

	h.billing.err = nil
	_, err = h.dispatcher.Dispatch(context.Background(), root, req)
	assert.NoError(t, err, "released key can be retried")
	_, err = h.dispatcher.Dispatch(context.Background(), root, req)
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Equal(t, 2, h.billing.count())
}

func TestAuditFailureAfterCommitQuarantinesResource(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.signIn(t, rbac.RoleSuperAdmin)

	h.auditor.setBroken(true)
	result, err := h.dispatcher.Dispatch(ctx, root, Request{Type: TypeCredit, ResourceID: "M007", Reason: "goodwill", Amount: amount(3000)})
	require.ErrorIs(t, err, shared.ErrAuditWriteFailed)
	assert.Equal(t, audit.OutcomeInconsistent, result.Outcome)
	assert.Equal(t, 1, h.billing.count(), "mutation committed")
	h.auditor.setBroken(false)

	mark, marked, err := h.quarantine.Get(ctx, "M007")
	require.NoError(t, err)
	require.True(t, marked)
	assert.Equal(t, TypeCredit, mark.Action)

	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: TypeRestore, ResourceID: "M007"})
	assert.ErrorIs(t, err, shared.ErrResourceInconsistent)
	assert.Zero(t, h.members.count())

	pending, err := h.dispatcher.Pending(ctx, root)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	support := h.signIn(t, rbac.RoleAdmin, rbac.Permission{Resource: rbac.ResourceMemberAccount, Actions: []rbac.Verb{rbac.VerbWrite}})
	_, err = h.dispatcher.Reconcile(ctx, support, ReconcileRequest{ResourceID: "M007", Reason: "verified ledger"})
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = h.dispatcher.Reconcile(ctx, root, ReconcileRequest{ResourceID: "M007"})
	assert.ErrorIs(t, err, shared.ErrMissingReason)

	rec, err := h.dispatcher.Reconcile(ctx, root, ReconcileRequest{ResourceID: "M007", Reason: "credit confirmed in ledger"})
	require.NoError(t, err)
	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionReconcile, entries[0].Action)
	assert.Equal(t, rec.AuditSeq, entries[0].Seq)

	_, err = h.dispatcher.Dispatch(ctx, root, Request{Type: TypeRestore, ResourceID: "M007"})
	assert.NoError(t, err)
}

func TestCallerCancellationDoesNotAbortCommittedMutation(t *testing.T) {
	h := newHarness(t)
	root := h.signIn(t, rbac.RoleSuperAdmin)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var execCtxErr error
	h.members.hook = func(execCtx context.Context) {
		cancel()
		execCtxErr = execCtx.Err()
	}
	result, err := h.dispatcher.Dispatch(ctx, root, Request{Type: TypeSuspend, ResourceID: "M010", Reason: "spam"})
	require.NoError(t, err)
	assert.NoError(t, execCtxErr)
	assert.Equal(t, audit.OutcomeSuccess, result.Outcome)
	assert.Len(t, h.entries(t), 1)
}

func TestHandlerDispatch(t *testing.T) {
	h := newHarness(t)
	root := h.signIn(t, rbac.RoleSuperAdmin)
	r := chi.NewRouter()
	handler := NewHandler(nil, h.dispatcher)
	r.Group(func(r chi.Router) {
		r.Use(session.Middleware{Sessions: h.sessions}.Require)
		r.Route("/admin/actions", handler.MountRoutes)
		r.Route("/admin/reconciliations", handler.MountReconciliationRoutes)
	})

	post := func(target, body, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+root)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := post("/admin/actions/suspend", `{"resourceId":"M004","reason":"policy violation"}`, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"outcome":"success"`)

	rr = post("/admin/actions/refund", `{"resourceId":"INV-1","amount":100}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Reason Required")

	rr = post("/admin/actions/reveal-pii", `{"resourceId":"M004"}`, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = post("/admin/actions/credit", `{"resourceId":"M004","reason":"promo","amount":1000}`, "abc")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = post("/admin/actions/credit", `{"resourceId":"M004","reason":"promo","amount":1000}`, "abc")
	assert.Equal(t, http.StatusConflict, rr.Code)

	h.auditor.setBroken(true)
	rr = post("/admin/actions/cancel", `{"resourceId":"INV-5","reason":"fraud"}`, "")
	h.auditor.setBroken(false)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "urn:dateapp:audit-inconsistent")
	assert.Contains(t, rr.Body.String(), `"outcome":"inconsistent"`)

	rr = post("/admin/actions/cancel", `{"resourceId":"INV-5","reason":"fraud"}`, "")
	assert.Equal(t, http.StatusLocked, rr.Code)

	rr = post("/admin/reconciliations", `{"resourceId":"INV-5","reason":"cancel confirmed","refSeq":0}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = post("/admin/reconciliations", `{"resourceId":"INV-5","reason":"cancel confirmed"}`, "")
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestHandlerReportsAuditedFailure(t *testing.T) {
	h := newHarness(t)
	root := h.signIn(t, rbac.RoleSuperAdmin)
	r := chi.NewRouter()
	r.With(session.Middleware{Sessions: h.sessions}.Require).
		Route("/admin/actions", NewHandler(nil, h.dispatcher).MountRoutes)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/actions/refund", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+root)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	h.billing.err = errors.New("gateway declined")
	rr := post(`{"resourceId":"INV-2025-001","reason":"duplicate charge","amount":1500}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	var problem struct {
		Title    string `json:"title"`
		Detail   string `json:"detail"`
		AuditSeq int64  `json:"auditSeq"`
		Outcome  string `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "Action Failed", problem.Title)
	assert.Contains(t, problem.Detail, "gateway declined")
	assert.Equal(t, string(audit.OutcomeFailure), problem.Outcome)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, entries[0].Seq, problem.AuditSeq)
	assert.Equal(t, audit.OutcomeFailure, entries[0].Outcome)

	h.billing.err = fmt.Errorf("refund: %w", shared.ErrInvalidState)
	rr = post(`{"resourceId":"INV-2025-002","reason":"duplicate charge","amount":1500}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "Invalid State", problem.Title)
	assert.Equal(t, string(audit.OutcomeFailure), problem.Outcome)
	assert.Equal(t, int64(2), problem.AuditSeq)
}
