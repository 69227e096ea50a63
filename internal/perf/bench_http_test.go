package perf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dateapp/dateapp-admin/internal/app"
	"github.com/dateapp/dateapp-admin/internal/rbac"
	"github.com/dateapp/dateapp-admin/internal/reveal"
	"github.com/dateapp/dateapp-admin/internal/session"
	_ "github.com/dateapp/dateapp-admin/testing"
)

func benchPrincipal() rbac.Principal {
	perms := make([]rbac.Permission, 0, len(rbac.KnownResources()))
	for _, r := range rbac.KnownResources() {
		perms = append(perms, rbac.Permission{Resource: r, Actions: []rbac.Verb{rbac.VerbRead}})
	}
	return rbac.Principal{ID: "adm-bench", Email: "bench@dateapp.test", Role: rbac.RoleAdmin, Permissions: perms, Active: true}
}

func newRouter(tb testing.TB) (http.Handler, string) {
	tb.Helper()
	mr := miniredis.RunT(tb)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tb.Cleanup(func() { _ = client.Close() })
	sessions := session.NewManager(session.NewRedisStore(client, time.Hour), session.Config{TTL: time.Hour})
	sess, err := sessions.SignIn(context.Background(), benchPrincipal())
	require.NoError(tb, err)
	router := app.NewRouter(app.RouterParams{
		Config:             &app.Config{AppEnv: "test", RateLimitPerMin: 1 << 20},
		Sessions:           sessions,
		PermissionsHandler: rbac.NewPermissionsHandler(nil),
	})
	return router, sess.Token
}

func TestPermissionCheckLatencyTarget(t *testing.T) {
	p := benchPrincipal()
	samples := make([]time.Duration, 0, 200)
	for i := 0; i < cap(samples); i++ {
		start := time.Now()
		for _, r := range rbac.KnownResources() {
			rbac.Check(p, r, rbac.VerbWrite)
		}
		samples = append(samples, time.Since(start))
	}
	if p95 := percentile95(samples); p95 > time.Millisecond {
		t.Fatalf("permission check regression: p95=%s threshold=1ms", p95)
	}
}

func BenchmarkAuthenticatedRequest(b *testing.B) {
	router, token := newRouter(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/admin/permissions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			b.Fatalf("unexpected status %d", rr.Code)
		}
	}
}

func BenchmarkMask(b *testing.B) {
	values := []struct {
		kind  reveal.FieldKind
		value string
	}{
		{reveal.KindEmail, "kimminji@example.com"},
		{reveal.KindPhone, "+82 10-1234-5678"},
		{reveal.KindName, "김민지"},
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		v := values[i%len(values)]
		_ = reveal.Mask(v.kind, v.value)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
