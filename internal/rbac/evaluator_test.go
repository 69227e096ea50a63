package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminWith(perms ...Permission) Principal {
	return Principal{ID: "A1", Role: RoleAdmin, Permissions: perms, Active: true}
}

func TestCheckSuperAdminAlwaysAllowed(t *testing.T) {
	p := Principal{ID: "root", Role: RoleSuperAdmin, Active: true}
	for _, resource := range append(KnownResources(), "anything", "") {
		for _, verb := range []Verb{VerbRead, VerbWrite, VerbDelete, Verb("bogus")} {
			assert.True(t, Check(p, resource, verb), "%s %s", resource, verb)
		}
	}
}

func TestCheckAdminRequiresExactMatch(t *testing.T) {
	p := adminWith(
		Permission{Resource: ResourceBillingInvoice, Actions: []Verb{VerbRead, VerbDelete}},
		Permission{Resource: ResourceMemberAccount, Actions: []Verb{VerbWrite}},
	)

	cases := []struct {
		resource string
		verb     Verb
		want     bool
	}{
		{ResourceBillingInvoice, VerbRead, true},
		{ResourceBillingInvoice, VerbDelete, true},
		{ResourceBillingInvoice, VerbWrite, false},
		{ResourceMemberAccount, VerbWrite, true},
		{ResourceMemberAccount, VerbRead, false},
		{"billing", VerbRead, false},
		{"billing.invoice.line", VerbRead, false},
		{"BILLING.INVOICE", VerbRead, false},
		{ResourceBillingPayment, VerbWrite, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Check(p, tc.resource, tc.verb), "%s %s", tc.resource, tc.verb)
	}
}

func TestCheckAdminWithoutPermissions(t *testing.T) {
	assert.False(t, Check(adminWith(), ResourceAuditLog, VerbRead))
}

func TestPermissionValidate(t *testing.T) {
	require.NoError(t, Permission{Resource: "member.account", Actions: []Verb{VerbRead}}.Validate())
	require.Error(t, Permission{Resource: "member.account"}.Validate())
	require.Error(t, Permission{Resource: "", Actions: []Verb{VerbRead}}.Validate())
	require.Error(t, Permission{Resource: "member.account", Actions: []Verb{"approve"}}.Validate())
}

func TestParseVerbs(t *testing.T) {
	verbs, err := ParseVerbs([]string{" Read", "write", "read", ""})
	require.NoError(t, err)
	assert.Equal(t, []Verb{VerbRead, VerbWrite}, verbs)

	_, err = ParseVerbs([]string{"execute"})
	require.Error(t, err)
}

func TestMiddlewareRequire(t *testing.T) {
	mw := Middleware{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := mw.Require(ResourceAuditLog, VerbRead)(next)

	t.Run("no principal", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("denied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(ContextWithPrincipal(req.Context(), adminWith()))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("allowed", func(t *testing.T) {
		p := adminWith(Permission{Resource: ResourceAuditLog, Actions: []Verb{VerbRead}})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(ContextWithPrincipal(req.Context(), p))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}
