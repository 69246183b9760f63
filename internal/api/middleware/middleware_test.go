package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drfirst/rxledger/internal/api/respond"
	"github.com/drfirst/rxledger/internal/domain"
	"github.com/drfirst/rxledger/pkg/idempotency"
)

type fakeAuth map[string]domain.Principal

func (f fakeAuth) Authenticate(_ context.Context, token string) (domain.Principal, error) {
	p, ok := f[token]
	if !ok {
		return domain.Principal{}, domain.E("auth.Authenticate", domain.ErrInvalidToken)
	}
	return p, nil
}

type fakePlatform struct {
	blocked     string
	maintenance bool
}

func (f fakePlatform) IPBlocked(_ context.Context, ip string) bool { return ip == f.blocked }
func (f fakePlatform) Maintenance(context.Context) (bool, string)  { return f.maintenance, "" }

var (
	cashier = domain.Principal{UserID: "u-1", Role: domain.RoleCashier, PharmacyID: "ph1"}
	super   = domain.Principal{UserID: "u-0", Role: domain.RoleSuperAdmin}
)

func whoAmI(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	respond.JSON(w, http.StatusOK, p)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) respond.ErrorBody {
	t.Helper()
	var body respond.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAuthenticate(t *testing.T) {
	h := Authenticate(fakeAuth{"good": cashier})(http.HandlerFunc(whoAmI))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				assert.Equal(t, domain.KindAuth, decodeError(t, rec).Code)
				return
			}
			var p domain.Principal
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
			assert.Equal(t, cashier, p)
		})
	}
}

func TestIPBlocklist(t *testing.T) {
	h := IPBlocklist(fakePlatform{blocked: "203.0.113.9"})(http.HandlerFunc(whoAmI))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5123"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.RemoteAddr = "198.51.100.1:5123"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMaintenanceLetsPlatformStaffThrough(t *testing.T) {
	h := Maintenance(fakePlatform{maintenance: true})(http.HandlerFunc(whoAmI))

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(WithPrincipal(context.Background(), cashier))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	req = httptest.NewRequest(http.MethodGet, "/", nil).WithContext(WithPrincipal(context.Background(), super))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverAndRequestID(t *testing.T) {
	h := RequestID(Recover(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, domain.KindInternal, decodeError(t, rec).Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/sales", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), IdempotencyHeader)
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	var calls int32
	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.DefaultInboxConfig(), nil)
	h := Idempotency(inbox, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		respond.JSON(w, http.StatusCreated, map[string]int32{"sale": n})
	}))

	send := func(p domain.Principal, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/sales", strings.NewReader(`{"items":[]}`))
		req = req.WithContext(WithPrincipal(req.Context(), p))
		if key != "" {
			req.Header.Set(IdempotencyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send(cashier, "abc")
	assert.Equal(t, http.StatusCreated, first.Code)
	second := send(cashier, "abc")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// keys are per caller, and requests without a key always run
	send(super, "abc")
	send(cashier, "")
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestIdempotencyRetriesServerErrors(t *testing.T) {
	var calls int32
	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.DefaultInboxConfig(), nil)
	h := Idempotency(inbox, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			respond.Message(w, http.StatusInternalServerError, domain.KindInternal, "internal server error")
			return
		}
		respond.JSON(w, http.StatusCreated, map[string]string{"ok": "yes"})
	}))

	for _, want := range []int{http.StatusInternalServerError, http.StatusCreated, http.StatusCreated} {
		req := httptest.NewRequest(http.MethodPost, "/returns", strings.NewReader(`{}`))
		req = req.WithContext(WithPrincipal(req.Context(), cashier))
		req.Header.Set(IdempotencyHeader, "r-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code)
	}
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}
