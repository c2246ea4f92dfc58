package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/rxchain/internal/api/handlers"
	"github.com/drfirst/rxchain/internal/api/middleware"
	"github.com/drfirst/rxchain/internal/config"
	"github.com/drfirst/rxchain/internal/ledger"
	"github.com/drfirst/rxchain/internal/node"
	"github.com/drfirst/rxchain/internal/observability/metrics"
)

func newRouter(t *testing.T, ready func(context.Context) error) (http.Handler, middleware.AuthConfig) {
	t.Helper()
	n, err := node.New(context.Background(), config.GenesisConfig{
		Admin:    "0x0000000000000000000000000000000000000a11",
		Patients: []string{"0x00000000000000000000000000000000000000c1"},
	})
	require.NoError(t, err)

	auth := middleware.AuthConfig{Secret: []byte("0123456789abcdef0123456789abcdef"), TTL: time.Hour}
	m := metrics.New(nil)
	n.Ledger.AddSink(m)
	r := NewRouter(handlers.New(n, nil), m, RouterConfig{
		ServiceName: "rxchain-test",
		Auth:        auth,
		CORSOrigins: []string{"*"},
		Ready:       ready,
	}, nil)
	return r, auth
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestProbes(t *testing.T) {
	r, _ := newRouter(t, nil)

	rec := get(r, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service":"rxchain-test"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, get(r, "/ready", "").Code)

	rec = get(r, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")

	notReady, _ := newRouter(t, func(context.Context) error { return errors.New("db down") })
	assert.Equal(t, http.StatusServiceUnavailable, get(notReady, "/ready", "").Code)
}

func TestAPIRequiresWalletToken(t *testing.T) {
	r, auth := newRouter(t, nil)
	path := "/api/v1/accounts/0x00000000000000000000000000000000000000c1/balance"

	assert.Equal(t, http.StatusUnauthorized, get(r, path, "").Code)

	token, err := middleware.IssueToken(auth, ledger.MustParseAddress("0x00000000000000000000000000000000000000c1"), time.Now())
	require.NoError(t, err)
	rec := get(r, path, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"address":"0x00000000000000000000000000000000000000c1","balance":0}`, rec.Body.String())

	// receipts need a store
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/api/v1/receipts/0", token).Code)
}
