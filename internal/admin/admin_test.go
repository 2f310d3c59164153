package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arlobry/doorcode/internal/blocklist"
	"github.com/arlobry/doorcode/internal/optout"
	"github.com/arlobry/doorcode/internal/store"
	"github.com/arlobry/doorcode/internal/whitelist"
)

const testSecret = "swordfish"

type fakeResetter struct {
	got []string
}

func (f *fakeResetter) Reset(ctx context.Context, sender string) error {
	f.got = append(f.got, sender)
	return nil
}

func newTestAPI(t *testing.T) (*gin.Engine, *whitelist.List, *blocklist.List, *optout.Ledger, *fakeResetter) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	wl := whitelist.New(st)
	blocks := blocklist.New(st)
	opts := optout.New(st, 0)
	reset := &fakeResetter{}

	r := gin.New()
	NewHandler(wl, blocks, opts, nil, reset).RegisterRoutes(r, testSecret)
	return r, wl, blocks, opts, reset
}

func do(t *testing.T, r *gin.Engine, method, path, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	r, _, _, _, _ := newTestAPI(t)

	w := do(t, r, http.MethodGet, "/admin/whitelist", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/admin/whitelist", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/admin/whitelist", "", testSecret)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := store.NewMemory()
	r := gin.New()
	NewHandler(whitelist.New(st), blocklist.New(st), optout.New(st, 0), nil).RegisterRoutes(r, "")

	// Even a correct-looking header can't open a disabled admin API.
	w := do(t, r, http.MethodGet, "/admin/whitelist", "", "anything")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWhitelistLifecycle(t *testing.T) {
	r, wl, _, _, _ := newTestAPI(t)
	ctx := context.Background()

	// Add normalizes the number before storing.
	w := do(t, r, http.MethodPost, "/admin/whitelist", `{"phone":"(555) 123-4567"}`, testSecret)
	require.Equal(t, http.StatusCreated, w.Code)

	ok, err := wl.Contains(ctx, "+15551234567")
	require.NoError(t, err)
	assert.True(t, ok)

	w = do(t, r, http.MethodGet, "/admin/whitelist", "", testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Whitelist []string `json:"whitelist"`
		Count     int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"+15551234567"}, resp.Whitelist)
	assert.Equal(t, 1, resp.Count)

	w = do(t, r, http.MethodDelete, "/admin/whitelist/%2B15551234567", "", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	ok, err = wl.Contains(ctx, "+15551234567")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWhitelistRejectsBadInput(t *testing.T) {
	r, _, _, _, _ := newTestAPI(t)

	w := do(t, r, http.MethodPost, "/admin/whitelist", `{"phone":""}`, testSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/admin/whitelist", `not json`, testSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnblockClearsCounters(t *testing.T) {
	r, _, blocks, _, reset := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, blocks.Block(ctx, "+15559990000"))

	w := do(t, r, http.MethodDelete, "/admin/blocklist/%2B15559990000", "", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	blocked, err := blocks.IsBlocked(ctx, "+15559990000")
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Equal(t, []string{"+15559990000"}, reset.got)
}

func TestBlocklistAdd(t *testing.T) {
	r, _, blocks, _, _ := newTestAPI(t)

	w := do(t, r, http.MethodPost, "/admin/blocklist", `{"phone":"+15559990000"}`, testSecret)
	require.Equal(t, http.StatusCreated, w.Code)

	blocked, err := blocks.IsBlocked(context.Background(), "+15559990000")
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestOptOutListAndClear(t *testing.T) {
	r, _, _, opts, _ := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, opts.RecordOptOut(ctx, "+15551234567"))

	w := do(t, r, http.MethodGet, "/admin/optouts", "", testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OptOuts []string `json:"optouts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"+15551234567"}, resp.OptOuts)

	w = do(t, r, http.MethodDelete, "/admin/optouts/%2B15551234567", "", testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	opted, err := opts.IsOptedOut(ctx, "+15551234567")
	require.NoError(t, err)
	assert.False(t, opted)
}
