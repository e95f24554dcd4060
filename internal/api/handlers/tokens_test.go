package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyash/trustedby/internal/core"
	"github.com/easyash/trustedby/internal/types"
)

type fakeTokenManager struct {
	issued  []*types.APIToken
	revoked []string
	err     error
}

func (f *fakeTokenManager) Issue(_ context.Context, customerID, name string) (string, *types.APIToken, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	token := &types.APIToken{
		ID:         "tok_abc",
		CustomerID: customerID,
		Name:       name,
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.issued = append(f.issued, token)
	return "tb_tok_abc.secret", token, nil
}

func (f *fakeTokenManager) List(_ context.Context, _ string) ([]*types.APIToken, error) {
	return f.issued, f.err
}

func (f *fakeTokenManager) Revoke(_ context.Context, _, tokenID string) error {
	if f.err != nil {
		return f.err
	}
	f.revoked = append(f.revoked, tokenID)
	return nil
}

func newTokenHandler(mgr TokenManager) *TokenHandler {
	return NewTokenHandler(mgr, core.NewValidator(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIssueTokenReturnsCleartextOnce(t *testing.T) {
	mgr := &fakeTokenManager{}
	h := newTokenHandler(mgr)

	w := httptest.NewRecorder()
	h.Issue(w, authedRequest(http.MethodPost, "/v1/tokens", `{"name":"widget server"}`))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "tb_tok_abc.secret")
	require.Len(t, mgr.issued, 1)
	assert.Equal(t, "cus_1", mgr.issued[0].CustomerID)
	assert.Equal(t, "widget server", mgr.issued[0].Name)
}

func TestIssueTokenRequiresName(t *testing.T) {
	h := newTokenHandler(&fakeTokenManager{})

	w := httptest.NewRecorder()
	h.Issue(w, authedRequest(http.MethodPost, "/v1/tokens", `{}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_missing_field")
}

func TestListTokensOmitsCleartext(t *testing.T) {
	mgr := &fakeTokenManager{}
	h := newTokenHandler(mgr)

	w := httptest.NewRecorder()
	h.Issue(w, authedRequest(http.MethodPost, "/v1/tokens", `{"name":"ci"}`))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	h.List(w, authedRequest(http.MethodGet, "/v1/tokens", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"tok_abc"`)
	assert.NotContains(t, w.Body.String(), "tb_tok_abc.secret")
}

func TestRevokeToken(t *testing.T) {
	mgr := &fakeTokenManager{}
	h := newTokenHandler(mgr)

	r := authedRequest(http.MethodDelete, "/v1/tokens/tok_abc", "")
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("tokenID", "tok_abc")
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	w := httptest.NewRecorder()
	h.Revoke(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"tok_abc"}, mgr.revoked)
}

func TestTokenEndpointsRequireAuth(t *testing.T) {
	h := newTokenHandler(&fakeTokenManager{})

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/v1/tokens", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
