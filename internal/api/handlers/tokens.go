package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/easyash/trustedby/internal/core"
	"github.com/easyash/trustedby/internal/types"
)

// TokenManager is the slice of auth.TokenService the token endpoints need.
type TokenManager interface {
	Issue(ctx context.Context, customerID, name string) (cleartext string, token *types.APIToken, err error)
	List(ctx context.Context, customerID string) ([]*types.APIToken, error)
	Revoke(ctx context.Context, customerID, tokenID string) error
}

// TokenHandler serves API token management for the authenticated customer.
type TokenHandler struct {
	tokens    TokenManager
	validator *core.Validator
	logger    *slog.Logger
}

func NewTokenHandler(tokens TokenManager, validator *core.Validator, logger *slog.Logger) *TokenHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenHandler{
		tokens:    tokens,
		validator: validator,
		logger:    logger,
	}
}

func (h *TokenHandler) RegisterRoutes(r chi.Router) {
	r.Route("/tokens", func(r chi.Router) {
		r.Post("/", h.Issue)
		r.Get("/", h.List)
		r.Delete("/{tokenID}", h.Revoke)
	})
}

type issueTokenRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

// tokenView is the API shape of a token. The secret hash never leaves the
// server; Token is populated only in the issue response, the one time the
// cleartext exists.
type tokenView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Token      string     `json:"token,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Issue creates a new API token. The cleartext is returned once and cannot
// be recovered afterwards.
//
// POST /v1/tokens
func (h *TokenHandler) Issue(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req issueTokenRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	cleartext, token, err := h.tokens.Issue(r.Context(), actor.CustomerID, req.Name)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: tokenView{
		ID:        token.ID,
		Name:      token.Name,
		Token:     cleartext,
		CreatedAt: token.CreatedAt,
	}})
}

// List returns the customer's live tokens, newest first.
//
// GET /v1/tokens
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	tokens, err := h.tokens.List(r.Context(), actor.CustomerID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, tokenView{
			ID:         t.ID,
			Name:       t.Name,
			CreatedAt:  t.CreatedAt,
			LastUsedAt: t.LastUsedAt,
		})
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: views})
}

// Revoke disables a token. Scoped to the requesting customer; revoking an
// already revoked token succeeds.
//
// DELETE /v1/tokens/{tokenID}
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	tokenID := chi.URLParam(r, "tokenID")
	if err := h.tokens.Revoke(r.Context(), actor.CustomerID, tokenID); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"revoked": true}})
}
