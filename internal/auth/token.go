// Package auth implements API token issuance and verification for the
// dashboard API. Tokens have the form "tb_<id>.<secret>": the id is a
// public lookup key, the secret is stored only as a bcrypt hash.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/easyash/trustedby/internal/types"
)

// bcryptCost is the bcrypt cost factor used for token secret hashing.
const bcryptCost = 10

// tokenPrefix namespaces issued tokens so leaked values are recognizable in
// scanning tools.
const tokenPrefix = "tb_"

// TokenRepo defines the data access methods the TokenService needs.
// Implemented by db.TokenRepository.
type TokenRepo interface {
	Create(ctx context.Context, token *types.APIToken) error
	GetByID(ctx context.Context, id string) (*types.APIToken, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*types.APIToken, error)
	TouchLastUsed(ctx context.Context, id string) error
	Revoke(ctx context.Context, customerID, id string) error
}

// SecretHasher abstracts bcrypt operations for testability.
type SecretHasher interface {
	CompareHashAndSecret(hashedSecret, secret string) error
	GenerateFromSecret(secret string) (string, error)
}

type bcryptHasher struct{}

func (b *bcryptHasher) CompareHashAndSecret(hashedSecret, secret string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedSecret), []byte(secret))
}

func (b *bcryptHasher) GenerateFromSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// TokenService issues and verifies API tokens.
type TokenService struct {
	repo   TokenRepo
	hasher SecretHasher
	logger *slog.Logger
}

func NewTokenService(repo TokenRepo, logger *slog.Logger) *TokenService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		repo:   repo,
		hasher: &bcryptHasher{},
		logger: logger,
	}
}

// NewTokenServiceWithHasher injects a hasher, for tests that cannot afford
// real bcrypt rounds.
func NewTokenServiceWithHasher(repo TokenRepo, hasher SecretHasher, logger *slog.Logger) *TokenService {
	svc := NewTokenService(repo, logger)
	svc.hasher = hasher
	return svc
}

// Issue creates a new token for the customer and returns the cleartext
// exactly once. Only the bcrypt hash is stored.
func (s *TokenService) Issue(ctx context.Context, customerID, name string) (cleartext string, token *types.APIToken, err error) {
	id, err := randomHex(8)
	if err != nil {
		return "", nil, types.NewAppError(types.ErrCodeInternalError, "failed to generate token id", err)
	}
	secret, err := randomHex(24)
	if err != nil {
		return "", nil, types.NewAppError(types.ErrCodeInternalError, "failed to generate token secret", err)
	}

	hash, err := s.hasher.GenerateFromSecret(secret)
	if err != nil {
		return "", nil, types.NewAppError(types.ErrCodeInternalError, "failed to hash token secret", err)
	}

	token = &types.APIToken{
		ID:         id,
		CustomerID: customerID,
		Name:       name,
		SecretHash: hash,
	}
	if err := s.repo.Create(ctx, token); err != nil {
		return "", nil, err
	}

	s.logger.InfoContext(ctx, "api token issued",
		"customer_id", customerID,
		"token_id", id,
	)
	return fmt.Sprintf("%s%s.%s", tokenPrefix, id, secret), token, nil
}

// Verify authenticates a presented token and returns the actor it
// represents. Every failure mode maps to the same unauthorized error so
// responses do not leak which part of the token was wrong.
func (s *TokenService) Verify(ctx context.Context, presented string) (types.Actor, error) {
	id, secret, ok := splitToken(presented)
	if !ok {
		return types.Actor{}, unauthorized()
	}

	token, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.Actor{}, unauthorized()
	}
	if token.Revoked() {
		return types.Actor{}, unauthorized()
	}

	if err := s.hasher.CompareHashAndSecret(token.SecretHash, secret); err != nil {
		return types.Actor{}, unauthorized()
	}

	if err := s.repo.TouchLastUsed(ctx, token.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to record token usage",
			"token_id", token.ID,
			"error", err,
		)
	}

	return types.Actor{
		ID:         token.ID,
		CustomerID: token.CustomerID,
		Source:     types.ActorSourceAPIToken,
	}, nil
}

// List returns the customer's live tokens.
func (s *TokenService) List(ctx context.Context, customerID string) ([]*types.APIToken, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

// Revoke invalidates one of the customer's tokens.
func (s *TokenService) Revoke(ctx context.Context, customerID, tokenID string) error {
	if err := s.repo.Revoke(ctx, customerID, tokenID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "api token revoked",
		"customer_id", customerID,
		"token_id", tokenID,
	)
	return nil
}

// splitToken parses "tb_<id>.<secret>" into its parts.
func splitToken(presented string) (id, secret string, ok bool) {
	rest, found := strings.CutPrefix(presented, tokenPrefix)
	if !found {
		return "", "", false
	}
	id, secret, found = strings.Cut(rest, ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

func unauthorized() error {
	return types.NewAppError(types.ErrCodeAuthUnauthorized, "invalid or revoked api token", nil)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
