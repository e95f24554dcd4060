package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/easyash/trustedby/internal/types"
)

// TokenRepository provides data access for the api_tokens table.
type TokenRepository struct {
	db DBTX
}

func NewTokenRepository(db DBTX) *TokenRepository {
	return &TokenRepository{db: db}
}

const tokenColumns = `id, customer_id, name, secret_hash, created_at, last_used_at, revoked_at`

func scanToken(row pgx.Row) (*types.APIToken, error) {
	var t types.APIToken
	err := row.Scan(
		&t.ID,
		&t.CustomerID,
		&t.Name,
		&t.SecretHash,
		&t.CreatedAt,
		&t.LastUsedAt,
		&t.RevokedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create inserts a new token record. The secret hash is computed by the
// caller; cleartext secrets never reach this layer.
func (r *TokenRepository) Create(ctx context.Context, token *types.APIToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO api_tokens (id, customer_id, name, secret_hash, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		token.ID,
		token.CustomerID,
		token.Name,
		token.SecretHash,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to create api token", err)
	}
	return nil
}

// GetByID retrieves a token by its public identifier, revoked or not.
// Callers decide how to treat revoked tokens.
func (r *TokenRepository) GetByID(ctx context.Context, id string) (*types.APIToken, error) {
	t, err := scanToken(r.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeAuthUnauthorized, "unknown api token", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to retrieve api token", err)
	}
	return t, nil
}

// ListByCustomer returns all live tokens for a customer, newest first.
func (r *TokenRepository) ListByCustomer(ctx context.Context, customerID string) ([]*types.APIToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens
		 WHERE customer_id = $1 AND revoked_at IS NULL
		 ORDER BY created_at DESC`,
		customerID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to list api tokens", err)
	}
	defer rows.Close()

	var tokens []*types.APIToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to scan api token", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to list api tokens", err)
	}
	return tokens, nil
}

// TouchLastUsed records token usage. Best effort; auth does not depend on it.
func (r *TokenRepository) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to record token usage", err)
	}
	return nil
}

// Revoke invalidates a token. Idempotent: revoking twice keeps the first
// revocation timestamp.
func (r *TokenRepository) Revoke(ctx context.Context, customerID, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE api_tokens
		 SET revoked_at = COALESCE(revoked_at, NOW())
		 WHERE id = $1 AND customer_id = $2`,
		id,
		customerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDatabaseError, "failed to revoke api token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeAuthUnauthorized, "unknown api token", nil)
	}
	return nil
}
