package types

import "time"

// APIToken is a long-lived credential for the dashboard API. The secret is
// stored only as a bcrypt hash; the cleartext is shown once at creation.
type APIToken struct {
	ID         string
	CustomerID string
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the token has been invalidated.
func (t *APIToken) Revoked() bool {
	return t.RevokedAt != nil
}
