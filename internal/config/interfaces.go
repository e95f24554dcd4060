package config

import "context"

// SecretProvider abstracts secret retrieval so production can use AWS SSM
// Parameter Store while local development reads plain environment variables.
type SecretProvider interface {
	// GetParametersBatch resolves the given parameter paths and returns a
	// map of path to plaintext value for every parameter that was found.
	// Implementations handle batching against API limits internally.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
