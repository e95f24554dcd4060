package config

import (
	"context"
	"os"
)

// EnvVarProvider implements SecretProvider over OS environment variables.
// It is the provider of choice for local development, where secrets live in
// the environment or a .env file rather than SSM.
type EnvVarProvider struct{}

func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch looks each key up with os.LookupEnv. Missing keys are
// omitted from the result rather than reported as errors.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
