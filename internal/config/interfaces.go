package config

import "context"

// SecretProvider resolves secret pointers (SSM paths, or plain variable names
// for local runs) to plaintext values.
type SecretProvider interface {
	// GetParametersBatch returns a map of key -> plaintext value for every key
	// it could resolve. Missing keys are omitted rather than reported as errors.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
