package config

import "os"

// EnvKey is the environment variable naming which deployment profile to
// load configuration for.
const (
	EnvKey     = "FOUNDATIO_ENV"
	DefaultEnv = "development"
)

// Env returns the active deployment profile name, defaulting to
// DefaultEnv when FOUNDATIO_ENV is unset.
func Env() string {
	if v := os.Getenv(EnvKey); v != "" {
		return v
	}
	return DefaultEnv
}
