package remote

import (
	"sort"
	"strings"
)

// RedactedValue replaces secret-like environment values in operator output.
const RedactedValue = "***"

var secretMarkers = []string{"token", "secret", "key"}

// IsSecretKey reports whether an environment key looks like it holds a
// credential. Matching is by substring, case-insensitive.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range secretMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// EnvAssignments renders env as inline shell assignments, sorted by key for
// stable output. Empty values are dropped. When redact is set, secret-like
// values are masked; the redacted form must never reach the remote shell.
func EnvAssignments(env map[string]string, redact bool) string {
	keys := make([]string, 0, len(env))
	for k, v := range env {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := env[k]
		if redact && IsSecretKey(k) {
			v = RedactedValue
		}
		parts = append(parts, k+"="+Quote(v))
	}
	return strings.Join(parts, " ")
}

// WithEnv prefixes command with inline assignments for env. The returned
// string is what actually runs; use the redacted variant for display only.
func WithEnv(command string, env map[string]string) string {
	assigns := EnvAssignments(env, false)
	if assigns == "" {
		return command
	}
	return assigns + " " + command
}

// RedactedWithEnv is the display form of WithEnv: same shape, masked
// secret values.
func RedactedWithEnv(command string, env map[string]string) string {
	assigns := EnvAssignments(env, true)
	if assigns == "" {
		return command
	}
	return assigns + " " + command
}
