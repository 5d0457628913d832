// Package secrets defines the stateless secret resolver used by activities to
// obtain provider and tool-server credentials per call.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Resolver resolves a named secret. Implementations must be stateless per
// call; activities never cache resolved values across invocations.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Env resolves secrets from process environment variables. Secret names are
// upper-cased and non-alphanumeric runes become underscores, so "openai.key"
// resolves from OPENAI_KEY.
type Env struct {
	// Prefix is prepended to every variable name, e.g. "ORBIT_".
	Prefix string
}

// Resolve looks the secret up in the environment.
func (e Env) Resolve(_ context.Context, name string) (string, error) {
	key := e.Prefix + envKey(name)
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", fmt.Errorf("secret %q not set (env %s)", name, key)
	}
	return val, nil
}

func envKey(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 32
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return mapped
}
