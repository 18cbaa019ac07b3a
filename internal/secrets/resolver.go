// Package secrets resolves the environment map a forked worker process
// receives, standing in for the "secrets-store integration" collaborator
// the specification treats as external.
package secrets

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver produces the environment variables a worker process should be
// forked with, keyed by worker id and the supervisor's configured storage
// root.
//
//go:generate mockgen -destination=mocks/mock_resolver.go -package=mocks github.com/mattjoyce/spindle/internal/secrets Resolver
type Resolver interface {
	Resolve(ctx context.Context, id, storage string) (map[string]string, error)
}

// EnvFileResolver reads KEY=VALUE lines from <storage>/secrets/<id>.env.
// A missing file yields an empty map rather than an error: the core never
// fails to fork a worker because secrets are absent, it just forks it with
// a smaller environment.
type EnvFileResolver struct{}

func NewEnvFileResolver() *EnvFileResolver { return &EnvFileResolver{} }

func (r *EnvFileResolver) Resolve(ctx context.Context, id, storage string) (map[string]string, error) {
	path := filepath.Join(storage, "secrets", id+".env")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("secrets: open %s: %w", path, err)
	}
	defer f.Close()

	env := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		env[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}

	return env, nil
}
