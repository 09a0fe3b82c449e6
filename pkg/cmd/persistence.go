package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/merchplan/approvals/pkg/persistence"
	"github.com/merchplan/approvals/pkg/persistence/file"
	"github.com/merchplan/approvals/pkg/persistence/postgresql"
	"github.com/merchplan/approvals/pkg/persistence/sqlite"
)

var supportedPersistenceProviders = []string{"file", "postgres", "postgresql", "sqlite"}

// NewPersistence opens the store named by the scheme of databaseURL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, err := parsePersistenceProvider(databaseURL)
	if err != nil {
		return nil, err
	}

	switch provider {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "sqlite":
		return sqlite.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parsePersistenceProvider(databaseURL string) (string, error) {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "", fmt.Errorf("database url %q has no scheme, expected one of %v", databaseURL, supportedPersistenceProviders)
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider, nil
		}
	}

	return "", fmt.Errorf("unsupported persistence provider %q, expected one of %v", provider, supportedPersistenceProviders)
}
