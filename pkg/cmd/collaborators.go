package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/merchplan/approvals/pkg/directory"
	"github.com/merchplan/approvals/pkg/lease"
	"github.com/merchplan/approvals/pkg/registry"
)

const slaLeaseKey = "approvals:sla-monitor:lease"

// NewRegistry returns the embedded catalog, or the one at path when set.
func NewRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workflow definitions: %w", err)
	}
	defer f.Close()

	return registry.Load(f)
}

// NewDirectory loads the role directory at path. A positive ttl caches lookups.
func NewDirectory(path string, ttl time.Duration) (directory.Resolver, error) {
	var resolver directory.Resolver = directory.NewStatic(nil)

	if path != "" {
		static, err := directory.LoadStaticFile(path)
		if err != nil {
			return nil, err
		}

		resolver = static
	}

	if ttl > 0 {
		resolver = directory.NewCached(resolver, ttl)
	}

	return resolver, nil
}

// NewLease returns a Redis lease when redisURL is set and a local one otherwise.
// The lease outlives a scan that takes up to ttl.
func NewLease(redisURL string, ttl time.Duration) (lease.Lease, error) {
	if redisURL == "" {
		return lease.Local{}, nil
	}

	return lease.NewRedisFromURL(redisURL, slaLeaseKey, ttl)
}
