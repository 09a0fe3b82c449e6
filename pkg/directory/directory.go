// Package directory resolves which users currently hold a role.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/merchplan/approvals/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDirectory = errors.New("invalid role directory")

// Resolver returns the active users holding role. An unknown role resolves to no users.
type Resolver interface {
	ResolveUsersByRole(ctx context.Context, role string) ([]string, error)
}

// StepRecipients returns who must act on step: its assignee when set, otherwise
// every user holding its required role.
func StepRecipients(ctx context.Context, resolver Resolver, step *models.WorkflowStep) ([]string, error) {
	if step.AssignedUserID != nil && *step.AssignedUserID != "" {
		return []string{*step.AssignedUserID}, nil
	}

	if step.RequiredRole == nil || *step.RequiredRole == "" {
		return nil, nil
	}

	users, err := resolver.ResolveUsersByRole(ctx, *step.RequiredRole)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve users for role %s: %w", *step.RequiredRole, err)
	}

	users = slices.Clone(users)
	slices.Sort(users)

	return slices.Compact(users), nil
}

// Static is a fixed role to users table.
type Static struct {
	roles map[string][]string
}

type document struct {
	Roles map[string][]string `yaml:"roles"`
}

// NewStatic copies roles into a new table.
func NewStatic(roles map[string][]string) *Static {
	copied := make(map[string][]string, len(roles))
	for role, users := range roles {
		copied[role] = slices.Clone(users)
	}

	return &Static{roles: copied}
}

// LoadStatic reads a YAML document of the form
//
//	roles:
//	  FINANCE: [alice, bob]
func LoadStatic(r io.Reader) (*Static, error) {
	var doc document

	err := yaml.NewDecoder(r).Decode(&doc)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}

	for role, users := range doc.Roles {
		if role == "" {
			return nil, fmt.Errorf("%w: empty role name", ErrInvalidDirectory)
		}

		if slices.Contains(users, "") {
			return nil, fmt.Errorf("%w: empty user id in role %s", ErrInvalidDirectory, role)
		}
	}

	return NewStatic(doc.Roles), nil
}

// LoadStaticFile opens path and reads it with LoadStatic.
func LoadStaticFile(path string) (*Static, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open role directory: %w", err)
	}
	defer f.Close()

	return LoadStatic(f)
}

func (s *Static) ResolveUsersByRole(_ context.Context, role string) ([]string, error) {
	return slices.Clone(s.roles[role]), nil
}

// Cached remembers each role's users for a fixed TTL. Failed lookups are not cached.
type Cached struct {
	next  Resolver
	cache *ttlcache.Cache[string, []string]
}

func NewCached(next Resolver, ttl time.Duration) *Cached {
	return &Cached{
		next: next,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []string](ttl),
			ttlcache.WithDisableTouchOnHit[string, []string](),
		),
	}
}

func (c *Cached) ResolveUsersByRole(ctx context.Context, role string) ([]string, error) {
	if item := c.cache.Get(role); item != nil {
		return slices.Clone(item.Value()), nil
	}

	users, err := c.next.ResolveUsersByRole(ctx, role)
	if err != nil {
		return nil, err
	}

	// No janitor goroutine runs, so misses sweep the expired roles.
	c.cache.DeleteExpired()
	c.cache.Set(role, slices.Clone(users), ttlcache.DefaultTTL)

	return users, nil
}

// Invalidate drops the cached entry for role.
func (c *Cached) Invalidate(role string) {
	c.cache.Delete(role)
}
