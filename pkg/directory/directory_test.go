package directory

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/merchplan/approvals/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	calls atomic.Int32
	users []string
	err   error
}

func (c *countingResolver) ResolveUsersByRole(_ context.Context, _ string) ([]string, error) {
	c.calls.Add(1)

	return c.users, c.err
}

func TestLoadStatic(t *testing.T) {
	static, err := LoadStatic(strings.NewReader(`
roles:
  FINANCE: [fin-1, fin-2]
  DIRECTOR: [dir-1]
`))
	require.NoError(t, err)

	users, err := static.ResolveUsersByRole(t.Context(), "FINANCE")
	require.NoError(t, err)
	assert.Equal(t, []string{"fin-1", "fin-2"}, users)

	users, err = static.ResolveUsersByRole(t.Context(), "UNKNOWN")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestLoadStatic_Empty(t *testing.T) {
	static, err := LoadStatic(strings.NewReader(""))
	require.NoError(t, err)

	users, err := static.ResolveUsersByRole(t.Context(), "FINANCE")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestLoadStatic_Invalid(t *testing.T) {
	for _, doc := range []string{"roles: [", "roles:\n  FINANCE: ['']\n", "roles: 3\n"} {
		_, err := LoadStatic(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrInvalidDirectory, doc)
	}
}

func TestStatic_ReturnsCopies(t *testing.T) {
	roles := map[string][]string{"BUYER": {"buyer-1"}}
	static := NewStatic(roles)
	roles["BUYER"][0] = "changed"

	users, err := static.ResolveUsersByRole(t.Context(), "BUYER")
	require.NoError(t, err)
	users[0] = "mutated"

	again, err := static.ResolveUsersByRole(t.Context(), "BUYER")
	require.NoError(t, err)
	assert.Equal(t, []string{"buyer-1"}, again)
}

func TestCached_HitsWithinTTL(t *testing.T) {
	next := &countingResolver{users: []string{"fin-1"}}
	cached := NewCached(next, time.Minute)

	for range 3 {
		users, err := cached.ResolveUsersByRole(t.Context(), "FINANCE")
		require.NoError(t, err)
		assert.Equal(t, []string{"fin-1"}, users)
	}

	assert.Equal(t, int32(1), next.calls.Load())

	cached.Invalidate("FINANCE")

	_, err := cached.ResolveUsersByRole(t.Context(), "FINANCE")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCached_Expires(t *testing.T) {
	next := &countingResolver{users: []string{"fin-1"}}
	cached := NewCached(next, 20*time.Millisecond)

	_, err := cached.ResolveUsersByRole(t.Context(), "FINANCE")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := cached.ResolveUsersByRole(t.Context(), "FINANCE")

		return err == nil && next.calls.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestCached_SweepsExpiredRoles(t *testing.T) {
	next := &countingResolver{users: []string{"u-1"}}
	cached := NewCached(next, 10*time.Millisecond)

	for _, role := range []string{"BUYER", "FINANCE", "DIRECTOR"} {
		_, err := cached.ResolveUsersByRole(t.Context(), role)
		require.NoError(t, err)
	}

	require.Equal(t, 3, cached.cache.Len())

	time.Sleep(50 * time.Millisecond)

	_, err := cached.ResolveUsersByRole(t.Context(), "MERCH_MANAGER")
	require.NoError(t, err)

	assert.Equal(t, []string{"MERCH_MANAGER"}, cached.cache.Keys())
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	next := &countingResolver{err: errors.New("directory down")}
	cached := NewCached(next, time.Minute)

	_, err := cached.ResolveUsersByRole(t.Context(), "FINANCE")
	require.Error(t, err)

	_, err = cached.ResolveUsersByRole(t.Context(), "FINANCE")
	require.Error(t, err)

	assert.Equal(t, int32(2), next.calls.Load())
}

func TestStepRecipients(t *testing.T) {
	resolver := NewStatic(map[string][]string{"FINANCE": {"fin-2", "fin-1", "fin-2"}})
	role := "FINANCE"
	assignee := "user-9"

	users, err := StepRecipients(t.Context(), resolver, &models.WorkflowStep{RequiredRole: &role})
	require.NoError(t, err)
	assert.Equal(t, []string{"fin-1", "fin-2"}, users)

	users, err = StepRecipients(t.Context(), resolver, &models.WorkflowStep{RequiredRole: &role, AssignedUserID: &assignee})
	require.NoError(t, err)
	assert.Equal(t, []string{"user-9"}, users)

	users, err = StepRecipients(t.Context(), resolver, &models.WorkflowStep{})
	require.NoError(t, err)
	assert.Empty(t, users)

	_, err = StepRecipients(t.Context(), &countingResolver{err: errors.New("down")}, &models.WorkflowStep{RequiredRole: &role})
	assert.Error(t, err)
}
