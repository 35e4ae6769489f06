package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinyland-inc/picorelay/pkg/store"
)

type staticActors store.Actors

func (s staticActors) Actors() store.Actors { return store.Actors(s) }

func TestRoles(t *testing.T) {
	c := NewChecker(staticActors{Owner: 1, Admins: []int64{2, 3}})

	tests := []struct {
		id        int64
		role      Role
		canMutate bool
		isOwner   bool
	}{
		{1, RoleOwner, true, true},
		{2, RoleAdmin, true, false},
		{3, RoleAdmin, true, false},
		{4, RoleNone, false, false},
		{0, RoleNone, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.role, c.Role(tt.id), "role of %d", tt.id)
		assert.Equal(t, tt.canMutate, c.CanMutateRules(tt.id), "mutate %d", tt.id)
		assert.Equal(t, tt.isOwner, c.IsOwner(tt.id), "owner %d", tt.id)
	}
}

func TestRequire(t *testing.T) {
	c := NewChecker(staticActors{Owner: 1, Admins: []int64{2}})

	assert.NoError(t, c.Require(1))
	assert.NoError(t, c.Require(2))
	assert.ErrorIs(t, c.Require(9), ErrUnauthorized)

	assert.NoError(t, c.RequireOwner(1))
	assert.ErrorIs(t, c.RequireOwner(2), ErrUnauthorized)
}

func TestNoOwnerConfigured(t *testing.T) {
	c := NewChecker(staticActors{})
	assert.False(t, c.IsOwner(0))
	assert.Equal(t, RoleNone, c.Role(0))
	assert.ErrorIs(t, c.Require(0), ErrUnauthorized)
}

func TestSeesStoreChanges(t *testing.T) {
	s := store.New(store.NewMemoryBackend(), store.WithBootstrap(1, nil))
	c := NewChecker(s)
	assert.False(t, c.IsAdmin(5))

	assert.NoError(t, s.AddAdmin(t.Context(), 5))
	assert.True(t, c.IsAdmin(5))
}
