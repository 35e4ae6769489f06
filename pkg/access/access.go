// Package access decides which actors may change relay configuration.
package access

import (
	"errors"
	"slices"

	"github.com/tinyland-inc/picorelay/pkg/store"
)

var (
	// ErrUnauthorized is returned when an actor lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")
)

type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
	RoleNone  Role = "none"
)

// ActorSource provides the current owner and admin sets.
type ActorSource interface {
	Actors() store.Actors
}

type Checker struct {
	src ActorSource
}

func NewChecker(src ActorSource) *Checker {
	return &Checker{src: src}
}

func (c *Checker) IsOwner(id int64) bool {
	owner := c.src.Actors().Owner
	return owner != 0 && id == owner
}

func (c *Checker) IsAdmin(id int64) bool {
	if id == 0 {
		return false
	}
	return slices.Contains(c.src.Actors().Admins, id)
}

func (c *Checker) Role(id int64) Role {
	actors := c.src.Actors()
	switch {
	case id != 0 && id == actors.Owner:
		return RoleOwner
	case id != 0 && slices.Contains(actors.Admins, id):
		return RoleAdmin
	default:
		return RoleNone
	}
}

// CanMutateRules reports whether id may change rules or the relay switch.
func (c *Checker) CanMutateRules(id int64) bool {
	return c.Role(id) != RoleNone
}

func (c *Checker) Require(id int64) error {
	if !c.CanMutateRules(id) {
		return ErrUnauthorized
	}
	return nil
}

// RequireOwner guards changes to the admin set.
func (c *Checker) RequireOwner(id int64) error {
	if !c.IsOwner(id) {
		return ErrUnauthorized
	}
	return nil
}
