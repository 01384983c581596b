// Package models contains pure domain models for user profiles: entities
// that should not depend on transport or storage-specific concerns.
package models

import (
	"time"

	"crew/pkg/domain"
)

// Role is the application-level role recorded on a profile.
type Role string

const (
	RoleSystemAdmin Role = "system_admin"
	RoleTenantAdmin Role = "tenant_admin"
	RoleEmployee    Role = "employee"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleSystemAdmin, RoleTenantAdmin, RoleEmployee:
		return true
	}
	return false
}

// Profile is the application-level user record keyed by the identity
// provider's user id. Exactly one profile exists per identity; the id is
// primary key and foreign key simultaneously.
type Profile struct {
	ID        domain.UserID
	Email     string
	FirstName string
	LastName  string
	Role      Role
	TenantID  *domain.TenantID
	AvatarURL string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy so shared resolver results cannot be mutated by callers.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.TenantID != nil {
		t := *p.TenantID
		c.TenantID = &t
	}
	return &c
}

// Seed carries explicit, typed profile attributes gathered at the signup
// boundary. It replaces free-form metadata bags: every field has a named
// default applied by Normalize.
type Seed struct {
	FirstName string
	LastName  string
	Role      Role
	TenantID  *domain.TenantID
}

// Normalize applies the documented defaults: role falls back to employee,
// tenant stays empty.
func (s Seed) Normalize() Seed {
	if !s.Role.Valid() {
		s.Role = RoleEmployee
	}
	return s
}
