package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the marketplace an account is on.
type Role string

const (
	RoleContractor    Role = "contractor"
	RoleSubcontractor Role = "subcontractor"
)

// ParseRole converts a raw string to a Role, returning an error for unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	switch r {
	case RoleContractor, RoleSubcontractor:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Account represents an authenticated marketplace participant.
// Raw API keys are shown once at creation; only the bcrypt hash is stored.
type Account struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Role      Role      `db:"role"       json:"role"`
	KeyHash   string    `db:"key_hash"   json:"-"`
	KeyPrefix string    `db:"key_prefix" json:"key_prefix"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Actor is the resolved acting identity attached to every lifecycle call.
// The auth middleware builds it; the engine trusts it.
type Actor struct {
	ID   uuid.UUID
	Role Role
}
