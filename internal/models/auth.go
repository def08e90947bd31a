package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const RoleAdmin = "admin"

// AdminUser can read the registry's admin views. Local accounts carry a bcrypt hash;
// directory accounts are provisioned on first LDAP login without one.
type AdminUser struct {
	bun.BaseModel `bun:"table:admin_users,alias:au"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email        string     `bun:"email,notnull,unique" json:"email"`
	PasswordHash string     `bun:"password_hash" json:"-"`
	TokenVersion int        `bun:"token_version,notnull" json:"-"`
	Roles        []string   `bun:"roles,array" json:"roles"`
	Provider     string     `bun:"provider,notnull" json:"provider"`
	Name         string     `bun:"name" json:"name"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	LastLoginAt  *time.Time `bun:"last_login_at" json:"lastLoginAt,omitempty"`
}

// HasRole reports whether the user holds role.
func (u AdminUser) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
