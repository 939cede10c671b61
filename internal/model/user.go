package model

import "time"

// Role names stored in user_roles.role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account as stored in the `users` table joined with
// its single `user_roles` row.  The password hash never leaves the
// server: it has no JSON tag and is dropped by the json encoder.
//
// Fields:
//  ID           – UUID primary key (CHAR(36)).
//  Email        – unique, normalised to lower case.
//  PasswordHash – bcrypt hash.
//  FullName     – optional display name (profiles.full_name).
//  Role         – user_roles.role ("user" or "admin").
//  IsActive     – soft-disable flag; inactive accounts cannot authenticate.
//  LastLogin    – time of the last successful login (nullable).
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     *string    `json:"full_name"`
	Role         string     `json:"role"`
	IsActive     bool       `json:"is_active"`
	LastLogin    *time.Time `json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// RefreshToken models an entry in the `refresh_tokens` table.  The plain
// token is never stored; only its SHA‑256 hex digest.
//
// Fields:
//  ID        – auto-increment primary key.
//  UserID    – owner of the token.
//  TokenHash – SHA‑256 hex digest of the token value.
//  ExpiresAt – expiration timestamp of the token.
//  Revoked   – set on rotation and on logout.
//  RevokedAt – when Revoked was set; the sweep keeps revoked rows for a
//              while after this so replays are still recognised.
//  CreatedAt – timestamp of creation.
type RefreshToken struct {
	ID        uint64
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Live reports whether the record can still be exchanged at now.
func (t RefreshToken) Live(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
