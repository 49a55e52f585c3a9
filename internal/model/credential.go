package model

import "time"

// Credential roles.
const (
	RoleAny       = "any"
	RoleReadOnly  = "read-only"
	RoleReadWrite = "read-write"
)

// Credential is a priority-ordered, role-typed secret scoped to a
// (user-pool x device-pool) pairing. Resolution picks the
// highest-priority credential whose user pools contain the requesting
// user and whose device pools contain the target device.
type Credential struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"` // unique
	Description    string    `json:"description"`
	Role           string    `json:"role"`    // read-only or read-write
	Subtype        string    `json:"subtype"` // password or key
	Username       string    `json:"username"`
	Password       string    `json:"password,omitempty"`
	PrivateKey     string    `json:"private_key,omitempty"`
	EnablePassword string    `json:"enable_password,omitempty"`
	Priority       int       `json:"priority"` // higher wins
	DevicePoolIDs  []string  `json:"device_pool_ids"`
	UserPoolIDs    []string  `json:"user_pool_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewCredential returns a credential with defaults applied.
func NewCredential(name string) *Credential {
	return &Credential{
		Name:     name,
		Role:     RoleReadWrite,
		Subtype:  "password",
		Priority: 1,
	}
}

// User is an operator account. Pool membership of users drives
// credential scoping and the access-recompute signal.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"` // unique
	Description string `json:"description"`
	Email       string `json:"email"`
	// Password holds the argon2id hash of the account password.
	Password  string    `json:"password,omitempty"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) GetID() string   { return u.ID }
func (u *User) GetName() string { return u.Name }
func (u *User) PoolKind() Kind  { return KindUser }

// Property returns the stringified value of a user property.
func (u *User) Property(name string) (string, bool) {
	switch name {
	case "name":
		return u.Name, true
	case "description":
		return u.Description, true
	}
	return "", false
}
