package models

import "time"

// DefaultRole is granted to every newly registered user.
const DefaultRole = "user"

// User is the stored user record. PassHash never leaves the auth service;
// use View for anything returned to callers.
type User struct {
	ID        string
	Email     string
	PassHash  []byte
	FirstName string
	LastName  string
	IsActive  bool
	Roles     []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserView is the outward representation of a user.
type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	IsActive  bool      `json:"is_active"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// View returns u without its password hash.
func (u *User) View() UserView {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)

	return UserView{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsActive:  u.IsActive,
		Roles:     roles,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
