package entitlement

import "strings"

// User identifies whose entitlement is being looked up. Guests have no
// backend identity.
type User struct {
	ID    string
	Guest bool
}

// GuestUser returns the anonymous session user.
func GuestUser() User {
	return User{Guest: true}
}

// AuthenticatedUser returns a user with a backend identity.
func AuthenticatedUser(id string) User {
	return User{ID: strings.TrimSpace(id)}
}

// IsGuest reports whether the user lacks a backend identity. A blank id is
// treated as a guest.
func (u User) IsGuest() bool {
	return u.Guest || strings.TrimSpace(u.ID) == ""
}
