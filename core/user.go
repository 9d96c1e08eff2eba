package core

import (
	"context"
	"errors"
)

// UnknownDisplayName is used when a uid cannot be resolved to a user.
const UnknownDisplayName = "Unknown"

var (
	// ErrConflictedUser is returned when a user with the same uid already exists.
	ErrConflictedUser = errors.New("user already exists")
)

// User is an entry in the identity directory. UID is the global identifier
// users are addressed by; room ids are derived from pairs of uids.
type User struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name"`
}

// UserStore is the identity directory backing the chat service.
type UserStore interface {
	// CreateUser stores a new user. A blank UID is assigned a fresh uuid.
	CreateUser(ctx context.Context, user User) (*User, error)

	// GetUserByUID returns the user with the given uid, or nil if absent.
	GetUserByUID(ctx context.Context, uid string) (*User, error)

	// GetUsers returns all users ordered by display name.
	GetUsers(ctx context.Context) ([]User, error)
}

// DisplayNameOf resolves a uid to a display name, defaulting to
// UnknownDisplayName when the uid is absent or the lookup fails.
func DisplayNameOf(ctx context.Context, store UserStore, uid string) string {
	user, err := store.GetUserByUID(ctx, uid)
	if err != nil || user == nil {
		return UnknownDisplayName
	}
	return user.DisplayName
}
