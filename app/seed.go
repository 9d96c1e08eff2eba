package app

import (
	"context"
	"fmt"
	"log/slog"

	"duochat/core"
)

var seedUsers = []core.User{
	{DisplayName: "Alice"},
	{DisplayName: "Bob"},
	{DisplayName: "Carol"},
	{DisplayName: "Dave"},
}

// EnsureSeedUsers populates the user directory with example users when it
// is empty, so a fresh install has identities to chat between.
func EnsureSeedUsers(ctx context.Context, store core.UserStore, logger *slog.Logger) error {
	users, err := store.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("GetUsers: %w", err)
	}
	if len(users) > 0 {
		return nil
	}

	for _, user := range seedUsers {
		created, err := store.CreateUser(ctx, user)
		if err != nil {
			return fmt.Errorf("CreateUser: %w", err)
		}
		logger.Info("seeded user",
			slog.String("uid", created.UID), slog.String("display_name", created.DisplayName))
	}
	return nil
}
