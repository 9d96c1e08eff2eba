package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type SQLiteUserStore struct {
	db *sql.DB
}

func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db}
}

func (s *SQLiteUserStore) CreateUser(ctx context.Context, user User) (*User, error) {
	if user.UID == "" {
		user.UID = uuid.New().String()
	} else {
		existing, err := s.GetUserByUID(ctx, user.UID)
		if err != nil {
			return nil, fmt.Errorf("GetUserByUID: %w", err)
		}
		if existing != nil {
			return nil, ErrConflictedUser
		}
	}

	query := `INSERT INTO users (uid, display_name) VALUES (@uid, @display_name)`
	_, err := s.db.ExecContext(ctx, query,
		sql.Named("uid", user.UID), sql.Named("display_name", user.DisplayName))
	if err != nil {
		return nil, fmt.Errorf("ExecContext: %w", err)
	}
	return &user, nil
}

func (s *SQLiteUserStore) GetUserByUID(ctx context.Context, uid string) (*User, error) {
	query := `SELECT uid, display_name FROM users WHERE uid = @uid`
	row := s.db.QueryRowContext(ctx, query, sql.Named("uid", uid))

	var user User
	if err := row.Scan(&user.UID, &user.DisplayName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Scan: %w", err)
	}
	return &user, nil
}

func (s *SQLiteUserStore) GetUsers(ctx context.Context) ([]User, error) {
	query := `SELECT uid, display_name FROM users ORDER BY display_name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.UID, &user.DisplayName); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return users, nil
}
