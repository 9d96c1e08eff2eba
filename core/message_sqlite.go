package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteMessageStore persists messages as an ordered per-room log.
// Message ids come from the sqlite AUTOINCREMENT sequence, which makes
// them unique and monotonically increasing across the whole log.
type SQLiteMessageStore struct {
	db *sql.DB
}

func NewSQLiteMessageStore(db *sql.DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{db: db}
}

func (s *SQLiteMessageStore) Append(ctx context.Context, msg Message) (*Message, error) {
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	msg.Version = 1

	query := `
		INSERT INTO messages (room_id, sender_id, content, status, created_at, updated_at, version)
		VALUES (@room_id, @sender_id, @content, @status, @created_at, @updated_at, @version)`
	res, err := s.db.ExecContext(ctx, query,
		sql.Named("room_id", msg.RoomID), sql.Named("sender_id", msg.SenderID),
		sql.Named("content", msg.Content), sql.Named("status", string(msg.Status)),
		sql.Named("created_at", msg.CreatedAt), sql.Named("updated_at", msg.UpdatedAt),
		sql.Named("version", msg.Version))
	if err != nil {
		return nil, fmt.Errorf("ExecContext: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LastInsertId: %w", err)
	}
	msg.ID = id
	return &msg, nil
}

func (s *SQLiteMessageStore) Get(ctx context.Context, id int64) (*Message, error) {
	query := `
		SELECT id, room_id, sender_id, content, status, created_at, updated_at, version
		FROM messages WHERE id = @id`
	row := s.db.QueryRowContext(ctx, query, sql.Named("id", id))

	msg, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("Scan: %w", err)
	}
	return msg, nil
}

func (s *SQLiteMessageStore) ListByRoom(ctx context.Context, roomID string) ([]Message, error) {
	query := `
		SELECT id, room_id, sender_id, content, status, created_at, updated_at, version
		FROM messages WHERE room_id = @room_id ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Save writes a mutated message back, guarded by its version. The update
// only matches the row if the stored version equals the version the caller
// read, so a concurrent mutation makes this save fail with ErrStaleMessage.
func (s *SQLiteMessageStore) Save(ctx context.Context, msg Message) (*Message, error) {
	readVersion := msg.Version
	msg.Version = readVersion + 1
	msg.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE messages
		SET content = @content, status = @status, updated_at = @updated_at, version = @version
		WHERE id = @id AND version = @read_version`
	res, err := s.db.ExecContext(ctx, query,
		sql.Named("content", msg.Content), sql.Named("status", string(msg.Status)),
		sql.Named("updated_at", msg.UpdatedAt), sql.Named("version", msg.Version),
		sql.Named("id", msg.ID), sql.Named("read_version", readVersion))
	if err != nil {
		return nil, fmt.Errorf("ExecContext: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("RowsAffected: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, msg.ID); err != nil {
			return nil, err
		}
		return nil, ErrStaleMessage
	}
	return &msg, nil
}

func (s *SQLiteMessageStore) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM messages WHERE id = @id`
	res, err := s.db.ExecContext(ctx, query, sql.Named("id", id))
	if err != nil {
		return fmt.Errorf("ExecContext: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RowsAffected: %w", err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (s *SQLiteMessageStore) RecentByRoom(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}

	query := `
		SELECT id, room_id, sender_id, content, status, created_at, updated_at, version
		FROM messages WHERE room_id = @room_id ORDER BY id DESC LIMIT @limit`
	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("room_id", roomID), sql.Named("limit", limit))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// The query selects the newest window; present it oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scanMessage(scan func(dest ...any) error) (*Message, error) {
	var msg Message
	var status string
	if err := scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content,
		&status, &msg.CreatedAt, &msg.UpdatedAt, &msg.Version); err != nil {
		return nil, err
	}
	msg.Status = MessageStatus(status)
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return messages, nil
}
