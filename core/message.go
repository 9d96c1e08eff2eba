package core

import (
	"context"
	"errors"
	"time"
)

// MessageStatus represents the lifecycle state of a message.
type MessageStatus string

const (
	// StatusSent indicates the message has been stored but the peer has not read it.
	StatusSent MessageStatus = "SENT"
	// StatusDelivered is an intermediate state reserved for finer-grained
	// delivery tracking. Nothing produces it yet, but the read transition
	// must accept it alongside StatusSent.
	StatusDelivered MessageStatus = "DELIVERED"
	// StatusRead is terminal. A read message can no longer be edited or deleted.
	StatusRead MessageStatus = "READ"
)

// MaxContentLength bounds the content of a single message.
const MaxContentLength = 4096

var (
	// ErrMessageNotFound is returned when the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotSender is returned when the acting user is not the message's sender.
	ErrNotSender = errors.New("not the message sender")
	// ErrMessageRead is returned when an operation is not legal on a READ message.
	ErrMessageRead = errors.New("message already read")
	// ErrStaleMessage is returned when a save is based on a stale read of the
	// message. The caller should re-read and retry.
	ErrStaleMessage = errors.New("stale message version")
)

// Message is a chat message in a two-party room. ID is assigned by the
// store on append and is the sole ordering key. Version is bumped on every
// mutation and checked on save to detect concurrent writes.
type Message struct {
	ID        int64         `json:"id"`
	RoomID    string        `json:"room_id"`
	SenderID  string        `json:"sender_id"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Version   int64         `json:"-"`
}

// MessageSnapshot is the outbound representation of one message, as
// broadcast to the room topic and returned from queries.
type MessageSnapshot struct {
	ID         int64         `json:"id"`
	RoomID     string        `json:"room_id"`
	SenderID   string        `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Content    string        `json:"content"`
	Status     MessageStatus `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// DeletedMessage is the outbound marker for a removed message.
type DeletedMessage struct {
	MessageID int64  `json:"message_id"`
	RoomID    string `json:"room_id"`
}

// SendCommand creates a new message in a room.
type SendCommand struct {
	RoomID   string `json:"room_id" validate:"required"`
	SenderID string `json:"sender_id" validate:"required"`
	Content  string `json:"content" validate:"required,max=4096"`
}

func (c *SendCommand) Validate() error {
	return validate.Struct(c)
}

// EditCommand replaces the content of an unread message.
type EditCommand struct {
	MessageID  int64  `json:"message_id" validate:"required,gt=0"`
	EditorID   string `json:"editor_id" validate:"required"`
	NewContent string `json:"new_content" validate:"required,max=4096"`
}

func (c *EditCommand) Validate() error {
	return validate.Struct(c)
}

// DeleteCommand removes an unread message.
type DeleteCommand struct {
	MessageID   int64  `json:"message_id" validate:"required,gt=0"`
	RequesterID string `json:"requester_id" validate:"required"`
}

func (c *DeleteCommand) Validate() error {
	return validate.Struct(c)
}

// EnterCommand marks a user present in a room and reads the peer's
// pending messages.
type EnterCommand struct {
	RoomID string `json:"room_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

func (c *EnterCommand) Validate() error {
	return validate.Struct(c)
}

// MessageStore is the ordered per-room append log of messages.
type MessageStore interface {
	// Append stores a new message, assigning its id, timestamps and
	// initial version.
	Append(ctx context.Context, msg Message) (*Message, error)

	// Get returns the message with the given id, or ErrMessageNotFound.
	Get(ctx context.Context, id int64) (*Message, error)

	// ListByRoom returns all messages of the room in ascending id order.
	ListByRoom(ctx context.Context, roomID string) ([]Message, error)

	// Save persists a mutated message. The message's Version must match
	// the stored row; on mismatch it returns ErrStaleMessage. On success
	// the returned message carries the bumped version and updated_at.
	Save(ctx context.Context, msg Message) (*Message, error)

	// Delete removes the message with the given id.
	// It returns ErrMessageNotFound if no such message exists.
	Delete(ctx context.Context, id int64) error

	// RecentByRoom returns up to limit most recent messages of the room
	// in ascending id order. A limit of zero yields an empty slice.
	RecentByRoom(ctx context.Context, roomID string, limit int) ([]Message, error)
}
