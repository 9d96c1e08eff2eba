package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ChatService decides, for every message mutation, what state the message
// enters, whether the mutation is permitted, and what outbound events the
// caller must broadcast. It owns no message state itself; messages live in
// the MessageStore and presence in the Presence registry.
type ChatService struct {
	messages MessageStore
	users    UserStore
	presence *Presence
	logger   *slog.Logger
}

func NewChatService(messages MessageStore, users UserStore, presence *Presence, logger *slog.Logger) *ChatService {
	return &ChatService{
		messages: messages,
		users:    users,
		presence: presence,
		logger:   logger,
	}
}

// Send creates a new message in the room. The message's status is decided
// once, at creation time: READ if the peer is present in the room at this
// instant, SENT otherwise. Presence changes that race the send never revisit
// the decision; the peer's next Enter is the only later read transition.
func (s *ChatService) Send(ctx context.Context, cmd SendCommand) (*MessageSnapshot, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	peer, err := OtherMember(cmd.RoomID, cmd.SenderID)
	if err != nil {
		return nil, err
	}

	status := StatusSent
	if s.presence.Contains(cmd.RoomID, peer) {
		status = StatusRead
	}

	saved, err := s.messages.Append(ctx, Message{
		RoomID:   cmd.RoomID,
		SenderID: cmd.SenderID,
		Content:  cmd.Content,
		Status:   status,
	})
	if err != nil {
		return nil, fmt.Errorf("Append: %w", err)
	}

	return s.snapshot(ctx, saved), nil
}

// Edit replaces the content of an unread message and resets its status to
// SENT, discarding any prior read promotion. Editing a message the peer has
// already read is rejected.
func (s *ChatService) Edit(ctx context.Context, cmd EditCommand) (*MessageSnapshot, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	msg, err := s.messages.Get(ctx, cmd.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != cmd.EditorID {
		return nil, ErrNotSender
	}
	if msg.Status == StatusRead {
		return nil, ErrMessageRead
	}

	msg.Content = cmd.NewContent
	msg.Status = StatusSent

	saved, err := s.messages.Save(ctx, *msg)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, saved), nil
}

// Delete removes an unread message from the log. The same "not after READ"
// rule as Edit applies.
func (s *ChatService) Delete(ctx context.Context, cmd DeleteCommand) (*DeletedMessage, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	msg, err := s.messages.Get(ctx, cmd.MessageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != cmd.RequesterID {
		return nil, ErrNotSender
	}
	if msg.Status == StatusRead {
		return nil, ErrMessageRead
	}

	if err := s.messages.Delete(ctx, msg.ID); err != nil {
		return nil, err
	}
	return &DeletedMessage{MessageID: msg.ID, RoomID: msg.RoomID}, nil
}

// Enter marks the user present in the room and transitions every message
// the peer sent that is still SENT or DELIVERED to READ. It returns one
// snapshot per changed message; an empty slice when nothing qualified.
func (s *ChatService) Enter(ctx context.Context, cmd EnterCommand) ([]MessageSnapshot, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if _, err := OtherMember(cmd.RoomID, cmd.UserID); err != nil {
		return nil, err
	}

	s.presence.Join(cmd.RoomID, cmd.UserID)

	messages, err := s.messages.ListByRoom(ctx, cmd.RoomID)
	if err != nil {
		return nil, fmt.Errorf("ListByRoom: %w", err)
	}

	changed := make([]MessageSnapshot, 0)
	for _, msg := range messages {
		if msg.SenderID == cmd.UserID {
			continue
		}
		if msg.Status != StatusSent && msg.Status != StatusDelivered {
			continue
		}

		msg.Status = StatusRead
		saved, err := s.messages.Save(ctx, msg)
		if err != nil {
			// A concurrent mutation (another enter, an edit, a delete)
			// already decided this message's fate; skip it.
			if errors.Is(err, ErrStaleMessage) || errors.Is(err, ErrMessageNotFound) {
				s.logger.Debug("skipping read transition",
					slog.Int64("message.id", msg.ID), slog.String("reason", err.Error()))
				continue
			}
			return nil, err
		}
		changed = append(changed, *s.snapshot(ctx, saved))
	}
	return changed, nil
}

// Leave removes the user from the room's presence set. Triggered by the
// transport on disconnect, not by a chat command; produces no event.
func (s *ChatService) Leave(roomID, user string) {
	s.presence.Leave(roomID, user)
}

// FetchRecent returns up to limit most recent messages of the room, oldest
// of the selected window first. Read-only; used for initial room load and
// client reconciliation after a reconnect.
func (s *ChatService) FetchRecent(ctx context.Context, roomID string, limit int) ([]MessageSnapshot, error) {
	if _, _, err := SplitRoomID(roomID); err != nil {
		return nil, err
	}

	messages, err := s.messages.RecentByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentByRoom: %w", err)
	}

	snapshots := make([]MessageSnapshot, 0, len(messages))
	for _, msg := range messages {
		snapshots = append(snapshots, *s.snapshot(ctx, &msg))
	}
	return snapshots, nil
}

func (s *ChatService) snapshot(ctx context.Context, msg *Message) *MessageSnapshot {
	return &MessageSnapshot{
		ID:         msg.ID,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: DisplayNameOf(ctx, s.users, msg.SenderID),
		Content:    msg.Content,
		Status:     msg.Status,
		CreatedAt:  msg.CreatedAt,
		UpdatedAt:  msg.UpdatedAt,
	}
}
