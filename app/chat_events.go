package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"duochat/core"
	"duochat/pubsub"
)

// Inbound command event types.
const (
	SendEvent   = "send"
	EditEvent   = "edit"
	DeleteEvent = "delete"
	EnterEvent  = "enter"
)

// Outbound event types broadcast to room topics.
const (
	MessageEvent = "message"
	DeletedEvent = "deleted"
)

func (app *App) SendEventHandler(ctx context.Context, e *core.Event) error {
	var cmd core.SendCommand
	if err := json.Unmarshal(e.Payload, &cmd); err != nil {
		return fmt.Errorf("%w: %s", core.ErrMalformedCommand, err)
	}
	cmd.SenderID = e.Dispatcher

	snapshot, err := app.chat.Send(ctx, cmd)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}

	return app.publishToRoom(ctx, snapshot.RoomID, MessageEvent, snapshot)
}

func (app *App) EditEventHandler(ctx context.Context, e *core.Event) error {
	var cmd core.EditCommand
	if err := json.Unmarshal(e.Payload, &cmd); err != nil {
		return fmt.Errorf("%w: %s", core.ErrMalformedCommand, err)
	}
	cmd.EditorID = e.Dispatcher

	snapshot, err := app.chat.Edit(ctx, cmd)
	if err != nil {
		return fmt.Errorf("Edit: %w", err)
	}

	return app.publishToRoom(ctx, snapshot.RoomID, MessageEvent, snapshot)
}

func (app *App) DeleteEventHandler(ctx context.Context, e *core.Event) error {
	var cmd core.DeleteCommand
	if err := json.Unmarshal(e.Payload, &cmd); err != nil {
		return fmt.Errorf("%w: %s", core.ErrMalformedCommand, err)
	}
	cmd.RequesterID = e.Dispatcher

	deleted, err := app.chat.Delete(ctx, cmd)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	return app.publishToRoom(ctx, deleted.RoomID, DeletedEvent, deleted)
}

// EnterEventHandler joins the dispatcher to the room: presence, the bulk
// read transition, and the connection's topic subscription. The
// subscription is attached before the read-transition events are
// published so the entering client sees them too.
func (app *App) EnterEventHandler(ctx context.Context, e *core.Event) error {
	var cmd core.EnterCommand
	if err := json.Unmarshal(e.Payload, &cmd); err != nil {
		return fmt.Errorf("%w: %s", core.ErrMalformedCommand, err)
	}
	cmd.UserID = e.Dispatcher

	changed, err := app.chat.Enter(ctx, cmd)
	if err != nil {
		return fmt.Errorf("Enter: %w", err)
	}

	if err := app.hub.JoinRoom(cmd.UserID, cmd.RoomID); err != nil {
		return fmt.Errorf("JoinRoom: %w", err)
	}

	for _, snapshot := range changed {
		if err := app.publishToRoom(ctx, snapshot.RoomID, MessageEvent, snapshot); err != nil {
			return err
		}
	}
	return nil
}

func (app *App) publishToRoom(ctx context.Context, roomID, eventType string, payload any) error {
	e, err := core.NewEvent(eventType, payload)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := core.EncodeEvent(&buf, e); err != nil {
		return err
	}

	if err := app.publisher.Publish(ctx, pubsub.Message{
		Topic:   pubsub.RoomTopic(roomID),
		Payload: buf.Bytes(),
	}); err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return nil
}
