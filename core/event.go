package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// ErrorEventType is the type of the event sent back to the dispatching
// user when their command fails. Errors are never broadcast to the room.
const ErrorEventType = "error"

// ErrMalformedCommand is returned when an inbound payload cannot be
// decoded into its command.
var ErrMalformedCommand = errors.New("malformed command")

// Error codes carried by error events.
const (
	CodeValidation       = "validation"
	CodeNotFound         = "not_found"
	CodePermissionDenied = "permission_denied"
	CodeInvalidState     = "invalid_state"
	CodeConflict         = "conflict"
	CodeInternal         = "internal"
)

// ErrorCode maps an error returned by the chat service to its wire code.
func ErrorCode(err error) string {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs),
		errors.Is(err, ErrMalformedCommand),
		errors.Is(err, ErrInvalidRoom),
		errors.Is(err, ErrNotRoomMember):
		return CodeValidation
	case errors.Is(err, ErrMessageNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotSender):
		return CodePermissionDenied
	case errors.Is(err, ErrMessageRead):
		return CodeInvalidState
	case errors.Is(err, ErrStaleMessage):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Command string `json:"command"`
	Code    string `json:"code"`
	Reason  string `json:"reason"`
}

// Event is the wire envelope for everything crossing the websocket and the
// room topics. Dispatcher is set by the transport from the authenticated
// connection, never trusted from the payload.
type Event struct {
	Dispatcher string          `json:"-"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Dispatcher: %s, Type: %s, Payload.Size: %d}", e.Dispatcher, e.Type, len(e.Payload))
}

// NewEvent builds an event of the given type around a marshaled payload.
func NewEvent(t string, payload any) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

type EventHandler func(context.Context, *Event) error

// EventTransport delivers inbound events from connected clients and routes
// direct replies back to a single user.
type EventTransport interface {
	Receive() <-chan *Event
	SendToUser(e *Event, user string)
}

// EventRouter dispatches inbound events to the handler registered for
// their type. Handlers run sequentially in the router goroutine, so the
// events one command publishes are submitted in order. A handler error is
// reported back to the dispatching user only.
type EventRouter struct {
	listeners map[string]EventHandler
	ctx       context.Context
	transport EventTransport
	logger    *slog.Logger
	exit      chan struct{}
	done      chan struct{}
}

func NewEventRouter(ctx context.Context, logger *slog.Logger, transport EventTransport) *EventRouter {
	return &EventRouter{
		listeners: make(map[string]EventHandler),
		ctx:       ctx,
		transport: transport,
		logger:    logger,
		exit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *EventRouter) On(eventType string, handler EventHandler) {
	r.listeners[eventType] = handler
}

func (r *EventRouter) Listen() {
	go func() {
		defer close(r.done)
		for {
			select {
			case <-r.exit:
				return
			case e := <-r.transport.Receive():
				r.dispatch(e)
			}
		}
	}()
}

func (r *EventRouter) dispatch(e *Event) {
	r.logger.Debug(fmt.Sprintf("received: %v", e))

	handler, ok := r.listeners[e.Type]
	if !ok {
		r.replyError(e, errors.New("unknown command"), CodeValidation)
		return
	}

	if err := handler(r.ctx, e); err != nil {
		r.logger.Error(fmt.Sprintf("%s handler: %s", e.Type, err))
		r.replyError(e, err, ErrorCode(err))
	}
}

func (r *EventRouter) replyError(e *Event, err error, code string) {
	reason := err.Error()
	if code == CodeInternal {
		// Internal details stay in the log.
		reason = "internal error"
	}

	reply, buildErr := NewEvent(ErrorEventType, ErrorPayload{
		Command: e.Type,
		Code:    code,
		Reason:  reason,
	})
	if buildErr != nil {
		r.logger.Error(fmt.Sprintf("build error event: %s", buildErr))
		return
	}
	r.transport.SendToUser(reply, e.Dispatcher)
}

func (r *EventRouter) Close(ctx context.Context) {
	close(r.exit)
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}
