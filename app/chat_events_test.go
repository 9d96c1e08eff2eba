package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duochat/core"
	"duochat/pubsub"
	"duochat/ws"
)

var (
	testAlice = core.User{UID: "alice", DisplayName: "Alice"}
	testBob   = core.User{UID: "bob", DisplayName: "Bob"}
)

type appFixture struct {
	app *App
	bus *pubsub.GoChannelBus
	ctx context.Context
	t   *testing.T
}

func newAppFixture(t *testing.T) *appFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(os.DirFS("../migrations"))
	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}
	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := core.NewSQLiteUserStore(db)
	messages := core.NewSQLiteMessageStore(db)
	presence := core.NewPresence()
	bus := pubsub.NewGoChannelBus(logger)
	hub := ws.NewHub(ctx, bus, logger)

	app := &App{
		context:      ctx,
		logger:       logger,
		publisher:    bus,
		hub:          hub,
		userStore:    users,
		messageStore: messages,
		presence:     presence,
		chat:         core.NewChatService(messages, users, presence, logger),
	}

	t.Cleanup(func() {
		hub.Close()
		bus.Close()
		db.Close()
		cancel()
	})

	for _, u := range []core.User{testAlice, testBob} {
		if _, err := users.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	return &appFixture{app: app, bus: bus, ctx: ctx, t: t}
}

// watchRoom subscribes to a room topic and returns the stream of decoded
// events published to it.
func (f *appFixture) watchRoom(roomID string) <-chan *core.Event {
	events := make(chan *core.Event, 16)
	err := f.bus.Subscribe(f.ctx, pubsub.RoomTopic(roomID), func(ctx context.Context, msg pubsub.Message) error {
		var e core.Event
		if err := core.DecodeEvent(bytes.NewReader(msg.Payload), &e); err != nil {
			return err
		}
		events <- &e
		return nil
	})
	if err != nil {
		f.t.Fatal(err)
	}
	return events
}

func (f *appFixture) waitEvent(events <-chan *core.Event) *core.Event {
	select {
	case e := <-events:
		return e
	case <-time.After(time.Second):
		f.t.Fatal("no event published within a second")
		return nil
	}
}

func assertNoEvent(t *testing.T, events <-chan *core.Event) {
	select {
	case e := <-events:
		t.Fatalf("unexpected event published: %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func commandEvent(t *testing.T, dispatcher, eventType string, cmd any) *core.Event {
	payload, err := json.Marshal(cmd)
	if err != nil {
		t.Fatal(err)
	}
	return &core.Event{Dispatcher: dispatcher, Type: eventType, Payload: payload}
}

func TestSendEventHandler(t *testing.T) {
	room := core.PairRoomID(testAlice.UID, testBob.UID)

	t.Run("publishes the stored snapshot to the room", func(t *testing.T) {
		f := newAppFixture(t)
		events := f.watchRoom(room)

		e := commandEvent(t, testAlice.UID, SendEvent, core.SendCommand{
			RoomID:  room,
			Content: "hi",
		})
		require.Nil(t, f.app.SendEventHandler(f.ctx, e))

		got := f.waitEvent(events)
		assert.Equal(t, MessageEvent, got.Type)

		var snapshot core.MessageSnapshot
		require.Nil(t, json.Unmarshal(got.Payload, &snapshot))
		assert.Equal(t, testAlice.UID, snapshot.SenderID)
		assert.Equal(t, "Alice", snapshot.SenderName)
		assert.Equal(t, core.StatusSent, snapshot.Status)
		assert.Equal(t, "hi", snapshot.Content)
	})

	t.Run("the sender in the payload is overridden by the dispatcher", func(t *testing.T) {
		f := newAppFixture(t)
		events := f.watchRoom(room)

		e := commandEvent(t, testAlice.UID, SendEvent, core.SendCommand{
			RoomID:   room,
			SenderID: testBob.UID,
			Content:  "spoofed",
		})
		require.Nil(t, f.app.SendEventHandler(f.ctx, e))

		var snapshot core.MessageSnapshot
		require.Nil(t, json.Unmarshal(f.waitEvent(events).Payload, &snapshot))
		assert.Equal(t, testAlice.UID, snapshot.SenderID)
	})

	t.Run("an invalid command publishes nothing", func(t *testing.T) {
		f := newAppFixture(t)
		events := f.watchRoom(room)

		e := commandEvent(t, testAlice.UID, SendEvent, core.SendCommand{RoomID: room})
		assert.NotNil(t, f.app.SendEventHandler(f.ctx, e))
		assertNoEvent(t, events)
	})

	t.Run("a malformed payload is rejected as such", func(t *testing.T) {
		f := newAppFixture(t)

		e := &core.Event{Dispatcher: testAlice.UID, Type: SendEvent, Payload: []byte(`{"room_id":7}`)}
		err := f.app.SendEventHandler(f.ctx, e)
		assert.ErrorIs(t, err, core.ErrMalformedCommand)
	})
}

func TestEditEventHandler(t *testing.T) {
	room := core.PairRoomID(testAlice.UID, testBob.UID)

	send := func(f *appFixture, content string) core.MessageSnapshot {
		snapshot, err := f.app.chat.Send(f.ctx, core.SendCommand{
			RoomID: room, SenderID: testAlice.UID, Content: content,
		})
		if err != nil {
			f.t.Fatal(err)
		}
		return *snapshot
	}

	t.Run("publishes the edited snapshot", func(t *testing.T) {
		f := newAppFixture(t)
		stored := send(f, "hi")
		events := f.watchRoom(room)

		e := commandEvent(t, testAlice.UID, EditEvent, core.EditCommand{
			MessageID:  stored.ID,
			NewContent: "hello",
		})
		require.Nil(t, f.app.EditEventHandler(f.ctx, e))

		got := f.waitEvent(events)
		assert.Equal(t, MessageEvent, got.Type)

		var snapshot core.MessageSnapshot
		require.Nil(t, json.Unmarshal(got.Payload, &snapshot))
		assert.Equal(t, "hello", snapshot.Content)
		assert.Equal(t, core.StatusSent, snapshot.Status)
	})

	t.Run("another user's edit fails without publishing", func(t *testing.T) {
		f := newAppFixture(t)
		stored := send(f, "hi")
		events := f.watchRoom(room)

		e := commandEvent(t, testBob.UID, EditEvent, core.EditCommand{
			MessageID:  stored.ID,
			NewContent: "hello",
		})
		err := f.app.EditEventHandler(f.ctx, e)
		assert.ErrorIs(t, err, core.ErrNotSender)
		assertNoEvent(t, events)
	})
}

func TestDeleteEventHandler(t *testing.T) {
	room := core.PairRoomID(testAlice.UID, testBob.UID)

	t.Run("publishes the deletion marker", func(t *testing.T) {
		f := newAppFixture(t)
		stored, err := f.app.chat.Send(f.ctx, core.SendCommand{
			RoomID: room, SenderID: testAlice.UID, Content: "hi",
		})
		require.Nil(t, err)
		events := f.watchRoom(room)

		e := commandEvent(t, testAlice.UID, DeleteEvent, core.DeleteCommand{MessageID: stored.ID})
		require.Nil(t, f.app.DeleteEventHandler(f.ctx, e))

		got := f.waitEvent(events)
		assert.Equal(t, DeletedEvent, got.Type)

		var deleted core.DeletedMessage
		require.Nil(t, json.Unmarshal(got.Payload, &deleted))
		assert.Equal(t, stored.ID, deleted.MessageID)
		assert.Equal(t, room, deleted.RoomID)
	})
}

func TestEnterEventHandler(t *testing.T) {
	room := core.PairRoomID(testAlice.UID, testBob.UID)

	t.Run("publishes one read transition per pending message", func(t *testing.T) {
		f := newAppFixture(t)

		for _, content := range []string{"one", "two"} {
			_, err := f.app.chat.Send(f.ctx, core.SendCommand{
				RoomID: room, SenderID: testAlice.UID, Content: content,
			})
			require.Nil(t, err)
		}
		events := f.watchRoom(room)

		e := commandEvent(t, testBob.UID, EnterEvent, core.EnterCommand{RoomID: room})
		require.Nil(t, f.app.EnterEventHandler(f.ctx, e))

		for _, want := range []string{"one", "two"} {
			got := f.waitEvent(events)
			assert.Equal(t, MessageEvent, got.Type)

			var snapshot core.MessageSnapshot
			require.Nil(t, json.Unmarshal(got.Payload, &snapshot))
			assert.Equal(t, core.StatusRead, snapshot.Status)
			assert.Equal(t, want, snapshot.Content)
		}
		assert.True(t, f.app.presence.Contains(room, testBob.UID))
	})

	t.Run("an empty room enters quietly", func(t *testing.T) {
		f := newAppFixture(t)
		events := f.watchRoom(room)

		e := commandEvent(t, testBob.UID, EnterEvent, core.EnterCommand{RoomID: room})
		require.Nil(t, f.app.EnterEventHandler(f.ctx, e))
		assertNoEvent(t, events)
	})

	t.Run("a later send reaches the present peer as READ", func(t *testing.T) {
		f := newAppFixture(t)
		events := f.watchRoom(room)

		enter := commandEvent(t, testBob.UID, EnterEvent, core.EnterCommand{RoomID: room})
		require.Nil(t, f.app.EnterEventHandler(f.ctx, enter))

		send := commandEvent(t, testAlice.UID, SendEvent, core.SendCommand{
			RoomID: room, Content: "hi",
		})
		require.Nil(t, f.app.SendEventHandler(f.ctx, send))

		var snapshot core.MessageSnapshot
		require.Nil(t, json.Unmarshal(f.waitEvent(events).Payload, &snapshot))
		assert.Equal(t, core.StatusRead, snapshot.Status)
	})
}
