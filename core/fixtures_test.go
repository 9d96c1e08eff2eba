package core

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

var (
	alice = User{UID: "alice", DisplayName: "Alice"}
	bob   = User{UID: "bob", DisplayName: "Bob"}
	carol = User{UID: "carol", DisplayName: "Carol"}
)

type ChatFixture struct {
	users    UserStore
	messages MessageStore
	presence *Presence
	chat     *ChatService
	db       *sql.DB
	ctx      context.Context
	tearDown func()
	t        *testing.T
}

func NewChatFixture(t *testing.T) *ChatFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// A pooled connection would see its own empty in-memory database.
	db.SetMaxOpenConns(1)

	migrationfs := os.DirFS("../migrations")
	goose.SetBaseFS(migrationfs)

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}

	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	users := NewSQLiteUserStore(db)
	messages := NewSQLiteMessageStore(db)
	presence := NewPresence()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &ChatFixture{
		users:    users,
		messages: messages,
		presence: presence,
		chat:     NewChatService(messages, users, presence, logger),
		db:       db,
		ctx:      ctx,
		tearDown: func() {
			cancel()
			db.Close()
		},
		t: t,
	}

	return f
}

func seedUsers(ctx context.Context, t *testing.T, userStore UserStore, users ...User) {
	for _, u := range users {
		if _, err := userStore.CreateUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
}
