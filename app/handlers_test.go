package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duochat/core"
)

func newTestRouter(f *appFixture) chi.Router {
	router := chi.NewRouter()
	router.Get("/api/users", NewUserHandler(f.app.userStore).GetUsersHandler)
	router.Get("/api/rooms/{roomID}/messages", NewChatHandler(f.app.chat).RoomMessagesHandler)
	return router
}

func get(router chi.Router, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	return rec
}

func TestRoomMessagesHandler(t *testing.T) {
	room := core.PairRoomID(testAlice.UID, testBob.UID)

	seedRoom := func(f *appFixture, contents ...string) {
		for _, content := range contents {
			_, err := f.app.chat.Send(f.ctx, core.SendCommand{
				RoomID: room, SenderID: testAlice.UID, Content: content,
			})
			if err != nil {
				f.t.Fatal(err)
			}
		}
	}

	t.Run("serves the recent window", func(t *testing.T) {
		f := newAppFixture(t)
		seedRoom(f, "one", "two", "three")
		router := newTestRouter(f)

		rec := get(router, "/api/rooms/"+room+"/messages?limit=2")
		require.Equal(t, http.StatusOK, rec.Code)

		var messages []core.MessageSnapshot
		require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &messages))
		require.Len(t, messages, 2)
		assert.Equal(t, "two", messages[0].Content)
		assert.Equal(t, "three", messages[1].Content)
	})

	t.Run("defaults the limit", func(t *testing.T) {
		f := newAppFixture(t)
		seedRoom(f, "one")
		router := newTestRouter(f)

		rec := get(router, "/api/rooms/"+room+"/messages")
		require.Equal(t, http.StatusOK, rec.Code)

		var messages []core.MessageSnapshot
		require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &messages))
		assert.Len(t, messages, 1)
	})

	t.Run("rejects a bad limit", func(t *testing.T) {
		f := newAppFixture(t)
		router := newTestRouter(f)

		assert.Equal(t, http.StatusBadRequest, get(router, "/api/rooms/"+room+"/messages?limit=abc").Code)
		assert.Equal(t, http.StatusBadRequest, get(router, "/api/rooms/"+room+"/messages?limit=-1").Code)
	})

	t.Run("rejects a malformed room id", func(t *testing.T) {
		f := newAppFixture(t)
		router := newTestRouter(f)

		assert.Equal(t, http.StatusBadRequest, get(router, "/api/rooms/not-a-room/messages").Code)
	})
}

func TestGetUsersHandler(t *testing.T) {
	f := newAppFixture(t)
	router := newTestRouter(f)

	rec := get(router, "/api/users")
	require.Equal(t, http.StatusOK, rec.Code)

	var users []core.User
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 2)
	assert.Equal(t, "Alice", users[0].DisplayName)
	assert.Equal(t, "Bob", users[1].DisplayName)
}
