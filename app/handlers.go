package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"duochat/core"
)

// DefaultRecentLimit is the window of history served when the client does
// not ask for a specific limit.
const DefaultRecentLimit = 50

type ChatHandler struct {
	chat *core.ChatService
}

func NewChatHandler(chat *core.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// RoomMessagesHandler serves the recent-messages window of a room. It is
// the reconciliation path for clients that just joined or reconnected,
// since room topics carry no replay.
func (h *ChatHandler) RoomMessagesHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	limit := DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	messages, err := h.chat.FetchRecent(r.Context(), roomID, limit)
	if err != nil {
		if errors.Is(err, core.ErrInvalidRoom) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

type UserHandler struct {
	users core.UserStore
}

func NewUserHandler(users core.UserStore) *UserHandler {
	return &UserHandler{users: users}
}

// GetUsersHandler lists the user directory for client bootstrap.
func (h *UserHandler) GetUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.GetUsers(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if users == nil {
		users = []core.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
