// Package room exposes the HTTP endpoints for room management and message
// history. These are plain request/response plumbing over the store; the
// real-time path lives in internal/chat.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"chat-server/internal/chat"
	"chat-server/internal/middleware"
	"chat-server/internal/store"
)

const historyLimit = 100

// Store is the slice of the persistence layer these handlers need.
type Store interface {
	CreateRoom(ctx context.Context, name string, creatorID int) (*store.Room, error)
	ListRooms(ctx context.Context) ([]*store.Room, error)
	RecentMessages(ctx context.Context, room string, limit int) ([]*chat.Message, error)
}

type createRequest struct {
	Name string `json:"name" validate:"required,min=1,max=64"`
}

type Handler struct {
	store    Store
	validate *validator.Validate
}

func NewHandler(s Store) *Handler {
	return &Handler{store: s, validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "missing room name")
		return
	}

	userID, ok := r.Context().Value(middleware.UserKey).(int)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	created, err := h.store.CreateRoom(r.Context(), req.Name, userID)
	if err != nil {
		if errors.Is(err, store.ErrRoomExists) {
			writeError(w, http.StatusBadRequest, "room exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if rooms == nil {
		rooms = []*store.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// History serves the offline catch-up path: the newest non-deleted
// messages of a room, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	msgs, err := h.store.RecentMessages(r.Context(), room, historyLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if msgs == nil {
		msgs = []*chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
