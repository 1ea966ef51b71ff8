package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"tribechat/internal/apperrors"
	"tribechat/internal/middleware"
	"tribechat/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (dev mode)
	},
}

// MessageStore is the durable record of messages; the gateway's only write
// path. Implemented by Repository; tests use an in-memory fake.
type MessageStore interface {
	Save(ctx context.Context, tribeID, senderID int, content string, mentions []string, replyTo *uuid.UUID) (*Message, error)
	Fetch(ctx context.Context, tribeID, limit int, before *time.Time) ([]Message, error)
	ToggleReaction(ctx context.Context, tribeID int, messageID uuid.UUID, userID int, userName, emoji string) (*Message, error)
	Edit(ctx context.Context, tribeID int, messageID uuid.UUID, senderID int, content string) (*Message, error)
	Delete(ctx context.Context, tribeID int, messageID uuid.UUID, senderID int) error
}

// Membership answers the ACL question the gateway enforces on every route.
type Membership interface {
	IsMember(ctx context.Context, tribeID, userID int) (bool, error)
}

// UserResolver lets the handshake reject tokens naming users that no longer
// exist.
type UserResolver interface {
	ResolveUser(ctx context.Context, id int) (string, error)
}

// Broadcaster is the hub surface the REST gateway needs for server-side
// edit/delete events.
type Broadcaster interface {
	Broadcast(tribeID int, env Envelope)
}

type Handler struct {
	hub       *Hub
	broadcast Broadcaster
	store     MessageStore
	tribes    Membership
	users     UserResolver
	validate  *validator.Validate
	log       *slog.Logger

	pageSize   int
	maxContent int
}

func NewHandler(hub *Hub, store MessageStore, tribes Membership, users UserResolver, log *slog.Logger, pageSize, maxContent int) *Handler {
	return &Handler{
		hub:        hub,
		broadcast:  hub,
		store:      store,
		tribes:     tribes,
		users:      users,
		validate:   validator.New(),
		log:        log,
		pageSize:   pageSize,
		maxContent: maxContent,
	}
}

// ---------------------------------------------
// Request bodies
// ---------------------------------------------

type sendRequest struct {
	Content  string     `json:"content" validate:"required"`
	Mentions []string   `json:"mentions"`
	ReplyTo  *uuid.UUID `json:"reply_to"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

type editRequest struct {
	Content string `json:"content" validate:"required"`
}

// ---------------------------------------------
// REST gateway
// ---------------------------------------------

// ListMessages returns up to limit messages older than the before cursor, in
// ascending created_at order. Backward-scrolling pagination: pass the oldest
// returned created_at as the next before.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	_, tribeID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	limit := h.pageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 200)
	}

	var before *time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid before cursor", http.StatusBadRequest)
			return
		}
		before = &t
	}

	msgs, err := h.store.Fetch(r.Context(), tribeID, limit, before)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}

	writeJSON(w, http.StatusOK, map[string][]Message{"messages": msgs})
}

// SendMessage persists a message and returns it with its server-assigned id
// and created_at. The client forwards the persisted record over its live
// connection afterward; the gateway does not broadcast sends itself.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	principal, tribeID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Content) > h.maxContent {
		http.Error(w, fmt.Sprintf("content exceeds %d bytes", h.maxContent), http.StatusBadRequest)
		return
	}

	// Server-side extraction is the snapshot of record; client-resolved
	// handles are unioned in after it, order preserved.
	mentions := ExtractMentions(req.Content)
	for _, m := range req.Mentions {
		if !lo.Contains(mentions, m) {
			mentions = append(mentions, m)
		}
	}

	msg, err := h.store.Save(r.Context(), tribeID, principal.id, req.Content, mentions, req.ReplyTo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	telemetry.MessagesPersisted.Inc()

	writeJSON(w, http.StatusCreated, map[string]*Message{"message": msg})
}

// ToggleReaction flips the caller's (emoji) entry on the message and returns
// the full updated record, so clients never apply reaction deltas manually.
func (h *Handler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	principal, tribeID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	messageID, ok := h.messageID(w, r)
	if !ok {
		return
	}

	var req reactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.store.ToggleReaction(r.Context(), tribeID, messageID, principal.id, principal.name, req.Emoji)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]*Message{"message": msg})
}

// EditMessage replaces content on the caller's own message. The updated
// record is broadcast server-side so live receivers replace wholesale.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	principal, tribeID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	messageID, ok := h.messageID(w, r)
	if !ok {
		return
	}

	var req editRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Content) > h.maxContent {
		http.Error(w, fmt.Sprintf("content exceeds %d bytes", h.maxContent), http.StatusBadRequest)
		return
	}

	msg, err := h.store.Edit(r.Context(), tribeID, messageID, principal.id, req.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.broadcast.Broadcast(tribeID, Envelope{
		Type:      EventMessageUpdated,
		TribeID:   tribeID,
		MessageID: &messageID,
		Message:   msg,
	})

	writeJSON(w, http.StatusOK, map[string]*Message{"message": msg})
}

// DeleteMessage removes the caller's own message permanently and broadcasts
// a best-effort tombstone event.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	principal, tribeID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	messageID, ok := h.messageID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), tribeID, messageID, principal.id); err != nil {
		h.writeError(w, err)
		return
	}

	h.broadcast.Broadcast(tribeID, Envelope{
		Type:      EventMessageDeleted,
		TribeID:   tribeID,
		MessageID: &messageID,
	})

	writeJSON(w, http.StatusOK, map[string]uuid.UUID{"deleted": messageID})
}

// ---------------------------------------------
// Realtime handshake
// ---------------------------------------------

// ServeWS completes the handshake and starts the pumps. The bearer token was
// verified by the auth middleware; here the claimed user is additionally
// resolved against the store so tokens naming deleted users fail the
// connection attempt instead of silently dropping events later.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	username, err := h.users.ResolveUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:      h.hub,
		conn:     conn,
		log:      h.log,
		Send:     make(chan []byte, 256),
		UserID:   userID,
		Username: username,
	}
	client.hub.Register <- client

	go client.writePump()
	go client.readPump()
}

// ---------------------------------------------
// Helpers
// ---------------------------------------------

type principal struct {
	id   int
	name string
}

// authorize extracts the authenticated identity and the tribe id, and
// rejects callers that are not members. This is the real access boundary;
// the transport trusts it.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (principal, int, bool) {
	userID, ok := r.Context().Value(middleware.UserKey).(int)
	username, ok2 := r.Context().Value(middleware.UsernameKey).(string)
	if !ok || !ok2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return principal{}, 0, false
	}

	tribeID, err := strconv.Atoi(chi.URLParam(r, "tribeID"))
	if err != nil {
		http.Error(w, "invalid tribe id", http.StatusBadRequest)
		return principal{}, 0, false
	}

	member, err := h.tribes.IsMember(r.Context(), tribeID, userID)
	if err != nil {
		h.writeError(w, err)
		return principal{}, 0, false
	}
	if !member {
		http.Error(w, "not a tribe member", http.StatusForbidden)
		return principal{}, 0, false
	}

	return principal{id: userID, name: username}, tribeID, true
}

func (h *Handler) messageID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "messageID"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.Status(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
