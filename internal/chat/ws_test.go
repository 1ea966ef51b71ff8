package chat

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"tribechat/internal/apperrors"
	"tribechat/internal/middleware"
)

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (int, string, error) {
	switch token {
	case "alice-token":
		return 1, "alice", nil
	case "bob-token":
		return 2, "bob", nil
	case "ghost-token":
		// Valid signature, but the user no longer exists.
		return 99, "ghost", nil
	}
	return 0, "", apperrors.ErrUnauthenticated
}

func startWSServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()

	hub := NewHub(newLoopbackRelay(), slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	h := NewHandler(hub, newMemStore(), memberFunc(allowAll),
		staticResolver{1: "alice", 2: "bob"}, slog.Default(), 50, 4000)

	r := chi.NewRouter()
	auth := middleware.NewAuthMiddleware(stubValidator{})
	r.Group(func(r chi.Router) {
		r.Use(auth.Handle)
		r.Get("/ws", h.ServeWS)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func awaitMembers(t *testing.T, hub *Hub, tribeID, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(hub.Registry().Members(tribeID)) == count
	}, time.Second, 5*time.Millisecond)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func Test_Handshake_Rejects_Bad_Token(t *testing.T) {
	req := require.New(t)
	srv, _ := startWSServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func Test_Handshake_Rejects_Missing_Token(t *testing.T) {
	req := require.New(t)
	srv, _ := startWSServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func Test_Handshake_Rejects_Deleted_User(t *testing.T) {
	req := require.New(t)
	srv, _ := startWSServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=ghost-token"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	req.Error(err)
	req.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func Test_Publish_Message_Reaches_Room_Including_Sender(t *testing.T) {
	req := require.New(t)
	srv, hub := startWSServer(t)

	alice := dialWS(t, srv, "alice-token")
	bob := dialWS(t, srv, "bob-token")

	req.NoError(alice.WriteJSON(Envelope{Type: EventJoinRoom, TribeID: 1}))
	req.NoError(bob.WriteJSON(Envelope{Type: EventJoinRoom, TribeID: 1}))
	awaitMembers(t, hub, 1, 2)

	msg := &Message{
		ID:        uuid.New(),
		TribeID:   1,
		SenderID:  1,
		Content:   "hello room",
		CreatedAt: time.Now().UTC(),
	}
	req.NoError(alice.WriteJSON(Envelope{Type: EventPublishMessage, TribeID: 1, Message: msg}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		env := readEnvelope(t, conn)
		req.Equal(EventMessageReceived, env.Type)
		req.Equal(msg.ID, env.Message.ID)
		req.Equal("hello room", env.Message.Content)
	}
}

func Test_Publish_Reaction_Carries_Full_Message(t *testing.T) {
	req := require.New(t)
	srv, hub := startWSServer(t)

	alice := dialWS(t, srv, "alice-token")
	bob := dialWS(t, srv, "bob-token")
	req.NoError(alice.WriteJSON(Envelope{Type: EventJoinRoom, TribeID: 1}))
	req.NoError(bob.WriteJSON(Envelope{Type: EventJoinRoom, TribeID: 1}))
	awaitMembers(t, hub, 1, 2)

	id := uuid.New()
	msg := &Message{
		ID:        id,
		TribeID:   1,
		SenderID:  1,
		Content:   "react to me",
		Reactions: []Reaction{{Emoji: "👍", UserID: 2, UserName: "bob"}},
		CreatedAt: time.Now().UTC(),
	}
	req.NoError(bob.WriteJSON(Envelope{
		Type:      EventPublishReaction,
		TribeID:   1,
		MessageID: &id,
		Message:   msg,
	}))

	env := readEnvelope(t, alice)
	req.Equal(EventReactionReceived, env.Type)
	req.Equal(id, *env.MessageID)
	req.Len(env.Message.Reactions, 1)
}

func Test_Leave_Room_Stops_Delivery(t *testing.T) {
	req := require.New(t)
	srv, hub := startWSServer(t)

	alice := dialWS(t, srv, "alice-token")
	bob := dialWS(t, srv, "bob-token")
	req.NoError(alice.WriteJSON(Envelope{Type: EventJoinRoom, TribeID: 1}))
	req.NoError(bob.WriteJSON(Envelope{Type: EventJoinRoom, TribeID: 1}))
	awaitMembers(t, hub, 1, 2)

	req.NoError(bob.WriteJSON(Envelope{Type: EventLeaveRoom, TribeID: 1}))
	awaitMembers(t, hub, 1, 1)

	msg := &Message{ID: uuid.New(), TribeID: 1, SenderID: 1, Content: "after leave", CreatedAt: time.Now().UTC()}
	req.NoError(alice.WriteJSON(Envelope{Type: EventPublishMessage, TribeID: 1, Message: msg}))

	env := readEnvelope(t, alice)
	req.Equal(msg.ID, env.Message.ID)

	bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray Envelope
	req.Error(bob.ReadJSON(&stray))
}

func Test_Room_Isolation_Over_Wire(t *testing.T) {
	req := require.New(t)
	srv, hub := startWSServer(t)

	alice := dialWS(t, srv, "alice-token")
	bob := dialWS(t, srv, "bob-token")
	req.NoError(alice.WriteJSON(Envelope{Type: EventJoinRoom, TribeID: 1}))
	req.NoError(bob.WriteJSON(Envelope{Type: EventJoinRoom, TribeID: 2}))
	awaitMembers(t, hub, 1, 1)
	awaitMembers(t, hub, 2, 1)

	msg := &Message{ID: uuid.New(), TribeID: 2, SenderID: 2, Content: "tribe two", CreatedAt: time.Now().UTC()}
	req.NoError(bob.WriteJSON(Envelope{Type: EventPublishMessage, TribeID: 2, Message: msg}))

	// Bob (room 2) receives; alice (room 1 only) must not.
	env := readEnvelope(t, bob)
	req.Equal(msg.ID, env.Message.ID)

	alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray Envelope
	req.Error(alice.ReadJSON(&stray))
}
