package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/logger"
)

type fakeValidator map[string]int

func (f fakeValidator) ValidateToken(token string) (int, string, error) {
	id, ok := f[token]
	if !ok {
		return 0, "", apperr.Unauthorized("token is invalid")
	}
	return id, "user", nil
}

type fakeMembers map[string][]int

func (f fakeMembers) IsParticipant(_ context.Context, chatID string, userID int) (bool, error) {
	for _, id := range f[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type testServer struct {
	hub *Hub
	srv *httptest.Server
	url string
}

func newTestServer(t *testing.T, members MembershipChecker, verify bool) *testServer {
	t.Helper()
	hub := NewHub(logger.Discard())
	validator := fakeValidator{"alice-token": 1, "bob-token": 2}
	h := NewHandler(hub, validator, nil, members, Options{
		VerifyJoin:       verify,
		HandshakeTimeout: 200 * time.Millisecond,
		SendBuffer:       16,
	}, logger.Discard())

	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testServer{hub: hub, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readFrame returns the next frame; the server writes one frame per message.
func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw}))
}

func socketErrorText(t *testing.T, f Frame) string {
	t.Helper()
	require.Equal(t, EventSocketError, f.Event)
	var msg string
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	return msg
}

func TestServeWs_Handshake(t *testing.T) {
	ts := newTestServer(t, nil, false)

	tests := []struct {
		name      string
		query     string
		header    http.Header
		authFrame string
		wantError string
	}{
		{name: "query token", query: "?token=alice-token"},
		{name: "cookie token", header: http.Header{"Cookie": {"accessToken=alice-token"}}},
		{name: "bearer header", header: http.Header{"Authorization": {"Bearer alice-token"}}},
		{name: "auth frame", authFrame: "alice-token"},
		{name: "missing token", wantError: "token is missing"},
		{name: "invalid token", query: "?token=forged", wantError: "token is invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, ts.url+tt.query, tt.header)
			if tt.authFrame != "" {
				send(t, conn, EventAuth, map[string]string{"token": tt.authFrame})
			}

			f := readFrame(t, conn)
			if tt.wantError != "" {
				assert.Contains(t, socketErrorText(t, f), tt.wantError)
				_, _, err := conn.ReadMessage()
				assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
				return
			}
			assert.Equal(t, EventConnected, f.Event)
		})
	}
}

func TestServeWs_OversizedAuthFrameIsRejected(t *testing.T) {
	ts := newTestServer(t, nil, false)
	conn := dial(t, ts.url, nil)

	padding := strings.Repeat("x", 4*maxMessageSize)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"auth","data":{"token":"alice-token","pad":"`+padding+`"}}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Either a close frame or a reset; never a timeout.
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) {
				assert.False(t, netErr.Timeout(), "server kept the connection open")
			}
			break
		}
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		require.NotEqual(t, EventConnected, f.Event)
	}
	assert.Zero(t, ts.hub.ClientCount())
}

func TestServeWs_JoinAndTyping(t *testing.T) {
	ts := newTestServer(t, nil, false)
	room := ChatRoom("chat-1")

	alice := dial(t, ts.url+"?token=alice-token", nil)
	bob := dial(t, ts.url+"?token=bob-token", nil)
	require.Equal(t, EventConnected, readFrame(t, alice).Event)
	require.Equal(t, EventConnected, readFrame(t, bob).Event)

	send(t, alice, EventJoinChat, "chat-1")
	send(t, bob, EventJoinChat, "chat-1")
	require.Eventually(t, func() bool { return ts.hub.RoomSize(room) == 2 }, time.Second, 10*time.Millisecond)

	send(t, alice, EventTyping, "chat-1")
	f := readFrame(t, bob)
	assert.Equal(t, EventTyping, f.Event)
	assert.JSONEq(t, `"chat-1"`, string(f.Data))

	send(t, bob, EventStopTyping, "chat-1")
	f = readFrame(t, alice)
	assert.Equal(t, EventStopTyping, f.Event)
}

func TestServeWs_VerifiedJoin(t *testing.T) {
	ts := newTestServer(t, fakeMembers{"chat-1": {2, 3}}, true)

	alice := dial(t, ts.url+"?token=alice-token", nil)
	require.Equal(t, EventConnected, readFrame(t, alice).Event)

	send(t, alice, EventJoinChat, "chat-1")
	assert.Contains(t, socketErrorText(t, readFrame(t, alice)), "not a participant")
	assert.Equal(t, 0, ts.hub.RoomSize(ChatRoom("chat-1")))

	bob := dial(t, ts.url+"?token=bob-token", nil)
	send(t, bob, EventJoinChat, "chat-1")
	require.Eventually(t, func() bool { return ts.hub.RoomSize(ChatRoom("chat-1")) == 1 }, time.Second, 10*time.Millisecond)
}

func TestServeWs_DisconnectReleasesRooms(t *testing.T) {
	ts := newTestServer(t, nil, false)

	conn := dial(t, ts.url+"?token=alice-token", nil)
	require.Equal(t, EventConnected, readFrame(t, conn).Event)
	send(t, conn, EventJoinChat, "chat-1")
	require.Eventually(t, func() bool { return ts.hub.RoomSize(ChatRoom("chat-1")) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	require.Eventually(t, func() bool { return ts.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ts.hub.RoomSize(ChatRoom("chat-1")))
	assert.Equal(t, 0, ts.hub.RoomSize(UserRoom(1)))
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	assert.Equal(t, "from-query", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(r))
}
