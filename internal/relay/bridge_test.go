package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/gateway"
	"go-chat-relay/internal/logger"
)

// process is one simulated server instance: a hub plus its bridge.
type process struct {
	hub    *gateway.Hub
	bridge *Bridge
}

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:            mr.Addr(),
		Protocol:        2,
		DisableIdentity: true,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func startProcess(t *testing.T, mr *miniredis.Miniredis) *process {
	t.Helper()
	hub := gateway.NewHub(logger.Discard())
	bridge := NewBridge(newRedisClient(t, mr), hub, Options{
		PublishTimeout: time.Second,
		MinBackoff:     10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		hub.Close()
	})

	select {
	case <-bridge.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}
	return &process{hub: hub, bridge: bridge}
}

func (p *process) connect(t *testing.T, userID int, rooms ...string) *gateway.Client {
	t.Helper()
	c := gateway.NewClient(nil, userID, "user", 32)
	require.NoError(t, p.hub.Register(c))
	for _, room := range rooms {
		p.hub.Join(c, room)
	}
	return c
}

// collect waits briefly and returns every frame queued for c.
func collect(c *gateway.Client, wait time.Duration) []gateway.Frame {
	var frames []gateway.Frame
	deadline := time.After(wait)
	for {
		select {
		case data := <-c.Outbound():
			var f gateway.Frame
			_ = json.Unmarshal(data, &f)
			frames = append(frames, f)
		case <-deadline:
			return frames
		}
	}
}

func TestBridge_FanoutAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startProcess(t, mr)
	b := startProcess(t, mr)
	require.NotEqual(t, a.bridge.InstanceID(), b.bridge.InstanceID())

	room := gateway.ChatRoom("trip")
	sender := a.connect(t, 2, room)
	localPeer := a.connect(t, 1, room)
	remotePeer := b.connect(t, 3, room)
	remoteOutsider := b.connect(t, 4)

	ev, err := gateway.NewEvent(room, gateway.EventMessageReceived, map[string]string{"id": "m1", "content": "hi"})
	require.NoError(t, err)
	ev.ExceptUser = 2
	require.NoError(t, a.bridge.Broadcast(context.Background(), ev))

	remote := collect(remotePeer, 300*time.Millisecond)
	require.Len(t, remote, 1)
	assert.Equal(t, gateway.EventMessageReceived, remote[0].Event)
	assert.JSONEq(t, `{"id":"m1","content":"hi"}`, string(remote[0].Data))

	assert.Len(t, collect(localPeer, 50*time.Millisecond), 1, "origin must not re-deliver its own echo")
	assert.Empty(t, collect(sender, 50*time.Millisecond))
	assert.Empty(t, collect(remoteOutsider, 50*time.Millisecond))
}

func TestBridge_PersonalRoom(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startProcess(t, mr)
	b := startProcess(t, mr)

	target := b.connect(t, 9)
	ev, err := gateway.NewEvent(gateway.UserRoom(9), gateway.EventNewChat, map[string]string{"id": "c1"})
	require.NoError(t, err)
	require.NoError(t, a.bridge.Broadcast(context.Background(), ev))

	frames := collect(target, 300*time.Millisecond)
	require.Len(t, frames, 1)
	assert.Equal(t, gateway.EventNewChat, frames[0].Event)
}

func TestBridge_RejectsUnknownRoom(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startProcess(t, mr)

	err := a.bridge.Broadcast(context.Background(), gateway.Event{Room: "lobby", Name: gateway.EventTyping})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestBridge_IgnoresMalformedPublications(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startProcess(t, mr)
	room := gateway.ChatRoom("c1")
	c := a.connect(t, 1, room)

	mr.Publish(room, "not json")
	assert.Empty(t, collect(c, 100*time.Millisecond))
}

func TestBridge_BrokerOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	a := startProcess(t, mr)
	b := startProcess(t, mr)

	room := gateway.ChatRoom("c1")
	local := a.connect(t, 1, room)
	remote := b.connect(t, 2, room)

	mr.Close()

	ev := gateway.Event{Room: room, Name: gateway.EventTyping}
	err := a.bridge.Broadcast(context.Background(), ev)
	assert.True(t, apperr.Is(err, apperr.KindUnavailable))
	assert.Len(t, collect(local, 50*time.Millisecond), 1, "local delivery survives a broker outage")

	require.NoError(t, mr.Restart())

	// Both bridges resubscribe on their own; keep publishing until the
	// remote process sees traffic again.
	require.Eventually(t, func() bool {
		_ = a.bridge.Broadcast(context.Background(), ev)
		return len(collect(remote, 20*time.Millisecond)) > 0
	}, 5*time.Second, 50*time.Millisecond)
}
