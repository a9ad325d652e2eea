package websocket

import (
	"context"
	"testing"

	"watermark-gateway/internal/pkg/logger"
	"watermark-gateway/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(hub *Hub, sessionID string) *Client {
	return &Client{Hub: hub, SessionID: sessionID, Send: make(chan events.SessionEvent, sendBuffer)}
}

func TestHubDeliversOnlyToWatchers(t *testing.T) {
	hub := NewHub(nil, "", logger.NewNopLogger())
	a := newTestClient(hub, "a")
	b := newTestClient(hub, "b")
	hub.register(a)
	hub.register(b)

	require.NoError(t, hub.Publish(context.Background(), events.SessionEvent{SessionID: "a", Status: "completed"}))

	require.Len(t, a.Send, 1)
	assert.Equal(t, "completed", (<-a.Send).Status)
	assert.Empty(t, b.Send)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(nil, "", logger.NewNopLogger())
	c := newTestClient(hub, "a")
	hub.register(c)
	assert.Equal(t, 1, hub.Watchers("a"))

	hub.unregister(c)
	assert.Equal(t, 0, hub.Watchers("a"))
	_, open := <-c.Send
	assert.False(t, open)

	// a second unregister is harmless
	hub.unregister(c)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil, "", logger.NewNopLogger())
	c := newTestClient(hub, "a")
	hub.register(c)

	for i := 0; i < sendBuffer+5; i++ {
		hub.fanOut(events.SessionEvent{SessionID: "a", Status: "processing"})
	}
	assert.Len(t, c.Send, sendBuffer)
}

func TestHubRunStopsWithoutRedis(t *testing.T) {
	hub := NewHub(nil, "", logger.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}
