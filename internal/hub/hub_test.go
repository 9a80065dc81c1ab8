package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"racegame/internal/race"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubSendsSnapshotThenEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(nil, func() any { return map[string]int{"round": 7} })
	go h.Run(ctx)
	srv := httptest.NewServer(h.ServeWSHandler())
	defer srv.Close()

	conn := dial(t, srv)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first struct {
		Event string         `json:"event"`
		Data  map[string]int `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, "snapshot", first.Event)
	require.Equal(t, 7, first.Data["round"])

	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.Committed(race.Event{Seq: 3, Kind: race.OpBuyItem, Sender: "alice"})
	var msg struct {
		Event string     `json:"event"`
		Data  race.Event `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "buy_item", msg.Event)
	require.Equal(t, int64(3), msg.Data.Seq)
	require.Equal(t, "alice", msg.Data.Sender)
}

func TestHubDropsClosedClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(nil, nil)
	go h.Run(ctx)
	srv := httptest.NewServer(h.ServeWSHandler())
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
