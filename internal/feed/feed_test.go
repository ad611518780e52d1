package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osfoffline/osfsync/internal/logging"
	"github.com/osfoffline/osfsync/internal/mirror/events"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(&Config{Listen: "127.0.0.1:0", Logger: logging.Discard()})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dial(t *testing.T, ctx context.Context, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	require.Eventually(t, func() bool { return s.ClientCount() > 0 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func read(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer(&Config{Listen: "127.0.0.1:0", Logger: logging.Discard()})
	require.NoError(t, s.Start())
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())
	require.NoError(t, s.Stop())
}

func TestServer_BroadcastsChanges(t *testing.T) {
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, s)

	n := events.NewMoved("/root/P/a.txt", "/root/P/b.txt", false)
	n.Seq = 7
	s.Broadcast(NewChange(n, "applied", nil))

	msg := read(t, ctx, conn)
	assert.Equal(t, TypeChange, msg.Type)

	var d ChangeData
	require.NoError(t, json.Unmarshal(msg.Data, &d))
	assert.Equal(t, ChangeData{
		Seq: 7, Kind: "moved", Path: "/root/P/a.txt", Dest: "/root/P/b.txt", Result: "applied",
	}, d)
}

func TestServer_WelcomeStats(t *testing.T) {
	s := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Broadcast(NewStats(map[string]int{"files": 3}))
	conn := dial(t, ctx, s)

	msg := read(t, ctx, conn)
	assert.Equal(t, TypeStats, msg.Type)
	assert.JSONEq(t, `{"files":3}`, string(msg.Data))
}

func TestNewSweep(t *testing.T) {
	msg := NewSweep(4, time.Second, errors.New("sync root does not exist"))
	assert.Equal(t, TypeSweep, msg.Type)

	var d SweepData
	require.NoError(t, json.Unmarshal(msg.Data, &d))
	assert.Equal(t, 4, d.Planned)
	assert.Equal(t, time.Second, d.Duration)
	assert.Equal(t, "sync root does not exist", d.Error)
}
