package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterje/obsidianki-mcp/internal/control"
	"github.com/peterje/obsidianki-mcp/internal/registry"
)

func dialTestHandler(t *testing.T) *websocket.Conn {
	t.Helper()
	ctrl := control.New(control.Config{
		Command:   "sh",
		Grace:     300 * time.Millisecond,
		PollGrace: 50 * time.Millisecond,
		StopGrace: 2 * time.Second,
	}, registry.New(), nil)
	ts := httptest.NewServer(NewHandler(ctrl))

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		if sess := ctrl.Registry().Current(); sess != nil {
			sess.Kill()
		}
		ts.Close()
	})
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, req Request) Response {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func TestControlChannelRun(t *testing.T) {
	conn := dialTestHandler(t)

	resp := roundTrip(t, conn, Request{
		Op:             "run",
		TimeoutSeconds: 10,
	}.withScript(`echo over-ws`))
	assert.Empty(t, resp.Error)
	assert.Equal(t, "run", resp.Op)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, result["timed_out"])
}

func TestControlChannelLifecycle(t *testing.T) {
	conn := dialTestHandler(t)

	resp := roundTrip(t, conn, Request{Op: "start"}.withScript(`read line; echo "ws:$line"`))
	require.Empty(t, resp.Error)

	resp = roundTrip(t, conn, Request{Op: "input", Response: "Y"})
	require.Empty(t, resp.Error)

	resp = roundTrip(t, conn, Request{Op: "stop"})
	assert.Empty(t, resp.Error)
}

func TestControlChannelErrors(t *testing.T) {
	conn := dialTestHandler(t)

	resp := roundTrip(t, conn, Request{Op: "input", Response: "Y"})
	assert.Equal(t, "no active process", resp.Error)

	resp = roundTrip(t, conn, Request{Op: "bogus"})
	assert.Contains(t, resp.Error, "unknown op")
}

// withScript stuffs a shell script into the raw-args passthrough so tests
// can drive the controller with sh.
func (r Request) withScript(script string) Request {
	r.ExtraArgs = []string{"-c", script}
	return r
}
