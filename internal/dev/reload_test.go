package dev

import (
	stderrors "errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id     string
	mu     sync.Mutex
	msgs   []string
	closed bool
	onSend func() error
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(message string) error {
	if c.onSend != nil {
		if err := c.onSend(); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestSubscribeHooks(t *testing.T) {
	r := NewReloadServer(nil)

	var connected, disconnected []string
	r.OnConnect(func(c Client) { connected = append(connected, c.ID()) })
	r.OnDisconnect(func(c Client) { disconnected = append(disconnected, c.ID()) })

	unsubscribe := r.Subscribe(&fakeClient{id: "a"})
	assert.Equal(t, 1, r.ClientCount())
	assert.Equal(t, []string{"a"}, connected)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, r.ClientCount())
	assert.Equal(t, []string{"a"}, disconnected)
}

func TestBroadcastDropsFailedClient(t *testing.T) {
	r := NewReloadServer(nil)
	a := &fakeClient{id: "a"}
	b := &fakeClient{id: "b", onSend: func() error { return stderrors.New("broken pipe") }}
	c := &fakeClient{id: "c"}

	var disconnected []string
	r.OnDisconnect(func(cl Client) { disconnected = append(disconnected, cl.ID()) })
	for _, cl := range []*fakeClient{a, b, c} {
		r.Subscribe(cl)
	}

	delivered := r.Broadcast(MessageChange)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{MessageChange}, a.Messages())
	assert.Equal(t, []string{MessageChange}, c.Messages())
	assert.Empty(t, b.Messages())
	assert.True(t, b.closed)
	assert.Equal(t, 2, r.ClientCount())
	assert.Equal(t, []string{"b"}, disconnected)

	// later broadcasts reach the remaining clients only
	assert.Equal(t, 2, r.Broadcast(MessageChange))
}

func TestBroadcastClientDisconnectsMidBroadcast(t *testing.T) {
	r := NewReloadServer(nil)
	a := &fakeClient{id: "a"}
	c := &fakeClient{id: "c"}
	b := &fakeClient{id: "b"}

	var unsubscribeB func()
	b.onSend = func() error {
		unsubscribeB()
		return websocket.ErrCloseSent
	}

	r.Subscribe(a)
	unsubscribeB = r.Subscribe(b)
	r.Subscribe(c)

	disconnects := 0
	r.OnDisconnect(func(Client) { disconnects++ })

	assert.NotPanics(t, func() {
		assert.Equal(t, 2, r.Broadcast(MessageChange))
	})
	assert.Equal(t, []string{MessageChange}, a.Messages())
	assert.Equal(t, []string{MessageChange}, c.Messages())
	assert.Equal(t, 2, r.ClientCount())
	assert.Equal(t, 1, disconnects)
}

func TestReloadServerClose(t *testing.T) {
	r := NewReloadServer(nil)
	a := &fakeClient{id: "a"}
	b := &fakeClient{id: "b"}
	r.Subscribe(a)
	r.Subscribe(b)

	r.Close()
	assert.Equal(t, 0, r.ClientCount())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, r.Broadcast(MessageChange))
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + ReloadPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHandleWebSocket(t *testing.T) {
	r := NewReloadServer(nil)
	srv := httptest.NewServer(NewHandler(HandlerOptions{Static: NewRouter(RouterOptions{}), Reload: r}))
	defer srv.Close()

	conns := []*websocket.Conn{dial(t, srv), dial(t, srv), dial(t, srv)}
	require.Eventually(t, func() bool { return r.ClientCount() == 3 }, 2*time.Second, 10*time.Millisecond)

	conns[1].Close()
	require.Eventually(t, func() bool { return r.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, r.Broadcast(MessageChange))
	for _, conn := range []*websocket.Conn{conns[0], conns[2]} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		typ, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, typ)
		assert.Equal(t, MessageChange, string(data))
		conn.Close()
	}
}

func TestDevClientScript(t *testing.T) {
	assert.Contains(t, DevClientScript, ReloadPath)
	assert.Contains(t, DevClientScript, "'"+MessageChange+"'")
	assert.True(t, strings.HasPrefix(DevClientScript, "<script>"))
}
