package dev

import (
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/pages/internal/metrics"
)

// ReloadPath is the websocket endpoint browsers connect to.
const ReloadPath = "/_pages/reload"

// MessageChange tells browsers to reload the page.
const MessageChange = "change"

const writeWait = 5 * time.Second

// ErrClientClosed is returned by Send on a closed client.
var ErrClientClosed = stderrors.New("dev: reload client closed")

// Client is one live-reload connection.
type Client interface {
	ID() string
	Send(message string) error
	Close() error
}

// wsClient is a Client backed by a websocket connection.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{id: uuid.NewString(), conn: conn}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(message))
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// ReloadServer tracks connected browsers and broadcasts reload messages.
type ReloadServer struct {
	clients  map[string]Client
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	metrics  *metrics.Collector

	onConnect    []func(Client)
	onDisconnect []func(Client)
}

// NewReloadServer creates a new reload server. m may be nil.
func NewReloadServer(m *metrics.Collector) *ReloadServer {
	return &ReloadServer{
		clients: make(map[string]Client),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in dev
			},
		},
	}
}

// OnConnect registers fn to run for every new client.
func (r *ReloadServer) OnConnect(fn func(Client)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = append(r.onConnect, fn)
}

// OnDisconnect registers fn to run once for every client that leaves,
// whether it disconnected or was dropped by a failed send.
func (r *ReloadServer) OnDisconnect(fn func(Client)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, fn)
}

// Subscribe adds c to the channel. The returned func removes it and is
// safe to call more than once.
func (r *ReloadServer) Subscribe(c Client) (unsubscribe func()) {
	r.mu.Lock()
	r.clients[c.ID()] = c
	hooks := append([]func(Client){}, r.onConnect...)
	n := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetReloadClients(n)
	for _, fn := range hooks {
		fn(c)
	}
	return func() { r.remove(c) }
}

// remove drops c and runs the disconnect hooks if c was still a member.
func (r *ReloadServer) remove(c Client) {
	r.mu.Lock()
	cur, ok := r.clients[c.ID()]
	if !ok || cur != c {
		r.mu.Unlock()
		return
	}
	delete(r.clients, c.ID())
	hooks := append([]func(Client){}, r.onDisconnect...)
	n := len(r.clients)
	r.mu.Unlock()

	r.metrics.SetReloadClients(n)
	for _, fn := range hooks {
		fn(c)
	}
}

// HandleWebSocket upgrades the request and keeps the client subscribed
// until it disconnects.
func (r *ReloadServer) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	client := newWSClient(conn)
	unsubscribe := r.Subscribe(client)

	// Keep connection alive until client disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	unsubscribe()
	client.Close()
}

// Broadcast sends message to a snapshot of the connected clients and
// returns how many received it. Clients whose send fails are closed and
// removed; the others are unaffected.
func (r *ReloadServer) Broadcast(message string) int {
	r.mu.RLock()
	clients := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range clients {
		if err := c.Send(message); err != nil {
			r.remove(c)
			c.Close()
			continue
		}
		delivered++
	}
	r.metrics.RecordBroadcast()
	return delivered
}

// ClientCount returns the number of connected clients.
func (r *ReloadServer) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close closes all client connections.
func (r *ReloadServer) Close() {
	r.mu.RLock()
	clients := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		r.remove(c)
		c.Close()
	}
}

// DevClientScript is appended to every HTML response in development.
// It reloads the page on "change" and reconnects with backoff.
const DevClientScript = `<script>
(function() {
    'use strict';

    var reconnectDelay = 1000;
    var maxReconnectDelay = 30000;

    function connect() {
        var protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
        var ws = new WebSocket(protocol + '//' + location.host + '` + ReloadPath + `');

        ws.onopen = function() {
            reconnectDelay = 1000;
        };

        ws.onmessage = function(e) {
            if (e.data === '` + MessageChange + `') {
                location.reload();
            }
        };

        ws.onclose = function() {
            setTimeout(function() {
                reconnectDelay = Math.min(reconnectDelay * 2, maxReconnectDelay);
                connect();
            }, reconnectDelay);
        };

        ws.onerror = function() {
            ws.close();
        };
    }

    connect();
})();
</script>
`
