package adapter

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// EmbeddedHostAdapter is the in-process "embedded host" transport adapter
// named in the Domain Stack table: a minimal coder/websocket endpoint used
// by tests and local tooling to exercise the Adapter lifecycle end-to-end
// without standing up a real Discord/Telegram bot account. Every inbound
// text frame is treated as a chat message from a single fixed peer and
// handed to HandleMessage exactly like a platform webhook would.
//
// Grounded on internal/gateway/server.go's upgrader+per-connection-loop
// shape, narrowed from that file's full multi-client router to one
// connection at a time (an embedded test host has no concurrent-client
// concern to solve).
type EmbeddedHostAdapter struct {
	id string

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	conn     *websocket.Conn
	status   Status
	handler  func(ctx context.Context, chatID, channelType, senderID, content string) error
}

var _ Adapter = (*EmbeddedHostAdapter)(nil)

// NewEmbeddedHostAdapter builds an embedded-host adapter. addr is not used:
// Start always listens on 127.0.0.1 on a port the OS picks.
func NewEmbeddedHostAdapter(id, addr string) *EmbeddedHostAdapter {
	return &EmbeddedHostAdapter{id: id, status: StatusDisabled}
}

func (a *EmbeddedHostAdapter) ID() string              { return a.id }
func (a *EmbeddedHostAdapter) DisplayName() string      { return "Embedded Host" }
func (a *EmbeddedHostAdapter) SubjectPrefixes() []string { return []string{"relay.adapter." + a.id} }

// Configure accepts {"addr": "host:port"} and only checks that it parses; the
// address is not used, and the embedded host has no platform credentials to
// validate.
func (a *EmbeddedHostAdapter) Configure(raw json.RawMessage) error {
	var cfg struct {
		Addr string `json:"addr"`
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &cfg)
}

// Start opens a single-connection websocket listener on an ephemeral local
// port. Addr() returns the bound address once Start has run.
func (a *EmbeddedHostAdapter) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		a.mu.Lock()
		a.conn = c
		a.mu.Unlock()
		a.readLoop(r.Context(), c)
	})

	srv := &http.Server{Handler: mux}
	a.mu.Lock()
	a.listener = ln
	a.server = srv
	a.status = StatusConnected
	a.mu.Unlock()

	go srv.Serve(ln)
	return nil
}

// Addr returns the bound "host:port" once Start has completed, or "" if the
// adapter hasn't started.
func (a *EmbeddedHostAdapter) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

func (a *EmbeddedHostAdapter) readLoop(ctx context.Context, c *websocket.Conn) {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		a.mu.Lock()
		handler := a.handler
		a.mu.Unlock()
		if handler != nil {
			_ = handler(ctx, "embedded", "embedded", "local", string(data))
		}
	}
}

// Stop closes the listener and any live connection.
func (a *EmbeddedHostAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		_ = a.conn.Close(websocket.StatusNormalClosure, "adapter stopped")
		a.conn = nil
	}
	if a.server != nil {
		_ = a.server.Close()
		a.server = nil
	}
	a.status = StatusDisconnected
	return nil
}

// HandleMessage writes content as a text frame to the currently connected
// peer, if any (egress direction: Relay delivering a message out to the
// embedded test client).
func (a *EmbeddedHostAdapter) HandleMessage(ctx context.Context, chatID, channelType, senderID, content string) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Write(ctx, websocket.MessageText, []byte(content))
}

// OnInbound registers the callback invoked for every inbound text frame.
// Tests use this to assert the adapter publishes onto Relay the same way
// the Discord/Telegram adapters do.
func (a *EmbeddedHostAdapter) OnInbound(fn func(ctx context.Context, chatID, channelType, senderID, content string) error) {
	a.mu.Lock()
	a.handler = fn
	a.mu.Unlock()
}
