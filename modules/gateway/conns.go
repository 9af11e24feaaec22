package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"

	"github.com/example/campus-presence/modules/presence"
)

// ConnTable maps connection ids to live websocket connections and
// implements presence.Sender. Fiber websocket connections are not safe for
// concurrent writes, so each entry serializes its own writer.
type ConnTable struct {
	mu     sync.RWMutex
	conns  map[string]*wsConn
	logger *slog.Logger
}

type wsConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewConnTable creates an empty connection table.
func NewConnTable(logger *slog.Logger) *ConnTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnTable{
		conns:  make(map[string]*wsConn),
		logger: logger.With(slog.String("component", "conn_table")),
	}
}

var _ presence.Sender = (*ConnTable)(nil)

// Add registers a live connection under its id.
func (t *ConnTable) Add(connID string, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[connID] = &wsConn{id: connID, conn: conn}
}

// Remove drops a connection from the table. The websocket itself is closed
// by the read loop that owns it.
func (t *ConnTable) Remove(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, connID)
}

// Send marshals and writes one outbound event to one connection. A write
// failure is logged and dropped: the read loop will observe the broken
// connection and run disconnect cleanup.
func (t *ConnTable) Send(connID string, event presence.Outbound) {
	t.mu.RLock()
	wc, ok := t.conns[connID]
	t.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.logger.Error("Failed to marshal outbound event",
			"connID", connID, "type", event.Type, "error", err)
		return
	}

	wc.mu.Lock()
	defer wc.mu.Unlock()
	if err := wc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logger.Warn("Failed to write to connection",
			"connID", connID, "type", event.Type, "error", err)
	}
}

// Count returns the number of live connections.
func (t *ConnTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// CloseAll closes every connection. Used during shutdown.
func (t *ConnTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, wc := range t.conns {
		_ = wc.conn.Close()
	}
	t.conns = make(map[string]*wsConn)
}
