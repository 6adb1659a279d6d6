package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/relayhub/relay-service/internal/dispatch"
	"github.com/relayhub/relay-service/internal/domain/registry"
)

// writeWait bounds a single socket write so the pump detects a wedged peer
// instead of hanging on it.
const writeWait = 5 * time.Second

// WSHandler accepts duplex client sessions: upgrade, register with the hub,
// then hand the connection to the dispatcher until it closes.
type WSHandler struct {
	logger     *slog.Logger
	hub        registry.Hubber
	dispatcher *dispatch.Dispatcher
	upgrader   websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, hub registry.Hubber, dispatcher *dispatch.Dispatcher) *WSHandler {
	return &WSHandler{
		logger:     logger,
		hub:        hub,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	clientType := r.URL.Query().Get("clientType")

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}

	conn := h.hub.Add(&wsTransport{sock: sock}, clientID, clientType)
	h.logger.Info("ws opened", "conn_id", conn.ID(), "client_id", clientID, "client_type", clientType)

	// Run blocks for the whole session and deregisters the connection on
	// exit, which also closes the socket.
	h.dispatcher.Run(r.Context(), conn)

	h.logger.Info("ws closed", "conn_id", conn.ID())
}

// wsTransport adapts a gorilla socket to the registry transport contract.
// The registry entry is its sole owner: reads happen on the dispatcher
// loop, writes on the connection's write pump.
type wsTransport struct {
	sock *websocket.Conn
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := t.sock.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
		// Control frames are handled by gorilla; anything else is ignored.
	}
}

func (t *wsTransport) WriteMessage(frame []byte) error {
	if err := t.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return t.sock.WriteMessage(websocket.TextMessage, frame)
}

func (t *wsTransport) Close() error {
	// Best-effort close handshake; the peer may already be gone.
	deadline := time.Now().Add(time.Second)
	_ = t.sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.sock.Close()
}
