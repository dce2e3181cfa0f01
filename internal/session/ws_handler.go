package session

import (
	"fmt"

	"github.com/flashpay/pos-terminald/internal/websocket"
	"github.com/flashpay/pos-terminald/pkg/logger"
)

// WebSocketHandler pushes reconciler state to the UI over the websocket hub
// and answers on-demand snapshot requests.
type WebSocketHandler struct {
	reconciler *Reconciler
	logger     *logger.Logger
}

// NewWebSocketHandler creates a new WebSocket message handler
func NewWebSocketHandler(reconciler *Reconciler, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		reconciler: reconciler,
		logger:     log.Named("session-ws"),
	}
}

// HandleMessage handles incoming WebSocket messages from UI clients
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeStateRequest:
		client.SendMessage(stateMessage(h.reconciler.Snapshot()))
		return nil
	default:
		return fmt.Errorf("unknown message type: %s", messageType)
	}
}

// StartBroadcasting registers a reconciler observer that pushes every state
// transition to all connected UI clients. Returns the unsubscribe function.
func (h *WebSocketHandler) StartBroadcasting(server *websocket.Server) func() {
	return h.reconciler.Subscribe(func(state State) {
		server.Broadcast(stateMessage(state))
	})
}

func stateMessage(state State) *websocket.Message {
	return &websocket.Message{
		Type: websocket.MessageTypeState,
		Data: map[string]any{
			"state":       state,
			"buyer_state": DeriveBuyerState(state.ActiveSession),
		},
	}
}
