package table

import (
	"sync"

	"ludo-service/pkg/logger"

	"go.uber.org/zap"
)

const subscriberBuffer = 8

type OutgoingMessage struct {
	Type string      `json:"type"`
	Seq  int64       `json:"seq"`
	Data interface{} `json:"data"`
}

// hub fans messages out to the connections watching each session. A full
// subscriber drops the message; the next state carries everything anyway.
type hub struct {
	mu          sync.Mutex
	subscribers map[string]map[string]chan OutgoingMessage
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]map[string]chan OutgoingMessage)}
}

func (h *hub) subscribe(sessionID, conn string) <-chan OutgoingMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.subscribers[sessionID]
	if !ok {
		conns = make(map[string]chan OutgoingMessage)
		h.subscribers[sessionID] = conns
	}
	if old, ok := conns[conn]; ok {
		close(old)
	}
	ch := make(chan OutgoingMessage, subscriberBuffer)
	conns[conn] = ch
	return ch
}

func (h *hub) unsubscribe(sessionID, conn string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.subscribers[sessionID]
	if !ok {
		return
	}
	if ch, ok := conns[conn]; ok {
		delete(conns, conn)
		close(ch)
	}
	if len(conns) == 0 {
		delete(h.subscribers, sessionID)
	}
}

func (h *hub) broadcast(sessionID string, msg OutgoingMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, ch := range h.subscribers[sessionID] {
		h.pushLocked(sessionID, conn, ch, msg)
	}
}

func (h *hub) send(sessionID, conn string, msg OutgoingMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.subscribers[sessionID][conn]; ok {
		h.pushLocked(sessionID, conn, ch, msg)
	}
}

func (h *hub) count(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[sessionID])
}

func (h *hub) pushLocked(sessionID, conn string, ch chan OutgoingMessage, msg OutgoingMessage) {
	select {
	case ch <- msg:
	default:
		logger.Log.Warn("ws subscriber channel full",
			zap.String("sessionID", sessionID),
			zap.String("conn", conn),
			zap.String("type", msg.Type),
		)
	}
}
