package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ludo-service/internal/middleware"
	"ludo-service/internal/service/table"
	pkgAuth "ludo-service/pkg/auth"
	appErr "ludo-service/pkg/errors"
	"ludo-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const actionTimeout = 10 * time.Second

type Handler struct {
	tables *table.Service
}

func NewHandler(tables *table.Service) *Handler {
	return &Handler{tables: tables}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// HandleSessionWS seats the caller (or hands their seat back) and streams
// the session until the connection drops. Callers that cannot take a seat
// stay on as viewers.
func (h *Handler) HandleSessionWS(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	token, err := getTokenFromRequest(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	claims, err := pkgAuth.ParseUserToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	userID := claims.SubjectID

	if _, err := h.tables.Snapshot(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, appErr.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}

	seat := -1
	if raw := c.Query("seat"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seat"})
			return
		}
		seat = parsed
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	logger.Log.Info("New WebSocket connection",
		zap.String("sessionID", sessionID),
		zap.Int64("userID", userID),
		zap.String("conn", connID),
	)

	client := newClient(conn, h.tables, sessionID, connID, userID)
	client.join(table.JoinRequest{
		SessionID: sessionID,
		UserID:    userID,
		Name:      strings.TrimSpace(c.Query("name")),
		IP:        c.ClientIP(),
		Seat:      seat,
		Conn:      connID,
	})
	client.run()
}

func getTokenFromRequest(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token != "" {
		return token, nil
	}
	return middleware.ExtractBearerToken(c.GetHeader("Authorization"))
}

type client struct {
	conn      *websocket.Conn
	tables    *table.Service
	sessionID string
	connID    string
	userID    int64
	outbound  <-chan table.OutgoingMessage
	done      chan struct{}
	pingEvery time.Duration
}

func newClient(conn *websocket.Conn, tables *table.Service, sessionID, connID string, userID int64) *client {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return &client{
		conn:      conn,
		tables:    tables,
		sessionID: sessionID,
		connID:    connID,
		userID:    userID,
		outbound:  tables.Subscribe(sessionID, connID),
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
	}
}

func (c *client) join(req table.JoinRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	if _, err := c.tables.Join(ctx, req); err != nil {
		c.sendError(err)
		c.sync(ctx)
	}
}

func (c *client) run() {
	go c.writePump()
	c.readPump()
}

type incomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type movePayload struct {
	PieceID *int `json:"pieceId"`
	Cell    int  `json:"cell"`
}

func (c *client) readPump() {
	hard := false
	defer func() {
		close(c.done)
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		c.tables.Disconnect(ctx, c.sessionID, c.connID, hard)
		cancel()
		c.tables.Unsubscribe(c.sessionID, c.connID)
		c.conn.Close()
	}()

	for {
		mt, message, err := c.conn.ReadMessage()
		if err != nil {
			hard = websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			logger.Log.Info("WS read error",
				zap.Error(err),
				zap.Bool("hard", hard),
				zap.Int64("userID", c.userID),
				zap.String("sessionID", c.sessionID),
			)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming incomingMessage
		if err := json.Unmarshal(message, &incoming); err != nil {
			c.send(table.OutgoingMessage{Type: "error", Data: gin.H{"message": "invalid payload"}})
			continue
		}
		if incoming.Type == "" {
			continue
		}
		c.handle(incoming)
	}
}

func (c *client) handle(msg incomingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case "roll":
		_, err = c.tables.Roll(ctx, c.sessionID, c.connID)
	case "move":
		var payload movePayload
		if jsonErr := json.Unmarshal(msg.Data, &payload); jsonErr != nil {
			c.send(table.OutgoingMessage{Type: "error", Data: gin.H{"message": "invalid move payload"}})
			return
		}
		pieceID := -1
		if payload.PieceID != nil {
			pieceID = *payload.PieceID
		}
		_, err = c.tables.Move(ctx, c.sessionID, c.connID, pieceID, payload.Cell)
	case "sync":
		c.sync(ctx)
	case "ping":
		c.send(table.OutgoingMessage{Type: "pong", Data: gin.H{"message": "pong"}})
	default:
		c.send(table.OutgoingMessage{Type: "error", Data: gin.H{"message": "unsupported action"}})
	}
	if err != nil {
		c.sendError(err)
	}
}

func (c *client) sync(ctx context.Context) {
	snap, err := c.tables.Snapshot(ctx, c.sessionID)
	if err != nil {
		c.sendError(err)
		return
	}
	c.send(table.OutgoingMessage{Type: "state", Seq: snap.Seq, Data: *snap})
}

func (c *client) sendError(err error) {
	kind := "transient"
	switch {
	case appErr.IsRejected(err):
		kind = "rejected"
	case appErr.IsInvariant(err):
		kind = "invariant"
	}
	c.send(table.OutgoingMessage{
		Type: "error",
		Data: gin.H{"message": err.Error(), "kind": kind},
	})
}

// send goes through the subscriber channel so writePump stays the only writer.
func (c *client) send(msg table.OutgoingMessage) {
	c.tables.Send(c.sessionID, c.connID, msg)
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Log.Info("WS write error",
					zap.Error(err),
					zap.Int64("userID", c.userID),
					zap.String("sessionID", c.sessionID),
				)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
