package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AppRegistry/internal/domain/feed"
	"github.com/GriffinCanCode/AppRegistry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AppRegistry/internal/shared/types"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
	maxMessage = 4096
)

// Message types sent to clients.
const (
	TypeSystem = "system"
	TypeEvent  = "event"
	TypePong   = "pong"
	TypeError  = "error"
)

// Feed is the change feed a connection subscribes to.
type Feed interface {
	Subscribe(h feed.Handler) (*feed.Subscription, error)
	Unsubscribe(sub *feed.Subscription)
}

// Envelope wraps all WebSocket messages.
type Envelope struct {
	Type      string       `json:"type"`
	ClientID  string       `json:"client_id,omitempty"`
	Message   string       `json:"message,omitempty"`
	Event     *types.Event `json:"event,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

type inbound struct {
	Type string `json:"type"`
}

// Handler streams registry change events over WebSocket.
type Handler struct {
	feed     Feed
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler. checkOrigin may be nil to
// accept every origin.
func NewHandler(f Feed, metrics *monitoring.Metrics, logger *zap.Logger, checkOrigin func(*http.Request) bool) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		feed:    f,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

// client is one connected WebSocket peer.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// offer queues data without blocking. A full buffer disconnects the client.
func (c *client) offer(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.close()
		return false
	}
}

// HandleConnection upgrades the request and streams events until the peer
// disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	log := h.logger.With(zap.String("client_id", cl.id))

	sub, err := h.feed.Subscribe(func(evt types.Event) {
		if data, ok := h.encode(Envelope{Type: TypeEvent, Event: &evt}); ok && !cl.offer(data) {
			log.Warn("Dropping slow WebSocket client")
		}
	})
	if err != nil {
		log.Warn("Change feed unavailable", zap.Error(err))
		h.writeNow(conn, Envelope{Type: TypeError, Message: "change feed unavailable"})
		conn.Close()
		return
	}

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}
	log.Debug("WebSocket client connected")

	if data, ok := h.encode(Envelope{Type: TypeSystem, ClientID: cl.id, Message: "subscribed to registry changes"}); ok {
		cl.offer(data)
	}

	// A closed feed ends the connection too
	go func() {
		select {
		case <-sub.Done():
			cl.close()
		case <-cl.done:
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(cl)
	}()

	h.readLoop(cl)

	h.feed.Unsubscribe(sub)
	cl.close()
	<-writerDone
	conn.Close()
	log.Debug("WebSocket client disconnected")
}

func (h *Handler) readLoop(cl *client) {
	cl.conn.SetReadLimit(maxMessage)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := cl.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.String("client_id", cl.id), zap.Error(err))
			}
			return
		}
		h.record("in", msg.Type)

		var reply Envelope
		switch msg.Type {
		case "ping":
			reply = Envelope{Type: TypePong}
		default:
			reply = Envelope{Type: TypeError, Message: "unknown message type"}
		}
		if data, ok := h.encode(reply); ok && !cl.offer(data) {
			return
		}
	}
}

func (h *Handler) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				cl.close()
				cl.conn.Close()
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.close()
				cl.conn.Close()
				return
			}
		case <-cl.done:
			// Unblocks the reader if the close came from a slow send
			cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			cl.conn.Close()
			return
		}
	}
}

func (h *Handler) encode(env Envelope) ([]byte, bool) {
	env.Timestamp = time.Now().Unix()
	data, err := sonic.Marshal(env)
	if err != nil {
		h.logger.Error("Failed to encode WebSocket message", zap.Error(err))
		return nil, false
	}
	h.record("out", env.Type)
	return data, true
}

func (h *Handler) writeNow(conn *websocket.Conn, env Envelope) {
	if data, ok := h.encode(env); ok {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, data)
	}
}

func (h *Handler) record(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}
