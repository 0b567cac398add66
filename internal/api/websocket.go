package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/doc-summarizer/backend/internal/jobs"
)

// WebSocket message types for the job watch protocol
const (
	// Client -> Server messages
	MsgTypeJobWatch   = "job:watch"
	MsgTypeJobUnwatch = "job:unwatch"
	MsgTypePing       = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeAck       = "ack"
	MsgTypeProgress  = "progress"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSCompleteResponse carries the finished job and its text
type WSCompleteResponse struct {
	Job  *jobs.Job `json:"job"`
	Text string    `json:"text"`
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// WebSocketHandler pushes extraction job progress over WebSocket
type WebSocketHandler struct {
	jobs         JobManager
	upgrader     websocket.Upgrader
	logger       *zap.Logger
	pollInterval time.Duration
	watchTimeout time.Duration
}

// NewWebSocketHandler creates a new WebSocket progress handler
func NewWebSocketHandler(jobMgr JobManager, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		jobs:   jobMgr,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS is enforced by middleware for the HTTP API
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		pollInterval: 100 * time.Millisecond,
		watchTimeout: 10 * time.Minute,
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger
}

func (c *wsConn) send(msg WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.logger.Debug("failed to send websocket message", zap.String("type", msg.Type), zap.Error(err))
	}
}

func (c *wsConn) sendError(id, message, code, kind string) {
	c.send(WSMessage{
		Type:    MsgTypeError,
		ID:      id,
		Payload: mustJSON(WSErrorResponse{Message: message, Code: code, Kind: kind}),
	})
}

// HandleWebSocket upgrades the connection and serves job:watch requests
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	conn := &wsConn{ws: ws, logger: wsh.logger}
	ctx, cancel := context.WithCancel(c.Request().Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	watches := make(map[string]context.CancelFunc)
	defer func() {
		for _, stop := range watches {
			stop()
		}
	}()

	wsh.logger.Debug("websocket client connected", zap.String("remote", c.RealIP()))
	conn.send(WSMessage{Type: MsgTypeConnected})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsh.logger.Debug("websocket connection error", zap.Error(err))
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			conn.send(WSMessage{Type: MsgTypePong})
		case MsgTypeJobWatch:
			if msg.ID == "" {
				conn.sendError("", "job id required", "INVALID_PAYLOAD", "")
				continue
			}
			if _, ok := wsh.jobs.GetJob(msg.ID); !ok {
				conn.sendError(msg.ID, "job not found: "+msg.ID, "NOT_FOUND", "")
				continue
			}
			if _, watching := watches[msg.ID]; watching {
				conn.send(WSMessage{Type: MsgTypeAck, ID: msg.ID})
				continue
			}
			watchCtx, stop := context.WithCancel(ctx)
			watches[msg.ID] = stop
			conn.send(WSMessage{Type: MsgTypeAck, ID: msg.ID})
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				wsh.watchJob(watchCtx, conn, id)
			}(msg.ID)
		case MsgTypeJobUnwatch:
			if stop, ok := watches[msg.ID]; ok {
				stop()
				delete(watches, msg.ID)
			}
			conn.send(WSMessage{Type: MsgTypeAck, ID: msg.ID})
		default:
			conn.sendError(msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE", "")
		}
	}

	wsh.logger.Debug("websocket client disconnected")
	return nil
}

// watchJob pushes progress for one job until it finishes or ctx ends.
func (wsh *WebSocketHandler) watchJob(ctx context.Context, conn *wsConn, id string) {
	ticker := time.NewTicker(wsh.pollInterval)
	defer ticker.Stop()
	timeout := time.NewTimer(wsh.watchTimeout)
	defer timeout.Stop()

	var last *jobs.Job
	for {
		job, ok := wsh.jobs.GetJob(id)
		if !ok {
			conn.sendError(id, "job not found: "+id, "NOT_FOUND", "")
			return
		}

		switch job.Status {
		case jobs.StatusComplete:
			text, _ := wsh.jobs.GetText(id)
			conn.send(WSMessage{Type: MsgTypeComplete, ID: id, Payload: mustJSON(WSCompleteResponse{Job: job, Text: text})})
			return
		case jobs.StatusError:
			conn.sendError(id, job.Error, "EXTRACTION_FAILED", job.ErrorKind)
			return
		}

		if last == nil || changed(last, job) {
			conn.send(WSMessage{Type: MsgTypeProgress, ID: id, Payload: mustJSON(job)})
			last = job
		}

		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			conn.sendError(id, "watch timeout", "TIMEOUT", "")
			return
		case <-ticker.C:
		}
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
