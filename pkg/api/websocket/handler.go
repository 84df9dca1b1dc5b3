package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aescanero/canvas/internal/application/orchestrator"
	"github.com/aescanero/canvas/pkg/domain"
)

const (
	// DefaultInterval is how often the record is re-read for a stream.
	DefaultInterval = 200 * time.Millisecond

	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Update is one message of a record stream
type Update struct {
	TaskID string         `json:"task_id"`
	Record *domain.Record `json:"record"`
	Final  bool           `json:"final"`
}

// Handler handles WebSocket connections
type Handler struct {
	manager  *orchestrator.Manager
	interval time.Duration
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *orchestrator.Manager, interval time.Duration, logger *zap.Logger) *Handler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Handler{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

// HandleTaskStream streams every new view of a task record until it is
// terminal, then closes the connection normally.
func (h *Handler) HandleTaskStream(c *gin.Context) {
	taskID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("task_id", taskID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// a client close or read error ends the stream
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err = h.manager.Watch(ctx, taskID, h.interval, func(rec *domain.Record) error {
		data, err := json.Marshal(Update{TaskID: taskID, Record: rec, Final: rec.Ready()})
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	})

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("task stream ended", zap.String("task_id", taskID), zap.Error(err))
		closeMsg = websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream failed")
	}
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
}
