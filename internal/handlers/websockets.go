package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"nutrient_mixer/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMsgSize       = 1 << 12 // 4 KB
	defaultInterval  = 1 * time.Second
	maxInterval      = 10 * time.Second
	maxIntervalMilli = 10_000
)

type wsEnvelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// statusFrame is the payload of every "status" message.
type statusFrame struct {
	Jobs []models.Job       `json:"jobs"`
	Rig  models.RigSnapshot `json:"rig"`
}

// The rig API is served on the local network only.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// @Summary      Status stream
// @Description  WebSocket upgrade. Sends {"type":"status","data":{"jobs":[...],"rig":{...}}} right away and then every interval (?interval=500ms or ?interval_ms=500, at most 10s).
// @Tags         system
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	interval := parseInterval(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.drain(conn, done)

	if err := h.streamStatus(c.Request.Context(), conn, interval, done); err != nil && h.log != nil {
		h.log.Infow("ws_write_failed", "err", err)
	}
}

// streamStatus writes one frame immediately and then one per interval, with
// pings in between, until the peer goes away or a write fails.
func (h *Handler) streamStatus(ctx context.Context, conn *websocket.Conn, interval time.Duration, done <-chan struct{}) error {
	frames := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer frames.Stop()
	defer ping.Stop()

	if err := h.sendStatus(conn); err != nil {
		return err
	}
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-frames.C:
			if err := h.sendStatus(conn); err != nil {
				return err
			}
		}
	}
}

// parseInterval reads ?interval=2s or ?interval_ms=2000; out-of-range or
// unparsable values fall back to the default.
func parseInterval(c *gin.Context) time.Duration {
	if s := c.Query("interval"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 && d <= maxInterval {
			return d
		}
	}
	if ms := c.Query("interval_ms"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 && v <= maxIntervalMilli {
			return time.Duration(v) * time.Millisecond
		}
	}
	return defaultInterval
}

// drain reads and discards client frames so control frames are handled and
// a closed peer is noticed.
func (h *Handler) drain(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Debugw("ws_read_closed", "err", err)
			}
			return
		}
	}
}

func (h *Handler) sendStatus(conn *websocket.Conn) error {
	frame := statusFrame{
		Jobs: h.services.Jobs.Active(),
		Rig:  h.services.Monitoring.Snapshot(),
	}
	if frame.Jobs == nil {
		frame.Jobs = []models.Job{}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(wsEnvelope{Type: "status", Data: frame})
}
