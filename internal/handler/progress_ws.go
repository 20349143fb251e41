package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"exportalpha/internal/engine"
	"exportalpha/internal/run"
)

// ProgressHandler streams run status over a websocket so a UI can follow a
// long pass without polling.
type ProgressHandler struct {
	Registry *run.Registry
	Logger   *zap.Logger
	Interval time.Duration
}

func (h *ProgressHandler) Register(r *gin.Engine) {
	r.GET("/api/backtest/progress/ws", h.stream)
}

type progressFrame struct {
	RunID  string        `json:"run_id,omitempty"`
	Status engine.Status `json:"status"`
}

func (h *ProgressHandler) stream(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		Error(c, http.StatusBadRequest, "websocket upgrade failed", nil)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	interval := h.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		frame := progressFrame{Status: engine.Status{State: engine.StateIdle}}
		if r, err := h.Registry.Current(); err == nil {
			frame.RunID = r.ID
			frame.Status = r.Sim.Status()
		}

		if err := wsjson.Write(ctx, conn, frame); err != nil {
			return
		}
		// Send the terminal state once, then close.
		if frame.Status.State == engine.StateCompleted || frame.Status.State == engine.StateFailed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
