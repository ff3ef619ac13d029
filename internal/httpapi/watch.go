package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"auralis/internal/calls"
	"auralis/internal/metrics"
	"auralis/internal/poller"
	"auralis/pkg/logger"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPingPeriod = 30 * time.Second
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Gated by the bearer token, not the origin.
		return true
	},
}

type watchMessage struct {
	Type  string            `json:"type"`
	Cause poller.Cause      `json:"cause,omitempty"`
	Call  *calls.CallRecord `json:"call,omitempty"`
	Error string            `json:"error,omitempty"`
}

type watchCommand struct {
	Action string `json:"action"`
}

// WatchCall streams a call's status over a websocket until it ends. The
// client may send {"action":"end"} to end the call.
func (h Handlers) WatchCall(c *gin.Context) {
	callID := c.Param("id")
	log := logger.FromGin(c).With("call_id", callID)

	if _, err := h.Calls.Get(c.Request.Context(), callID); err != nil {
		WriteError(c, err)
		return
	}

	conn, err := watchUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("watch upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	metrics.ActiveWatchers.Inc()
	defer metrics.ActiveWatchers.Dec()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var wmu sync.Mutex
	write := func(fn func() error) {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
		if err := fn(); err != nil {
			log.Debug("watch write failed", "error", err)
			cancel()
		}
	}
	send := func(m watchMessage) { write(func() error { return conn.WriteJSON(m) }) }

	ended := make(chan struct{})
	p := poller.New(h.Calls, h.Poll, log)
	p.OnChange(func(rec *calls.CallRecord) { send(watchMessage{Type: "status", Call: rec}) })
	err = p.Start(ctx, callID, func(res poller.Result) {
		m := watchMessage{Type: "ended", Cause: res.Cause, Call: res.Record}
		if res.Err != nil {
			m.Error = res.Err.Error()
		}
		send(m)
		close(ended)
	})
	if err != nil {
		log.Error("watch start failed", "error", err)
		return
	}

	go func() {
		for {
			var cmd watchCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				cancel()
				return
			}
			if cmd.Action == "end" {
				if _, err := p.EndManually(ctx); err != nil {
					send(watchMessage{Type: "error", Error: err.Error()})
				}
			}
		}
	}()

	ticker := time.NewTicker(watchPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ended:
			write(func() error {
				return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"))
			})
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) })
		}
	}
}
