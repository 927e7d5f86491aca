package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/armorclaw/errtrack/pkg/eventbus"
	"github.com/armorclaw/errtrack/pkg/tracker"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

// handleAlertStream upgrades to a websocket and streams alerts matching the
// fingerprint, rule and severity query parameters
func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.writeError(w, http.StatusServiceUnavailable, "alert stream not enabled")
		return
	}

	q := r.URL.Query()
	filter := eventbus.AlertFilter{
		Fingerprint: q.Get("fingerprint"),
		Rule:        q.Get("rule"),
	}
	if sev := q.Get("severity"); sev != "" {
		for _, v := range strings.Split(sev, ",") {
			filter.Severities = append(filter.Severities, tracker.AlertSeverity(strings.TrimSpace(v)))
		}
	}

	sub, err := s.bus.Subscribe(filter)
	if err != nil {
		status := http.StatusServiceUnavailable
		if eventbus.IsErrorCode(err, eventbus.CodeInvalidFilter) {
			status = http.StatusBadRequest
		}
		s.writeJSON(w, status, map[string]any{
			"error":  err.Error(),
			"code":   eventbus.GetCode(err),
			"status": status,
		})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.bus.Unsubscribe(sub.ID)
		s.log.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	s.log.Info("websocket_connected",
		slog.String("subscriber_id", sub.ID),
		slog.String("remote", r.RemoteAddr))

	go s.writePump(conn, sub)
	s.readPump(conn, sub)

	s.bus.Unsubscribe(sub.ID)
	s.log.Info("websocket_disconnected", slog.String("subscriber_id", sub.ID))
}

// readPump discards client messages and keeps the subscription alive on pong
func (s *Server) readPump(conn *websocket.Conn, sub *eventbus.Subscriber) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		sub.Touch(time.Now())
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket_read_error", slog.String("error", err.Error()))
			}
			return
		}
		sub.Touch(time.Now())
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *eventbus.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env, ok := <-sub.Events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := env.ToJSON()
			if err != nil {
				s.log.Warn("alert_marshal_failed",
					slog.String("subscriber_id", sub.ID),
					slog.String("error", err.Error()))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
