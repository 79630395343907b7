// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/framegate/internal/domain/stream/publish"
	"github.com/ManuGH/framegate/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsReadLimit  = 512
)

// originChecker allows same-origin requests and any origin in allowed.
// A "*" entry allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// handleWebsocket streams the published payloads of one session as text
// messages. Slow clients miss messages rather than stall the publisher.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, ProblemInternal, "Service Unavailable", "SUBSCRIPTIONS_DISABLED", "live subscriptions are not enabled")
		return
	}
	if !s.conns.add() {
		writeProblem(w, r, http.StatusServiceUnavailable, ProblemInternal, "Service Unavailable", "SHUTTING_DOWN", "server is shutting down")
		return
	}
	defer s.conns.done()

	id := chi.URLParam(r, "id")
	if _, err := s.svc.GetStreamStatus(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	channel := publish.Channel(id)
	sub, err := s.bus.Subscribe(r.Context(), channel)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		_ = sub.Close()
		return
	}

	defer func() { _ = sub.Close() }()
	defer func() { _ = conn.Close() }()

	logger := log.WithComponentFromContext(r.Context(), "websocket").With().
		Str(log.FieldSessionID, id).
		Str(log.FieldChannel, channel).
		Logger()
	logger.Debug().Msg("subscriber connected")

	// The read side only handles control frames and detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				closeWS(conn, websocket.CloseGoingAway, "subscription closed")
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug().Err(err).Msg("subscriber write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			logger.Debug().Msg("subscriber disconnected")
			return
		case <-s.closing:
			closeWS(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func closeWS(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteWait))
}
