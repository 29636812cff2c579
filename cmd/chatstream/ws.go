package main

import (
	"context"
	"net/http"
	"time"

	apperrors "chatstream/internal/errors"
	"chatstream/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleWebSocket upgrades the connection and streams fanout events to the
// client until it disconnects. The channel is push-only: inbound frames are
// only read so control frames keep being processed.
func (s *Server) handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			// Accept already wrote the error response
			return
		}

		ctx := conn.CloseRead(r.Context())

		sub := s.bus.Subscribe()
		defer s.bus.Unsubscribe(sub)

		s.logger.WithField(service.LogFieldSubscriberID, sub.ID()).Info("Viewer connected")
		defer s.logger.WithField(service.LogFieldSubscriberID, sub.ID()).Info("Viewer disconnected")

		writeTimeout := time.Duration(s.cfg.Fanout.WriteTimeoutSec) * time.Second
		keepAlive := time.NewTicker(time.Duration(s.cfg.Fanout.KeepAliveIntervalSec) * time.Second)
		defer keepAlive.Stop()

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "bye")
				return

			case ev, ok := <-sub.Events():
				if !ok {
					// Bus shut down.
					conn.Close(websocket.StatusGoingAway, "shutting down")
					return
				}
				writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(writeCtx, conn, ev)
				cancel()
				if err != nil {
					s.logger.WithField(service.LogFieldEvent, ev.Type).
						WithError(apperrors.NewChannelError(sub.ID(), err)).
						Debug("Websocket write failed")
					conn.Close(websocket.StatusAbnormalClosure, "write failed")
					return
				}

			case <-keepAlive.C:
				pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := conn.Ping(pingCtx)
				cancel()
				if err != nil {
					conn.Close(websocket.StatusAbnormalClosure, "ping failed")
					return
				}
			}
		}
	}
}
