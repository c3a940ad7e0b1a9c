package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"aethos/observability"
	"aethos/services/lending/store"
)

const wsWriteTimeout = 10 * time.Second

// handleEvents streams every published view over a websocket. The current
// view is sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	metrics := observability.Events()
	metrics.Connected(1)
	defer metrics.Connected(-1)

	// Reads are only drained to observe the peer closing.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamViews(ctx, conn); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			s.logger.Debug("event stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) originPatterns() []string {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.CORS.AllowedOrigins
}

func (s *Server) streamViews(ctx context.Context, conn *websocket.Conn) error {
	updates, cancel := s.views.Subscribe()
	defer cancel()

	if err := s.writeView(ctx, conn, s.views.Current()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case view, ok := <-updates:
			if !ok {
				return nil
			}
			if err := s.writeView(ctx, conn, view); err != nil {
				return err
			}
		}
	}
}

func (s *Server) writeView(ctx context.Context, conn *websocket.Conn, view *store.View) error {
	data, err := json.Marshal(eventMessage{Type: "view", ETag: etag(view), Snapshot: toSnapshot(view, s.cfg.Decimals)})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	err = conn.Write(writeCtx, websocket.MessageText, data)
	observability.Events().RecordDelivery(err)
	return err
}
