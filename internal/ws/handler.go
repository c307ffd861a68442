// Package ws streams session snapshots to browsers and accepts commands back.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/hub"
	"github.com/DoyleJ11/combat-tracker/internal/session"
	"github.com/DoyleJ11/combat-tracker/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 3 * time.Second

type Options struct {
	// OriginPatterns loosens the same-origin check, e.g. "localhost:*" in dev.
	OriginPatterns []string
}

func Handler(h *hub.Hub, logger *zap.Logger, opts Options) http.HandlerFunc {
	logger = logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session")
		if id == "" {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}

		sess, err := h.Ensure(r.Context(), id)
		if err != nil || sess == nil {
			logger.Warn("session unavailable", zap.String("session", id), zap.Error(err))
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan session.Update, 16)
		clientID := uuid.NewString()
		log := logger.With(zap.String("session", id), zap.String("client", clientID))

		ctx := r.Context()
		if err := joinSession(ctx, sess, clientID, out); err != nil {
			return
		}
		defer leaveSession(sess, clientID)
		log.Debug("client joined")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(ctx)
		defer writeCancel()
		go func() {
			for upd := range out {
				if err := write(writeCtx, conn, types.SnapshotMessage(upd)); err != nil {
					log.Debug("write failed", zap.Error(err))
					writeCancel()
					return
				}
			}
			// Outbox closed: we were dropped as a slow client or the session ended.
			if writeCtx.Err() == nil {
				_ = conn.Close(websocket.StatusTryAgainLater, "session closed")
			}
		}()

		// Reader loop
		for {
			_, data, err := conn.Read(writeCtx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("client left")
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(ctx, conn, types.ErrorMessage("bad json"))
				continue
			}

			cmd, err := types.ToCommand(cm)
			if err != nil {
				_ = write(ctx, conn, types.ErrorMessage(err.Error()))
				continue
			}

			// The resulting snapshot arrives through the outbox like everyone else's.
			if _, err := sess.Do(ctx, cmd); err != nil {
				if errors.Is(err, session.ErrClosed) {
					return
				}
				_ = write(ctx, conn, types.ErrorMessage(err.Error()))
			}
		}
	}
}

func joinSession(ctx context.Context, sess *session.Session, clientID string, out chan session.Update) error {
	select {
	case sess.Inbox() <- session.Join{ClientID: clientID, Outbox: out}:
		return nil
	case <-sess.Done():
		return session.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func leaveSession(sess *session.Session, clientID string) {
	select {
	case sess.Inbox() <- session.Leave{ClientID: clientID}:
	case <-sess.Done():
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
