package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/hub"
	"github.com/DoyleJ11/combat-tracker/internal/identity"
	"github.com/DoyleJ11/combat-tracker/internal/session"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"github.com/DoyleJ11/combat-tracker/internal/syncer"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes and client messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrCapacityExceeded):
		return http.StatusConflict, err.Error()
	case errors.Is(err, engine.ErrInvalidCombatant),
		errors.Is(err, engine.ErrUnsupportedCommand),
		errors.Is(err, syncer.ErrImportFormat),
		errors.Is(err, syncer.ErrNameRequired),
		errors.Is(err, syncer.ErrClientKeyRequired):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Combat not found"
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, syncer.ErrRemoteUnavailable):
		return http.StatusConflict, err.Error()
	case errors.Is(err, syncer.ErrStorageUnavailable):
		return http.StatusBadGateway, "storage unavailable"
	case errors.Is(err, session.ErrClosed), errors.Is(err, hub.ErrClosed):
		return http.StatusServiceUnavailable, "shutting down"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Warn("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, msg)
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}
