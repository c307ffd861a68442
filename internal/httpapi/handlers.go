package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/hub"
	"github.com/DoyleJ11/combat-tracker/internal/identity"
	"github.com/DoyleJ11/combat-tracker/internal/session"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"github.com/DoyleJ11/combat-tracker/internal/syncer"
	"github.com/DoyleJ11/combat-tracker/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxBodyBytes    = 1 << 20
	maxSessionIDLen = 128
)

type API struct {
	hub     *hub.Hub
	records *syncer.Records
	logger  *zap.Logger
	now     func() time.Time
}

func NewAPI(h *hub.Hub, records *syncer.Records, logger *zap.Logger) *API {
	return &API{
		hub:     h,
		records: records,
		logger:  logger.Named("http"),
		now:     time.Now,
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *API) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	if _, err := a.hub.Ensure(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ID string `json:"id"`
	}{ID: id})
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	view, err := sess.View(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SnapshotMessage(view.Update))
}

func (a *API) PostCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var cm types.ClientMessage
	if err := decodeBody(w, r, &cm); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	cmd, err := types.ToCommand(cm)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	upd, err := sess.Do(r.Context(), cmd)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SnapshotMessage(upd))
}

func (a *API) ExportSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	view, err := sess.View(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}

	now := a.now()
	data, err := syncer.Export(view.Update.State, now)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="combat-tracker-%s.json"`, now.UTC().Format("2006-01-02")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (a *API) ImportSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.session(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "import too large")
		return
	}
	snap, err := syncer.ParseImport(data)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	upd, err := sess.Replace(r.Context(), snap)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info("session imported", zap.String("session", sess.ID()), zap.Int("combatants", len(upd.State.Combatants)))
	writeJSON(w, http.StatusOK, types.SnapshotMessage(upd))
}

func (a *API) ListCombats(w http.ResponseWriter, r *http.Request) {
	list, err := a.records.List(r.Context(), identity.FromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]types.CombatRecord, 0, len(list))
	for _, rec := range list {
		out = append(out, types.FromRecord(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// SaveCombat stores a named record. Without combat_data the current state of
// the named session is saved.
func (a *API) SaveCombat(w http.ResponseWriter, r *http.Request) {
	var req types.SaveCombatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	data := req.CombatData
	if data == nil {
		if req.Session == "" {
			writeError(w, http.StatusBadRequest, "combat_data or session is required")
			return
		}
		sess, ok := a.session(w, r, req.Session)
		if !ok {
			return
		}
		view, err := sess.View(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		data = &view.Update.State
	}

	rec, err := a.records.Save(r.Context(), identity.FromContext(r.Context()), req.Name, req.Description, *data)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.FromRecord(rec))
}

func (a *API) UpdateCombat(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateCombatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	rec, err := a.records.Update(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id"), store.RecordPatch{
		Name:        req.Name,
		Description: req.Description,
		CombatData:  req.CombatData,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.FromRecord(rec))
}

func (a *API) DeleteCombat(w http.ResponseWriter, r *http.Request) {
	if err := a.records.Delete(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LoadCombat replaces the session named by ?session= with a saved record.
func (a *API) LoadCombat(w http.ResponseWriter, r *http.Request) {
	rec, err := a.records.Get(r.Context(), identity.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sess, ok := a.session(w, r, r.URL.Query().Get("session"))
	if !ok {
		return
	}

	upd, err := sess.Replace(r.Context(), rec.CombatData)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SnapshotMessage(upd))
}

func (a *API) MigrationStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := a.records.PendingMigration(r.Context(), identity.FromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MigrationStatus{Pending: pending, RemoteEnabled: a.records.RemoteEnabled()})
}

func (a *API) Migrate(w http.ResponseWriter, r *http.Request) {
	res, err := a.records.Migrate(r.Context(), identity.FromContext(r.Context()))
	if err != nil {
		status, msg := statusFor(err)
		var partial *syncer.MigrationError
		if errors.As(err, &partial) {
			status, msg = http.StatusBadGateway, err.Error()
		}
		a.logger.Warn("migration failed", zap.Error(err))
		writeJSON(w, status, struct {
			syncer.MigrationResult
			Error string `json:"error"`
		}{res, msg})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// session resolves id to a live session, creating and loading it on first
// use. It writes the error response itself.
func (a *API) session(w http.ResponseWriter, r *http.Request, id string) (*session.Session, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxSessionIDLen {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}
	sess, err := a.hub.Ensure(r.Context(), id)
	if err == nil && sess == nil {
		err = session.ErrClosed
	}
	if err != nil {
		a.fail(w, r, err)
		return nil, false
	}
	return sess, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}
