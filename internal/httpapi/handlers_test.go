package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/hub"
	"github.com/DoyleJ11/combat-tracker/internal/identity"
	"github.com/DoyleJ11/combat-tracker/internal/store/bolt"
	"github.com/DoyleJ11/combat-tracker/internal/store/sqlite"
	"github.com/DoyleJ11/combat-tracker/internal/syncer"
	"github.com/DoyleJ11/combat-tracker/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testSecret = "table-top-secret"

type testEnv struct {
	handler http.Handler
	local   *bolt.Store
	jwt     *identity.JWTProvider
}

func newEnv(t *testing.T, withRemote bool) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	local, err := bolt.Open(filepath.Join(dir, "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = local.Close() })

	var records *syncer.Records
	if withRemote {
		remote, err := sqlite.Open(filepath.Join(dir, "remote.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = remote.Close() })
		records = syncer.NewRecords(local, remote, logger)
	} else {
		records = syncer.NewRecords(local, nil, logger)
	}

	h := hub.NewHub(context.Background(), hub.NewFactory(local, hub.FactoryOptions{Sync: syncer.Options{Delay: time.Hour}}, logger), logger)
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })

	p := identity.NewJWTProvider(testSecret, "")
	return &testEnv{
		handler: SetupRoutes(Deps{Hub: h, Records: records, Identity: p, Logger: logger}),
		local:   local,
		jwt:     p,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, method, path, body, token, "")
}

// doAs sends the request with an optional bearer token and client key.
func (e *testEnv) doAs(t *testing.T, method, path, body, token, clientKey string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if clientKey != "" {
		req.Header.Set(identity.ClientKeyHeader, clientKey)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.jwt.Sign(identity.New(userID, identity.RoleUser), time.Hour)
	require.NoError(t, err)
	return tok
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, false)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", "").Code)
}

func TestSessions_CreateAndCommand(t *testing.T) {
	env := newEnv(t, false)

	rec := env.do(t, http.MethodPost, "/sessions", "", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[struct {
		ID string `json:"id"`
	}](t, rec)
	require.NotEmpty(t, created.ID)

	base := "/sessions/" + created.ID
	for _, body := range []string{
		`{"type":"AddCombatant","combatant":{"name":"Goblin","type":"Monster","initiative":12,"maxHP":7,"ac":15}}`,
		`{"type":"AddCombatant","combatant":{"name":"Aria","type":"PC","initiative":18,"maxHP":24,"ac":16}}`,
		`{"type":"NextTurn"}`,
	} {
		rec = env.do(t, http.MethodPost, base+"/commands", body, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	msg := decodeJSON[types.ServerMessage](t, rec)
	assert.Equal(t, 3, msg.Version)
	require.Len(t, msg.State.Combatants, 2)
	assert.Equal(t, "Aria", msg.State.Combatants[0].Name)
	assert.Equal(t, 1, msg.State.TurnIndex)

	rec = env.do(t, http.MethodGet, base, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decodeJSON[types.ServerMessage](t, rec).Version)
}

func TestSessions_CommandErrors(t *testing.T) {
	env := newEnv(t, false)

	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "unknown command", body: `{"type":"Polymorph"}`, want: http.StatusBadRequest},
		{name: "invalid combatant", body: `{"type":"AddCombatant","combatant":{"name":"","type":"Monster","maxHP":7}}`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/sessions/s1/commands", tc.body, "")
			assert.Equal(t, tc.want, rec.Code)
			assert.NotEmpty(t, decodeJSON[map[string]string](t, rec)["error"])
		})
	}
}

func TestSessions_CapacityIsConflict(t *testing.T) {
	env := newEnv(t, false)
	for i := 0; i < engine.DefaultMaxCombatants; i++ {
		rec := env.do(t, http.MethodPost, "/sessions/crowd/commands", `{"type":"AddCombatant","combatant":{"name":"Rat","type":"Monster","maxHP":1}}`, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/sessions/crowd/commands", `{"type":"AddCombatant","combatant":{"name":"Rat","type":"Monster","maxHP":1}}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessions_ExportImport(t *testing.T) {
	env := newEnv(t, false)
	rec := env.do(t, http.MethodPost, "/sessions/src/commands", `{"type":"AddCombatant","combatant":{"name":"Wight","type":"Monster","initiative":14,"maxHP":45,"ac":14}}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/sessions/src/export", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	exported := rec.Body.String()
	assert.Contains(t, exported, `"version": "1.0"`)

	rec = env.do(t, http.MethodPost, "/sessions/dst/import", exported, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	msg := decodeJSON[types.ServerMessage](t, rec)
	require.Len(t, msg.State.Combatants, 1)
	assert.Equal(t, "Wight", msg.State.Combatants[0].Name)

	// Import writes through immediately.
	raw, err := env.local.LoadState(context.Background(), "dst")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Wight")

	rec = env.do(t, http.MethodPost, "/sessions/dst/import", `{"round":3}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/sessions/dst", "", "")
	assert.Len(t, decodeJSON[types.ServerMessage](t, rec).State.Combatants, 1, "rejected import leaves the session alone")
}

func TestCombats_AnonymousLocalRecords(t *testing.T) {
	env := newEnv(t, true)
	rec := env.do(t, http.MethodPost, "/sessions/tab/commands", `{"type":"AddCombatant","combatant":{"name":"Ogre","type":"Monster","initiative":7,"maxHP":59,"ac":11}}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.doAs(t, http.MethodPost, "/combats", `{"name":"Bridge ambush","session":"tab"}`, "", "browser-a")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decodeJSON[types.CombatRecord](t, rec)
	require.Len(t, saved.CombatData.Combatants, 1)

	rec = env.doAs(t, http.MethodGet, "/combats", "", "", "browser-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[[]types.CombatRecord](t, rec), 1)

	rec = env.doAs(t, http.MethodGet, "/combats", "", "", "browser-b")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeJSON[[]types.CombatRecord](t, rec), "other browsers do not see the record")

	rec = env.do(t, http.MethodGet, "/combats", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Reset, then restore from the saved record.
	rec = env.do(t, http.MethodPost, "/sessions/tab/commands", `{"type":"ResetCombat"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.doAs(t, http.MethodPost, "/combats/"+saved.ID+"/load?session=tab", "", "", "browser-a")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeJSON[types.ServerMessage](t, rec).State.Combatants, 1)

	rec = env.doAs(t, http.MethodPost, "/combats", `{"name":"   ","session":"tab"}`, "", "browser-a")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doAs(t, http.MethodDelete, "/combats/"+saved.ID, "", "", "browser-b")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.doAs(t, http.MethodDelete, "/combats/"+saved.ID, "", "", "browser-a")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.doAs(t, http.MethodDelete, "/combats/"+saved.ID, "", "", "browser-a")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Combat not found", decodeJSON[map[string]string](t, rec)["error"])
}

func TestCombats_RemoteRecordsAreOwnerScoped(t *testing.T) {
	env := newEnv(t, true)
	alice, bob := env.token(t, "alice"), env.token(t, "bob")

	rec := env.do(t, http.MethodPost, "/combats", `{"name":"Lair","combat_data":{"combatants":[],"turnIndex":0,"round":1,"timer":0}}`, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decodeJSON[types.CombatRecord](t, rec)

	rec = env.do(t, http.MethodGet, "/combats", "", bob)
	assert.Empty(t, decodeJSON[[]types.CombatRecord](t, rec))

	rec = env.do(t, http.MethodPut, "/combats/"+saved.ID, `{"name":"Stolen"}`, bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/combats/"+saved.ID, `{"name":"","description":"volcano"}`, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeJSON[types.CombatRecord](t, rec)
	assert.Equal(t, "Lair", updated.Name, "empty name is ignored")
	assert.Equal(t, "volcano", updated.Description)

	rec = env.do(t, http.MethodGet, "/combats", "", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCombats_Migration(t *testing.T) {
	env := newEnv(t, true)
	ctx := context.Background()
	alice := env.token(t, "alice")

	rec := env.doAs(t, http.MethodPost, "/combats", `{"name":"Old notes","combat_data":{"combatants":[]}}`, "", "browser-a")
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.doAs(t, http.MethodPost, "/combats", `{"name":"Someone else's","combat_data":{"combatants":[]}}`, "", "browser-b")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.doAs(t, http.MethodPost, "/combats/migration", "", "", "browser-a")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.doAs(t, http.MethodGet, "/combats/migration", "", alice, "browser-a")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeJSON[types.MigrationStatus](t, rec)
	assert.Equal(t, 1, status.Pending)
	assert.True(t, status.RemoteEnabled)

	rec = env.doAs(t, http.MethodPost, "/combats/migration", "", alice, "browser-a")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decodeJSON[syncer.MigrationResult](t, rec).Copied)

	left, err := env.local.ListByUser(ctx, syncer.ClientOwner("browser-a"))
	require.NoError(t, err)
	assert.Empty(t, left)
	untouched, err := env.local.ListByUser(ctx, syncer.ClientOwner("browser-b"))
	require.NoError(t, err)
	assert.Len(t, untouched, 1)

	rec = env.do(t, http.MethodGet, "/combats", "", alice)
	mine := decodeJSON[[]types.CombatRecord](t, rec)
	require.Len(t, mine, 1)
	assert.Equal(t, "Old notes", mine[0].Name)
}

func TestCombats_MigrationWithoutRemote(t *testing.T) {
	env := newEnv(t, false)
	rec := env.do(t, http.MethodPost, "/combats/migration", "", env.token(t, "alice"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
