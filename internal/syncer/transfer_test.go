package syncer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImport_RoundTrip(t *testing.T) {
	s := engine.FromSnapshot(snapshotOf(t, "Ankheg", "Bard", "Cleric"), engine.Rules{})
	_, s, err := engine.Apply(s, engine.Command{Type: engine.CmdNextTurn})
	require.NoError(t, err)
	active, _ := s.Active()
	_, s, err = engine.Apply(s, engine.Command{Type: engine.CmdAddStatus, CombatantID: active.ID, Status: "Frightened"})
	require.NoError(t, err)
	s.Timer = 314
	snap := s.ToSnapshot()

	data, err := Export(snap, time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "2025-06-01T18:30:00Z", raw["exportDate"])
	assert.Equal(t, ExportVersion, raw["version"])

	got, err := ParseImport(data)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestParseImport_RejectsWithoutCombatants(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{name: "missing", doc: `{"turnIndex":0,"round":1}`},
		{name: "null", doc: `{"combatants":null}`},
		{name: "object", doc: `{"combatants":{"a":1}}`},
		{name: "not json", doc: `combatants`},
		{name: "array document", doc: `[]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseImport([]byte(tc.doc))
			assert.ErrorIs(t, err, ErrImportFormat)
		})
	}
}

func TestParseImport_DefaultsOlderShapes(t *testing.T) {
	got, err := ParseImport([]byte(`{"combatants":[{"id":"a","name":"Imp","type":"Monster","initiative":3,"currentHP":4,"maxHP":10,"ac":13}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Round)
	assert.Equal(t, 0, got.TurnIndex)
	assert.Equal(t, 0, got.Timer)
	require.Len(t, got.Combatants, 1)
	assert.Equal(t, 4, got.Combatants[0].CurrentHP)
}
