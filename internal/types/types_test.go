package types

import (
	"encoding/json"
	"testing"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeClient(t *testing.T, raw string) ClientMessage {
	t.Helper()
	var m ClientMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestToCommand(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    engine.CommandType
		wantErr error
	}{
		{name: "next turn", raw: `{"type":"NextTurn"}`, want: engine.CmdNextTurn},
		{name: "adjust hp", raw: `{"type":"AdjustHP","id":"a","delta":-7}`, want: engine.CmdAdjustHP},
		{name: "reset combat", raw: `{"type":"ResetCombat"}`, want: engine.CmdResetCombat},
		{name: "tick is internal", raw: `{"type":"TickTimer"}`, wantErr: engine.ErrUnsupportedCommand},
		{name: "unknown", raw: `{"type":"Fireball"}`, wantErr: engine.ErrUnsupportedCommand},
		{name: "add without combatant", raw: `{"type":"AddCombatant"}`, wantErr: engine.ErrInvalidCombatant},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := ToCommand(decodeClient(t, tc.raw))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, cmd.Type)
		})
	}
}

func TestToCommand_AddCombatantDefaultsCurrentHP(t *testing.T) {
	cmd, err := ToCommand(decodeClient(t, `{"type":"AddCombatant","combatant":{"name":"Troll","type":"Monster","initiative":9,"maxHP":84,"ac":15,"statuses":["Prone","Prone"]}}`))
	require.NoError(t, err)

	c := cmd.Combatant
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, 84, c.CurrentHP)
	assert.Equal(t, []string{"Prone"}, c.Statuses)

	cmd, err = ToCommand(decodeClient(t, `{"type":"AddCombatant","combatant":{"name":"Troll","type":"Monster","maxHP":84,"currentHP":30,"ac":15}}`))
	require.NoError(t, err)
	assert.Equal(t, 30, cmd.Combatant.CurrentHP)
}

func TestToCommand_UpdateCarriesPatch(t *testing.T) {
	cmd, err := ToCommand(decodeClient(t, `{"type":"UpdateCombatant","id":"a","patch":{"initiative":18,"notes":"hasted"}}`))
	require.NoError(t, err)
	assert.Equal(t, "a", cmd.CombatantID)
	require.NotNil(t, cmd.Patch.Initiative)
	assert.Equal(t, 18, *cmd.Patch.Initiative)
	require.NotNil(t, cmd.Patch.Notes)
	assert.Nil(t, cmd.Patch.Name)
}

func TestSnapshotMessage_WireShape(t *testing.T) {
	msg := SnapshotMessage(session.Update{
		Version:      3,
		State:        engine.NewEmptyState(engine.Rules{}).ToSnapshot(),
		TimerRunning: true,
	})
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"StateSnapshot","version":3,"timerRunning":true,"state":{"combatants":[],"turnIndex":0,"round":1,"timer":0}}`, string(data))
}

func TestSnapshotMessage_DerivedFlags(t *testing.T) {
	ogre := engine.NewCombatant("Ogre", engine.KindMonster, 8, 59, 11)
	ogre.ID, ogre.CurrentHP = "ogre", 0
	bard := engine.NewCombatant("Bard", engine.KindPlayer, 14, 27, 13)
	bard.ID, bard.CurrentHP = "bard", 0
	lair := engine.NewCombatant("Lair", engine.KindLairAction, 20, 0, 0)
	lair.ID = "lair"
	guard := engine.NewCombatant("Guard", engine.KindNPC, 3, 11, 16)
	guard.ID = "guard"

	msg := SnapshotMessage(session.Update{State: engine.Snapshot{
		Combatants: []engine.Combatant{lair, bard, ogre, guard},
		Round:      1,
	}})
	assert.Equal(t, []string{"ogre"}, msg.Defeated)
	assert.Equal(t, []string{"bard"}, msg.Down)
}
