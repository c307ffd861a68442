package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCombatant_Defaults(t *testing.T) {
	c := NewCombatant("Ogre", KindMonster, 8, 59, 11)

	assert.NotEmpty(t, c.ID)
	assert.Equal(t, 59, c.CurrentHP)
	assert.Equal(t, 59, c.MaxHP)
	assert.Empty(t, c.Notes)
	assert.Empty(t, c.Statuses)
	assert.NotEqual(t, c.ID, NewCombatant("Ogre", KindMonster, 8, 59, 11).ID)
}

func TestAdjustHP_Clamps(t *testing.T) {
	cases := []struct {
		name   string
		start  int
		deltas []int
		want   int
	}{
		{name: "overkill floors at zero", start: 10, deltas: []int{-15}, want: 0},
		{name: "heal from zero", start: 10, deltas: []int{-15, 5}, want: 5},
		{name: "overheal caps at max", start: 10, deltas: []int{-3, 50}, want: 10},
		{name: "zero delta", start: 10, deltas: []int{0}, want: 10},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCombatant("Target", KindNPC, 0, tc.start, 10)
			for _, d := range tc.deltas {
				c.AdjustHP(d)
				require.GreaterOrEqual(t, c.CurrentHP, 0)
				require.LessOrEqual(t, c.CurrentHP, c.MaxHP)
			}
			assert.Equal(t, tc.want, c.CurrentHP)
		})
	}
}

func TestAdjustHP_InvariantHoldsForAnyDelta(t *testing.T) {
	c := NewCombatant("Target", KindMonster, 0, 25, 10)
	for _, d := range []int{-1, -100, 7, 3, 1000, -24, -1, -1, 12, -9999, 9999} {
		c.AdjustHP(d)
		require.True(t, c.CurrentHP >= 0 && c.CurrentHP <= c.MaxHP, "hp %d out of range after %d", c.CurrentHP, d)
	}
}

func TestStatuses_Idempotent(t *testing.T) {
	c := NewCombatant("Rogue", KindPlayer, 18, 30, 15)

	assert.True(t, c.AddStatus("Poisoned"))
	assert.False(t, c.AddStatus("Poisoned"))
	assert.False(t, c.AddStatus("  "))
	assert.True(t, c.AddStatus("Prone"))
	assert.Equal(t, []string{"Poisoned", "Prone"}, c.Statuses)

	assert.True(t, c.RemoveStatus("Poisoned"))
	assert.False(t, c.RemoveStatus("Poisoned"))
	assert.Equal(t, []string{"Prone"}, c.Statuses)
}

func TestApplyPatch_ReclampsHP(t *testing.T) {
	c := NewCombatant("Troll", KindMonster, 13, 84, 15)
	c.Apply(Patch{MaxHP: ptr(40)})
	assert.Equal(t, 40, c.CurrentHP)

	c.Apply(Patch{CurrentHP: ptr(-5)})
	assert.Equal(t, 0, c.CurrentHP)

	statuses := []string{"Stunned", "Stunned", "Burning"}
	c.Apply(Patch{Statuses: &statuses, Notes: ptr("regenerates")})
	assert.Equal(t, []string{"Stunned", "Burning"}, c.Statuses)
	assert.Equal(t, "regenerates", c.Notes)
}

func TestDefeatedAndDown(t *testing.T) {
	cases := []struct {
		kind         Kind
		wantDefeated bool
		wantDown     bool
	}{
		{kind: KindPlayer, wantDefeated: false, wantDown: true},
		{kind: KindNPC, wantDefeated: true, wantDown: false},
		{kind: KindMonster, wantDefeated: true, wantDown: false},
		{kind: KindLairAction, wantDefeated: false, wantDown: false},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			c := NewCombatant("x", tc.kind, 0, 5, 10)
			assert.False(t, c.Defeated())
			c.AdjustHP(-5)
			assert.Equal(t, tc.wantDefeated, c.Defeated())
			assert.Equal(t, tc.wantDown, c.Down())
		})
	}
}
