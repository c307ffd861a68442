package engine

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindPlayer     Kind = "PC"
	KindNPC        Kind = "NPC"
	KindMonster    Kind = "Monster"
	KindLairAction Kind = "Lair Action"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPlayer, KindNPC, KindMonster, KindLairAction:
		return true
	default:
		return false
	}
}

// Combatant is one participant in the encounter. Lair actions carry HP and AC
// like everyone else; clients simply don't show them.
type Combatant struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Kind       Kind     `json:"type"`
	Initiative int      `json:"initiative"`
	CurrentHP  int      `json:"currentHP"`
	MaxHP      int      `json:"maxHP"`
	AC         int      `json:"ac"`
	Notes      string   `json:"notes,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`

	// insertion order, used as the initiative tie-break
	seq int
}

// Patch carries the optional fields of an update. Nil means "leave as is".
type Patch struct {
	Name       *string   `json:"name,omitempty"`
	Kind       *Kind     `json:"type,omitempty"`
	Initiative *int      `json:"initiative,omitempty"`
	CurrentHP  *int      `json:"currentHP,omitempty"`
	MaxHP      *int      `json:"maxHP,omitempty"`
	AC         *int      `json:"ac,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
	Statuses   *[]string `json:"statuses,omitempty"`
}

func NewCombatant(name string, kind Kind, initiative, maxHP, ac int) Combatant {
	c := Combatant{
		ID:         NewID(),
		Name:       name,
		Kind:       kind,
		Initiative: initiative,
		MaxHP:      max(maxHP, 0),
		AC:         ac,
		Statuses:   []string{},
	}
	c.CurrentHP = c.MaxHP
	return c
}

func NewID() string {
	return uuid.NewString()
}

func (c Combatant) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrInvalidCombatant
	}
	if !c.Kind.Valid() {
		return ErrInvalidCombatant
	}
	return nil
}

// AdjustHP applies a signed delta, clamped to [0, MaxHP].
func (c *Combatant) AdjustHP(delta int) {
	c.CurrentHP = clamp(c.CurrentHP+delta, 0, c.MaxHP)
}

func (c *Combatant) AddStatus(label string) bool {
	label = strings.TrimSpace(label)
	if label == "" || slices.Contains(c.Statuses, label) {
		return false
	}
	c.Statuses = append(c.Statuses, label)
	return true
}

func (c *Combatant) RemoveStatus(label string) bool {
	label = strings.TrimSpace(label)
	i := slices.Index(c.Statuses, label)
	if i < 0 {
		return false
	}
	c.Statuses = slices.Delete(c.Statuses, i, i+1)
	return true
}

func (c *Combatant) Apply(p Patch) {
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Kind != nil && p.Kind.Valid() {
		c.Kind = *p.Kind
	}
	if p.Initiative != nil {
		c.Initiative = *p.Initiative
	}
	if p.MaxHP != nil {
		c.MaxHP = max(*p.MaxHP, 0)
	}
	if p.CurrentHP != nil {
		c.CurrentHP = *p.CurrentHP
	}
	if p.AC != nil {
		c.AC = *p.AC
	}
	if p.Notes != nil {
		c.Notes = *p.Notes
	}
	if p.Statuses != nil {
		c.Statuses = []string{}
		for _, s := range *p.Statuses {
			c.AddStatus(s)
		}
	}
	c.CurrentHP = clamp(c.CurrentHP, 0, c.MaxHP)
}

// Defeated reports a non-player combatant at zero HP. Players are never
// defeated, only Down.
func (c Combatant) Defeated() bool {
	switch c.Kind {
	case KindNPC, KindMonster:
		return c.CurrentHP <= 0
	default:
		return false
	}
}

func (c Combatant) Down() bool {
	return c.Kind == KindPlayer && c.CurrentHP <= 0
}

// normalize repairs a combatant read from storage or an import.
func (c Combatant) normalize() Combatant {
	if c.ID == "" {
		c.ID = NewID()
	}
	if !c.Kind.Valid() {
		c.Kind = KindMonster
	}
	c.MaxHP = max(c.MaxHP, 0)
	c.CurrentHP = clamp(c.CurrentHP, 0, c.MaxHP)
	statuses := c.Statuses
	c.Statuses = []string{}
	for _, s := range statuses {
		c.AddStatus(s)
	}
	return c
}

// public strips roster bookkeeping from a copy handed out of the roster.
func (c Combatant) public() Combatant {
	c = c.clone()
	c.seq = 0
	return c
}

func (c Combatant) clone() Combatant {
	c.Statuses = slices.Clone(c.Statuses)
	if c.Statuses == nil {
		c.Statuses = []string{}
	}
	return c
}
