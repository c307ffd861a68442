package engine

// Snapshot is the serializable form of a session and the unit of persistence.
type Snapshot struct {
	Combatants []Combatant `json:"combatants"`
	TurnIndex  int         `json:"turnIndex"`
	Round      int         `json:"round"`
	Timer      int         `json:"timer"`
}

// ToSnapshot returns a deep copy of the persisted fields of s. Whether the
// stopwatch is running is deliberately not part of it.
func (s State) ToSnapshot() Snapshot {
	combatants := []Combatant{}
	if s.Roster != nil {
		combatants = s.Roster.Combatants()
	}
	return Snapshot{
		Combatants: combatants,
		TurnIndex:  s.Turn.TurnIndex,
		Round:      s.Turn.Round,
		Timer:      s.Timer,
	}
}

// FromSnapshot builds a whole new state from snap. Missing or out of range
// fields fall back to an empty roster, turn 0, round 1 and timer 0 so older
// or partial documents still load. An out of order list is sorted and the
// turn follows the combatant it pointed at.
func FromSnapshot(snap Snapshot, rules Rules) State {
	s := NewEmptyState(rules)
	s.Roster.hydrate(snap.Combatants)
	s.Turn = Sequencer{TurnIndex: snap.TurnIndex, Round: snap.Round}.normalize(s.Roster.Len())

	current, ok := s.Roster.At(s.Turn.TurnIndex)
	s.Roster.sort()
	if ok {
		s.Turn.TurnIndex = s.Roster.index(current.ID)
	}
	s.Timer = max(snap.Timer, 0)
	return s
}

// Normalize returns snap as FromSnapshot would reproduce it. The capacity
// limit plays no part in hydration.
func (snap Snapshot) Normalize() Snapshot {
	return FromSnapshot(snap, Rules{}).ToSnapshot()
}

func (snap Snapshot) Clone() Snapshot {
	cp := snap
	cp.Combatants = make([]Combatant, len(snap.Combatants))
	for i, c := range snap.Combatants {
		cp.Combatants[i] = c.clone()
	}
	return cp
}
