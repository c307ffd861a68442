package engine

// Sequencer tracks whose turn it is and how many full passes have been made.
// Round never drops below 1 and there is no terminal state.
type Sequencer struct {
	TurnIndex int
	Round     int
}

func NewSequencer() Sequencer {
	return Sequencer{TurnIndex: 0, Round: 1}
}

// Advance moves to the next combatant, starting a new round on wrap. It
// reports whether a new round began.
func (s *Sequencer) Advance(rosterLen int) bool {
	if rosterLen == 0 {
		return false
	}
	next := (s.TurnIndex + 1) % rosterLen
	wrapped := next == 0
	if wrapped {
		s.Round++
	}
	s.TurnIndex = next
	return wrapped
}

// Retreat steps back one combatant. Wrapping past the first combatant goes
// back a round, floored at 1.
func (s *Sequencer) Retreat(rosterLen int) bool {
	if rosterLen == 0 {
		return false
	}
	if s.TurnIndex == 0 {
		s.Round = max(1, s.Round-1)
		s.TurnIndex = rosterLen - 1
		return true
	}
	s.TurnIndex--
	return false
}

// ReclampAfterRemoval keeps the cursor inside a roster that just shrank to newLen.
func (s *Sequencer) ReclampAfterRemoval(newLen int) {
	if newLen == 0 {
		s.TurnIndex = 0
		return
	}
	s.TurnIndex = min(s.TurnIndex, newLen-1)
}

func (s Sequencer) normalize(rosterLen int) Sequencer {
	if s.Round < 1 {
		s.Round = 1
	}
	if rosterLen == 0 {
		s.TurnIndex = 0
	} else {
		s.TurnIndex = clamp(s.TurnIndex, 0, rosterLen-1)
	}
	return s
}
