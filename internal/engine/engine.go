package engine

import (
	"errors"
)

var ErrCapacityExceeded = errors.New("combatant limit reached")
var ErrInvalidCombatant = errors.New("invalid combatant")
var ErrUnsupportedCommand = errors.New("unsupported command")

const DefaultMaxCombatants = 50

type State struct {
	Roster       *Roster
	Turn         Sequencer
	Timer        int
	TimerRunning bool
	Rules        Rules
}

type Rules struct {
	MaxCombatants int
}

type CommandType string

const (
	CmdAddCombatant    CommandType = "AddCombatant"
	CmdUpdateCombatant CommandType = "UpdateCombatant"
	CmdRemoveCombatant CommandType = "RemoveCombatant"
	CmdAdjustHP        CommandType = "AdjustHP"
	CmdAddStatus       CommandType = "AddStatus"
	CmdRemoveStatus    CommandType = "RemoveStatus"
	CmdNextTurn        CommandType = "NextTurn"
	CmdPreviousTurn    CommandType = "PreviousTurn"
	CmdStartTimer      CommandType = "StartTimer"
	CmdPauseTimer      CommandType = "PauseTimer"
	CmdResetTimer      CommandType = "ResetTimer"
	CmdTickTimer       CommandType = "TickTimer"
	CmdResetCombat     CommandType = "ResetCombat"
)

/*
	CmdAddCombatant    -> EvtCombatantAdded
	CmdUpdateCombatant -> EvtCombatantUpdated
	CmdRemoveCombatant -> EvtCombatantRemoved
	CmdAdjustHP        -> EvtHPChanged
	CmdAddStatus       -> EvtStatusAdded
	CmdRemoveStatus    -> EvtStatusRemoved
	CmdNextTurn        -> EvtTurnAdvanced (-> EvtRoundStarted on wrap)
	CmdPreviousTurn    -> EvtTurnRetreated
	CmdStartTimer      -> EvtTimerStarted
	CmdPauseTimer      -> EvtTimerPaused
	CmdResetTimer      -> EvtTimerReset
	CmdTickTimer       -> EvtTimerTicked (only while running)
	CmdResetCombat     -> EvtCombatReset

	A command that matches nothing (unknown id, empty roster, duplicate status)
	yields no events and the state unchanged.
*/

type Command struct {
	Type        CommandType
	CombatantID string
	Combatant   Combatant
	Patch       Patch
	Delta       int
	Status      string
}

type EventType string

const (
	EvtCombatantAdded   EventType = "CombatantAdded"
	EvtCombatantUpdated EventType = "CombatantUpdated"
	EvtCombatantRemoved EventType = "CombatantRemoved"
	EvtHPChanged        EventType = "HPChanged"
	EvtStatusAdded      EventType = "StatusAdded"
	EvtStatusRemoved    EventType = "StatusRemoved"
	EvtTurnAdvanced     EventType = "TurnAdvanced"
	EvtTurnRetreated    EventType = "TurnRetreated"
	EvtRoundStarted     EventType = "RoundStarted"
	EvtTimerStarted     EventType = "TimerStarted"
	EvtTimerPaused      EventType = "TimerPaused"
	EvtTimerReset       EventType = "TimerReset"
	EvtTimerTicked      EventType = "TimerTicked"
	EvtCombatReset      EventType = "CombatReset"
)

type Event struct {
	Type        EventType
	CombatantID string
	Round       int
	Value       int
}

// Apply runs cmd against a copy of s. The input state is never modified.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s.clone()

	switch cmd.Type {
	case CmdAddCombatant:
		c := cmd.Combatant
		if c.ID == "" {
			c.ID = NewID()
		} else if _, taken := newState.Roster.Find(c.ID); taken {
			c.ID = NewID()
		}
		if c.Statuses == nil {
			c.Statuses = []string{}
		}
		c.MaxHP = max(c.MaxHP, 0)
		c.CurrentHP = clamp(c.CurrentHP, 0, c.MaxHP)
		if err := newState.Roster.Add(c); err != nil {
			return nil, s, err
		}
		return []Event{{Type: EvtCombatantAdded, CombatantID: c.ID}}, newState, nil

	case CmdUpdateCombatant:
		if !newState.Roster.Update(cmd.CombatantID, cmd.Patch) {
			return nil, s, nil
		}
		return []Event{{Type: EvtCombatantUpdated, CombatantID: cmd.CombatantID}}, newState, nil

	case CmdRemoveCombatant:
		if !newState.Roster.Remove(cmd.CombatantID) {
			return nil, s, nil
		}
		// Reclamp in the same step so the cursor never points past the end.
		newState.Turn.ReclampAfterRemoval(newState.Roster.Len())
		return []Event{{Type: EvtCombatantRemoved, CombatantID: cmd.CombatantID}}, newState, nil

	case CmdAdjustHP:
		var hp int
		changed := newState.Roster.Mutate(cmd.CombatantID, func(c *Combatant) bool {
			before := c.CurrentHP
			c.AdjustHP(cmd.Delta)
			hp = c.CurrentHP
			return hp != before
		})
		if !changed {
			return nil, s, nil
		}
		return []Event{{Type: EvtHPChanged, CombatantID: cmd.CombatantID, Value: hp}}, newState, nil

	case CmdAddStatus:
		if !newState.Roster.Mutate(cmd.CombatantID, func(c *Combatant) bool { return c.AddStatus(cmd.Status) }) {
			return nil, s, nil
		}
		return []Event{{Type: EvtStatusAdded, CombatantID: cmd.CombatantID}}, newState, nil

	case CmdRemoveStatus:
		if !newState.Roster.Mutate(cmd.CombatantID, func(c *Combatant) bool { return c.RemoveStatus(cmd.Status) }) {
			return nil, s, nil
		}
		return []Event{{Type: EvtStatusRemoved, CombatantID: cmd.CombatantID}}, newState, nil

	case CmdNextTurn:
		n := newState.Roster.Len()
		if n == 0 {
			return nil, s, nil
		}
		events := []Event{}
		if newState.Turn.Advance(n) {
			events = append(events, Event{Type: EvtRoundStarted, Round: newState.Turn.Round})
		}
		events = append(events, Event{Type: EvtTurnAdvanced, CombatantID: newState.activeID(), Round: newState.Turn.Round})
		return events, newState, nil

	case CmdPreviousTurn:
		n := newState.Roster.Len()
		if n == 0 {
			return nil, s, nil
		}
		newState.Turn.Retreat(n)
		return []Event{{Type: EvtTurnRetreated, CombatantID: newState.activeID(), Round: newState.Turn.Round}}, newState, nil

	case CmdStartTimer:
		if newState.TimerRunning {
			return nil, s, nil
		}
		newState.TimerRunning = true
		return []Event{{Type: EvtTimerStarted, Value: newState.Timer}}, newState, nil

	case CmdPauseTimer:
		if !newState.TimerRunning {
			return nil, s, nil
		}
		newState.TimerRunning = false
		return []Event{{Type: EvtTimerPaused, Value: newState.Timer}}, newState, nil

	case CmdResetTimer:
		newState.Timer = 0
		newState.TimerRunning = false
		return []Event{{Type: EvtTimerReset}}, newState, nil

	case CmdTickTimer:
		if !newState.TimerRunning {
			return nil, s, nil
		}
		newState.Timer++
		return []Event{{Type: EvtTimerTicked, Value: newState.Timer}}, newState, nil

	case CmdResetCombat:
		newState.Roster.Clear()
		newState.Turn = NewSequencer()
		newState.Timer = 0
		newState.TimerRunning = false
		return []Event{{Type: EvtCombatReset}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Active returns the combatant whose turn it is.
func (s State) Active() (Combatant, bool) {
	if s.Roster == nil {
		return Combatant{}, false
	}
	return s.Roster.At(s.Turn.TurnIndex)
}

func (s State) activeID() string {
	c, _ := s.Active()
	return c.ID
}

func (s State) clone() State {
	cp := s
	if s.Roster == nil {
		cp.Roster = NewRoster(s.Rules.MaxCombatants)
	} else {
		cp.Roster = s.Roster.clone()
	}
	return cp
}
