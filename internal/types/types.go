// Package types holds the wire messages shared by the HTTP and WebSocket
// transports.
package types

import (
	"fmt"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/session"
	"github.com/DoyleJ11/combat-tracker/internal/store"
)

const (
	MsgStateSnapshot = "StateSnapshot"
	MsgError         = "Error"
)

type ClientMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Combatant *CombatantInput `json:"combatant,omitempty"`
	Patch     *engine.Patch   `json:"patch,omitempty"`
	Delta     int             `json:"delta,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// CombatantInput is a new combatant as sent by a client. Current HP starts
// at max HP unless given.
type CombatantInput struct {
	Name       string      `json:"name"`
	Kind       engine.Kind `json:"type"`
	Initiative int         `json:"initiative"`
	CurrentHP  *int        `json:"currentHP,omitempty"`
	MaxHP      int         `json:"maxHP"`
	AC         int         `json:"ac"`
	Notes      string      `json:"notes,omitempty"`
	Statuses   []string    `json:"statuses,omitempty"`
}

func (in CombatantInput) Combatant() engine.Combatant {
	c := engine.NewCombatant(in.Name, in.Kind, in.Initiative, in.MaxHP, in.AC)
	if in.CurrentHP != nil {
		c.CurrentHP = *in.CurrentHP
	}
	c.Notes = in.Notes
	for _, s := range in.Statuses {
		c.AddStatus(s)
	}
	return c
}

// ServerMessage carries the derived defeated and down flags as id lists
// alongside the state; they are never persisted.
type ServerMessage struct {
	Type         string           `json:"type"` // "StateSnapshot" | "Error"
	Version      int              `json:"version,omitempty"`
	State        *engine.Snapshot `json:"state,omitempty"`
	TimerRunning bool             `json:"timerRunning,omitempty"`
	Defeated     []string         `json:"defeated,omitempty"`
	Down         []string         `json:"down,omitempty"`
	Error        string           `json:"error,omitempty"`
}

func SnapshotMessage(upd session.Update) ServerMessage {
	msg := ServerMessage{
		Type:         MsgStateSnapshot,
		Version:      upd.Version,
		State:        &upd.State,
		TimerRunning: upd.TimerRunning,
	}
	for _, c := range upd.State.Combatants {
		switch {
		case c.Defeated():
			msg.Defeated = append(msg.Defeated, c.ID)
		case c.Down():
			msg.Down = append(msg.Down, c.ID)
		}
	}
	return msg
}

func ErrorMessage(msg string) ServerMessage {
	return ServerMessage{Type: MsgError, Error: msg}
}

// ToCommand maps a client message onto an engine command. The stopwatch tick
// is internal and cannot be sent by clients.
func ToCommand(m ClientMessage) (engine.Command, error) {
	cmd := engine.Command{
		Type:        engine.CommandType(m.Type),
		CombatantID: m.ID,
		Delta:       m.Delta,
		Status:      m.Status,
	}

	switch cmd.Type {
	case engine.CmdAddCombatant:
		if m.Combatant == nil {
			return engine.Command{}, fmt.Errorf("%w: combatant is required", engine.ErrInvalidCombatant)
		}
		cmd.Combatant = m.Combatant.Combatant()
	case engine.CmdUpdateCombatant:
		if m.Patch != nil {
			cmd.Patch = *m.Patch
		}
	case engine.CmdRemoveCombatant, engine.CmdAdjustHP, engine.CmdAddStatus, engine.CmdRemoveStatus,
		engine.CmdNextTurn, engine.CmdPreviousTurn,
		engine.CmdStartTimer, engine.CmdPauseTimer, engine.CmdResetTimer,
		engine.CmdResetCombat:
	default:
		return engine.Command{}, fmt.Errorf("%w: %q", engine.ErrUnsupportedCommand, m.Type)
	}
	return cmd, nil
}

// CombatRecord is the REST shape of a saved combat.
type CombatRecord struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CombatData  engine.Snapshot `json:"combat_data"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func FromRecord(r store.Record) CombatRecord {
	return CombatRecord{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CombatData:  r.CombatData,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type SaveCombatRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	CombatData  *engine.Snapshot `json:"combat_data,omitempty"` // defaults to the session's current state
	Session     string           `json:"session,omitempty"`
}

type UpdateCombatRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	CombatData  *engine.Snapshot `json:"combat_data,omitempty"`
}

type MigrationStatus struct {
	Pending       int  `json:"pending"`
	RemoteEnabled bool `json:"remoteEnabled"`
}
