// Package syncer keeps durable stores in step with the in-memory session.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultDelay   = time.Second
	DefaultMaxWait = 10 * time.Second
)

type Options struct {
	Delay   time.Duration
	MaxWait time.Duration
	Rules   engine.Rules
}

// Coordinator autosaves one session to the local store.
//
// Writes stay disarmed until Load has read the stored document (or found
// none), so a fresh empty session can never overwrite data that hasn't been
// read back yet.
type Coordinator struct {
	scope    string
	states   store.StateStore
	logger   *zap.Logger
	rules    engine.Rules
	debounce *Debouncer

	mu      sync.Mutex
	armed   bool
	pending *engine.Snapshot

	writeMu sync.Mutex
}

func NewCoordinator(scope string, states store.StateStore, logger *zap.Logger, opts Options) *Coordinator {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	c := &Coordinator{
		scope:  scope,
		states: states,
		logger: logger.Named("syncer").With(zap.String("session", scope)),
		rules:  opts.Rules,
	}
	c.debounce = NewDebouncer(opts.Delay, opts.MaxWait, c.autosave)
	return c
}

// Load reads the stored session. A missing document yields an empty session.
// Either outcome arms autosave; a read or decode failure leaves it disarmed
// and is returned alongside the empty session.
func (c *Coordinator) Load(ctx context.Context) (engine.Snapshot, error) {
	empty := engine.NewEmptyState(c.rules).ToSnapshot()

	data, err := c.states.LoadState(ctx, c.scope)
	if errors.Is(err, store.ErrNotFound) {
		c.arm()
		c.logger.Debug("no stored session, starting empty")
		return empty, nil
	}
	if err != nil {
		c.logger.Warn("load session failed, autosave disarmed", zap.Error(err))
		return empty, classify("load session", err)
	}

	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("stored session is unreadable, autosave disarmed", zap.Error(err))
		return empty, fmt.Errorf("decode session: %w: %w", ErrStorageUnavailable, err)
	}

	snap = engine.FromSnapshot(snap, c.rules).ToSnapshot()
	c.arm()
	c.logger.Info("session restored",
		zap.Int("combatants", len(snap.Combatants)),
		zap.Int("round", snap.Round),
	)
	return snap, nil
}

func (c *Coordinator) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Notify records snap as the latest committed state and schedules a
// debounced write. Before arming it does nothing.
func (c *Coordinator) Notify(snap engine.Snapshot) {
	c.mu.Lock()
	if !c.armed {
		c.mu.Unlock()
		c.logger.Debug("mutation before load, not persisted")
		return
	}
	cp := snap.Clone()
	c.pending = &cp
	c.mu.Unlock()

	c.debounce.Trigger()
}

// Save writes snap right away, bypassing the debounce, and arms autosave.
// Used for deliberate one-shot replacements such as import.
func (c *Coordinator) Save(ctx context.Context, snap engine.Snapshot) error {
	c.debounce.Cancel()
	c.mu.Lock()
	c.pending = nil
	c.armed = true
	c.mu.Unlock()

	return c.write(ctx, snap)
}

// Flush writes a pending snapshot, if any, without waiting for the quiet period.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.debounce.Cancel()
	return c.writePending(ctx)
}

// Close flushes and stops the debouncer. Later notifications are dropped.
func (c *Coordinator) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.debounce.Stop()
	return err
}

func (c *Coordinator) arm() {
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
}

func (c *Coordinator) autosave() {
	// Local persistence is best effort; the session carries on regardless.
	if err := c.writePending(context.Background()); err != nil {
		c.logger.Warn("autosave failed", zap.Error(err))
	}
}

func (c *Coordinator) writePending(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	snap := c.pending
	c.pending = nil
	c.mu.Unlock()

	if snap == nil {
		return nil
	}
	return c.writeLocked(ctx, *snap)
}

func (c *Coordinator) write(ctx context.Context, snap engine.Snapshot) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(ctx, snap)
}

// writeLocked must be called with writeMu held, which keeps writes in the
// order their snapshots were taken.
func (c *Coordinator) writeLocked(ctx context.Context, snap engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode session: %w: %w", ErrStorageUnavailable, err)
	}
	if err := c.states.SaveState(ctx, c.scope, data); err != nil {
		return classify("save session", err)
	}
	c.logger.Debug("session saved", zap.Int("bytes", len(data)))
	return nil
}
