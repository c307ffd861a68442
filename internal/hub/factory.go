package hub

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/session"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"github.com/DoyleJ11/combat-tracker/internal/syncer"
	"go.uber.org/zap"
)

const loadTimeout = 5 * time.Second

type FactoryOptions struct {
	Sync    syncer.Options
	Session session.Options
}

// NewFactory returns a Factory that backs every session with a
// syncer.Coordinator over states, keyed by the session id. The stored
// snapshot is loaded before the session starts. A session whose load failed
// still opens, empty, with autosave off until something is saved explicitly.
func NewFactory(states store.StateStore, opts FactoryOptions, logger *zap.Logger) Factory {
	return func(parent context.Context, id string, onIdle func(*session.Session, uint64)) (*session.Session, error) {
		coord := syncer.NewCoordinator(id, states, logger, opts.Sync)

		ctx, cancel := context.WithTimeout(parent, loadTimeout)
		snap, err := coord.Load(ctx)
		cancel()
		if err != nil && !errors.Is(err, syncer.ErrStorageUnavailable) {
			return nil, err
		}

		sessOpts := opts.Session
		sessOpts.OnIdle = onIdle
		initial := engine.FromSnapshot(snap, opts.Sync.Rules)
		return session.New(parent, id, initial, coord, logger, sessOpts), nil
	}
}
