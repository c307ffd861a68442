package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"github.com/DoyleJ11/combat-tracker/internal/store/bolt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk on fire")

// memStates is a StateStore that remembers every write.
type memStates struct {
	mu      sync.Mutex
	data    map[string][]byte
	writes  [][]byte
	loadErr error
	saveErr error
}

func newMemStates() *memStates {
	return &memStates{data: map[string][]byte{}}
}

func (m *memStates) LoadState(_ context.Context, scope string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	d, ok := m.data[scope]
	if !ok {
		return nil, store.ErrNotFound
	}
	return d, nil
}

func (m *memStates) SaveState(_ context.Context, scope string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[scope] = data
	m.writes = append(m.writes, data)
	return nil
}

func (m *memStates) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

// fakeRemote is an in-memory remote RecordStore that can be told to fail
// creates for particular record names.
type fakeRemote struct {
	mu       sync.Mutex
	records  map[string]store.Record
	failName map[string]bool
	creates  int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: map[string]store.Record{}, failName: map[string]bool{}}
}

func (f *fakeRemote) ListByUser(_ context.Context, userID string) ([]store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Record{}
	for _, r := range f.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) Get(_ context.Context, id, userID string) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.UserID != userID {
		return store.Record{}, store.ErrNotFound
	}
	return r, nil
}

func (f *fakeRemote) Create(_ context.Context, userID string, in store.NewRecord) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failName[in.Name] {
		return store.Record{}, errors.New("connection reset")
	}
	f.creates++
	now := time.Now().UTC()
	r := store.Record{ID: uuid.NewString(), UserID: userID, Name: in.Name, Description: in.Description, CombatData: in.CombatData, CreatedAt: now, UpdatedAt: now}
	f.records[r.ID] = r
	return r, nil
}

func (f *fakeRemote) Update(_ context.Context, id, userID string, patch store.RecordPatch) (store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.UserID != userID {
		return store.Record{}, store.ErrNotFound
	}
	r = store.ApplyPatch(r, patch)
	f.records[id] = r
	return r, nil
}

func (f *fakeRemote) Delete(_ context.Context, id, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.UserID != userID {
		return false, nil
	}
	delete(f.records, id)
	return true, nil
}

func openLocal(t *testing.T) *bolt.Store {
	t.Helper()
	s, err := bolt.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func snapshotOf(t *testing.T, names ...string) engine.Snapshot {
	t.Helper()
	s := engine.NewEmptyState(engine.Rules{})
	for i, n := range names {
		_, next, err := engine.Apply(s, engine.Command{
			Type:      engine.CmdAddCombatant,
			Combatant: engine.NewCombatant(n, engine.KindMonster, 10+i, 12, 13),
		})
		require.NoError(t, err)
		s = next
	}
	return s.ToSnapshot()
}
