package syncer

import (
	"context"
	"fmt"
	"strings"

	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/identity"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Local buckets are keyed by owner kind so a client key can never name a
// user's bucket.
const (
	clientOwnerPrefix = "client/"
	userOwnerPrefix   = "user/"
)

// ClientOwner is the local owner of records saved without an account under
// the given client key.
func ClientOwner(scope string) string { return clientOwnerPrefix + scope }

// UserOwner is the local owner of records a signed-in user keeps on this
// server while no remote store is configured.
func UserOwner(userID string) string { return userOwnerPrefix + userID }

// Records manages named snapshots. Authenticated callers use the remote store
// when one is configured; everyone else keeps records in the local store.
// Remote writes only ever happen here, on explicit request, never from
// autosave.
type Records struct {
	local  store.LocalRecordStore
	remote store.RecordStore
	logger *zap.Logger
}

// NewRecords wires the record stores. remote may be nil.
func NewRecords(local store.LocalRecordStore, remote store.RecordStore, logger *zap.Logger) *Records {
	return &Records{local: local, remote: remote, logger: logger.Named("records")}
}

func (r *Records) RemoteEnabled() bool { return r.remote != nil }

type target struct {
	store  store.RecordStore
	owner  string
	remote bool
}

// target picks the store and owner for id. Anonymous callers without a
// client key have no records of their own.
func (r *Records) target(id identity.Identity) (target, error) {
	switch {
	case id.IsAuthenticated() && r.remote != nil:
		return target{store: r.remote, owner: id.CurrentUserID(), remote: true}, nil
	case id.IsAuthenticated():
		return target{store: r.local, owner: UserOwner(id.CurrentUserID())}, nil
	case id.LocalScope() != "":
		return target{store: r.local, owner: ClientOwner(id.LocalScope())}, nil
	default:
		return target{}, ErrClientKeyRequired
	}
}

func (r *Records) List(ctx context.Context, id identity.Identity) ([]store.Record, error) {
	t, err := r.target(id)
	if err != nil {
		return nil, err
	}
	list, err := t.store.ListByUser(ctx, t.owner)
	if err != nil {
		r.logger.Warn("list saved combats failed", zap.Bool("remote", t.remote), zap.Error(err))
		return nil, classify("list saved combats", err)
	}

	out := list[:0]
	for _, rec := range list {
		if rec.UserID != t.owner {
			r.logger.Warn("dropping record with foreign owner", zap.String("record", rec.ID))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Records) Get(ctx context.Context, id identity.Identity, recordID string) (store.Record, error) {
	t, err := r.target(id)
	if err != nil {
		return store.Record{}, err
	}
	rec, err := t.store.Get(ctx, recordID, t.owner)
	if err != nil {
		return store.Record{}, classify("get saved combat", err)
	}
	if rec.UserID != t.owner {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (r *Records) Save(ctx context.Context, id identity.Identity, name, description string, snap engine.Snapshot) (store.Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Record{}, ErrNameRequired
	}

	t, err := r.target(id)
	if err != nil {
		return store.Record{}, err
	}
	rec, err := t.store.Create(ctx, t.owner, store.NewRecord{
		Name:        name,
		Description: strings.TrimSpace(description),
		CombatData:  snap.Normalize(),
	})
	if err != nil {
		r.logger.Warn("save combat failed", zap.Bool("remote", t.remote), zap.Error(err))
		return store.Record{}, classify("save combat", err)
	}
	r.logger.Info("combat saved", zap.String("record", rec.ID), zap.Bool("remote", t.remote))
	return rec, nil
}

func (r *Records) Update(ctx context.Context, id identity.Identity, recordID string, patch store.RecordPatch) (store.Record, error) {
	if patch.CombatData != nil {
		snap := patch.CombatData.Normalize()
		patch.CombatData = &snap
	}

	t, err := r.target(id)
	if err != nil {
		return store.Record{}, err
	}
	rec, err := t.store.Update(ctx, recordID, t.owner, patch)
	if err != nil {
		return store.Record{}, classify("update combat", err)
	}
	if rec.UserID != t.owner {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (r *Records) Delete(ctx context.Context, id identity.Identity, recordID string) error {
	t, err := r.target(id)
	if err != nil {
		return err
	}
	ok, err := t.store.Delete(ctx, recordID, t.owner)
	if err != nil {
		return classify("delete combat", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// MigrationResult summarizes one migration attempt.
type MigrationResult struct {
	Copied  int `json:"copied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// migrationOwners lists the local buckets that belong to id: the user's own
// and, when the request carries a client key, the records that browser saved
// before signing in.
func migrationOwners(id identity.Identity) []string {
	owners := []string{UserOwner(id.CurrentUserID())}
	if scope := id.LocalScope(); scope != "" {
		owners = append(owners, ClientOwner(scope))
	}
	return owners
}

// PendingMigration counts local records that have not been copied to the
// remote store yet. It is zero when migration isn't possible.
func (r *Records) PendingMigration(ctx context.Context, id identity.Identity) (int, error) {
	if r.remote == nil || !id.IsAuthenticated() {
		return 0, nil
	}

	pending := 0
	for _, owner := range migrationOwners(id) {
		list, err := r.local.ListByUser(ctx, owner)
		if err != nil {
			return 0, classify("list local combats", err)
		}
		for _, rec := range list {
			if rec.MigratedTo == "" {
				pending++
			}
		}
	}
	return pending, nil
}

// dropOrphan removes a remote copy whose local mark could not be written.
func (r *Records) dropOrphan(ctx context.Context, userID, remoteID string) {
	if _, err := r.remote.Delete(ctx, remoteID, userID); err != nil {
		r.logger.Error("orphaned remote copy left behind",
			zap.String("remote", remoteID), zap.Error(err))
	}
}

// Migrate copies the caller's local records into the remote store. Each copied
// record is marked locally so a retry skips it, and the local records are
// only cleared once all of them are confirmed.
func (r *Records) Migrate(ctx context.Context, id identity.Identity) (MigrationResult, error) {
	var res MigrationResult
	if !id.IsAuthenticated() {
		return res, identity.ErrUnauthenticated
	}
	if r.remote == nil {
		return res, ErrRemoteUnavailable
	}

	var errs error
	owners := migrationOwners(id)
	for _, owner := range owners {
		list, err := r.local.ListByUser(ctx, owner)
		if err != nil {
			return res, classify("list local combats", err)
		}

		for _, rec := range list {
			if rec.MigratedTo != "" {
				res.Skipped++
				continue
			}

			created, err := r.remote.Create(ctx, id.CurrentUserID(), store.NewRecord{
				Name:        rec.Name,
				Description: rec.Description,
				CombatData:  rec.CombatData.Normalize(),
			})
			if err != nil {
				res.Failed++
				errs = multierr.Append(errs, fmt.Errorf("copy %q: %w", rec.Name, classify("create", err)))
				continue
			}

			if err := r.local.MarkMigrated(ctx, rec.ID, owner, created.ID); err != nil {
				// Unmarked, the record would be copied again on retry.
				r.logger.Warn("copied record could not be marked",
					zap.String("record", rec.ID), zap.String("remote", created.ID), zap.Error(err))
				r.dropOrphan(ctx, id.CurrentUserID(), created.ID)
				res.Failed++
				errs = multierr.Append(errs, fmt.Errorf("mark %q: %w", rec.Name, classify("mark", err)))
				continue
			}
			res.Copied++
		}
	}

	if errs != nil {
		r.logger.Warn("migration incomplete", zap.Int("copied", res.Copied), zap.Int("failed", res.Failed), zap.Error(errs))
		return res, &MigrationError{Failed: res.Failed, Err: errs}
	}

	for _, owner := range owners {
		if err := r.local.ClearUser(ctx, owner); err != nil {
			return res, classify("clear local combats", err)
		}
	}
	r.logger.Info("migration complete", zap.Int("copied", res.Copied), zap.Int("skipped", res.Skipped))
	return res, nil
}
