package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modwatch/internal/models"
	"modwatch/internal/store"
)

// createRetries bounds how often a reconciliation restarts after losing
// a create race. One retry is enough in theory (the record exists once
// the winner commits); a second covers the winner rolling back.
const createRetries = 3

// Reconciler merges partial user observations into the record store
// with upsert semantics: create on first sighting, field-level merge on
// every one after that.
type Reconciler struct {
	store store.Store
	log   *slog.Logger
	now   func() time.Time
}

func New(st store.Store, log *slog.Logger) *Reconciler {
	return &Reconciler{
		store: st,
		log:   log,
		now:   time.Now,
	}
}

// NewWithClock is used by tests that need a deterministic timestamp.
func NewWithClock(st store.Store, log *slog.Logger, now func() time.Time) *Reconciler {
	r := New(st, log)
	r.now = now
	return r
}

// Reconcile upserts the observation into the store. Fire-and-forget
// from the caller's point of view: it either completes or errors, there
// is no result value.
func (r *Reconciler) Reconcile(ctx context.Context, obs models.Observation) error {
	if obs.UserID == 0 {
		return errors.New("observation missing user id")
	}

	var lastErr error
	for attempt := 0; attempt <= createRetries; attempt++ {
		done, err := r.reconcileOnce(ctx, obs)
		if err != nil {
			return err
		}
		if done {
			if attempt > 0 {
				r.log.Debug("create_race_resolved_as_update", "user_id", obs.UserID, "attempt", attempt)
			}
			return nil
		}
		// lost the create race; the winner's row exists (or will the
		// moment its transaction commits), so go around as an update
		lastErr = store.ErrDuplicateKey
		r.log.Debug("create_race_lost", "user_id", obs.UserID, "attempt", attempt)
	}
	return fmt.Errorf("reconcile user %d: %w", obs.UserID, lastErr)
}

// reconcileOnce runs one try-update-else-create transaction. It reports
// done=false only for a lost create race, which the caller retries in a
// fresh transaction (the current one is aborted by the conflict).
func (r *Reconciler) reconcileOnce(ctx context.Context, obs models.Observation) (bool, error) {
	tx, err := r.store.BeginCreate(ctx)
	if err != nil {
		return false, fmt.Errorf("reconcile user %d: %w", obs.UserID, err)
	}
	defer tx.Rollback(ctx)

	now := r.now()

	updated, err := tx.TryUpdate(ctx, obs.UserID, func(existing models.UserRecord) models.UserRecord {
		return Merge(existing, obs, now)
	})
	if err != nil {
		return false, fmt.Errorf("reconcile user %d: %w", obs.UserID, err)
	}

	if !updated {
		err = tx.Create(ctx, newRecord(obs, now))
		if errors.Is(err, store.ErrDuplicateKey) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("reconcile user %d: %w", obs.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("reconcile user %d: %w", obs.UserID, err)
	}
	return true, nil
}

// Merge applies the field provenance rules to an existing record. Pure
// function: the argument is not mutated.
//
// A field is only overwritten by an observation that actually carries a
// value for it. The one exception is the nickname, where a guild-scoped
// observation is authoritative even when empty: having guild context
// means "this IS the nickname", including "there is none".
func Merge(existing models.UserRecord, obs models.Observation, now time.Time) models.UserRecord {
	rec := existing

	if obs.Username != "" {
		rec.Username = obs.Username
	}
	if obs.Discriminator != 0 {
		rec.Discriminator = fmt.Sprintf("%04d", obs.Discriminator)
	}
	if obs.GuildScoped {
		nick := obs.Nickname
		rec.Nickname = &nick
	}
	rec.LastSeen = now

	return rec
}

func newRecord(obs models.Observation, now time.Time) models.UserRecord {
	rec := models.UserRecord{
		ID:            obs.UserID,
		Username:      models.UnknownUsername,
		Discriminator: models.UnknownDiscriminator,
		FirstSeen:     now,
		LastSeen:      now,
	}
	if obs.Username != "" {
		rec.Username = obs.Username
	}
	if obs.Discriminator != 0 {
		rec.Discriminator = fmt.Sprintf("%04d", obs.Discriminator)
	}
	if obs.GuildScoped {
		nick := obs.Nickname
		rec.Nickname = &nick
	}
	return rec
}
