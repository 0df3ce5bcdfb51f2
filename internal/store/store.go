package store

import (
	"context"
	"errors"

	"modwatch/internal/models"
)

var (
	// ErrDuplicateKey surfaces a lost create race: another writer
	// inserted the same id between TryUpdate and Create.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTxDone is returned when a transaction handle is used after
	// Commit or Rollback.
	ErrTxDone = errors.New("transaction already finished")
)

// MergeFunc rewrites an existing record into its merged form. It must
// be pure: no mutation of the argument, the returned value is what gets
// persisted.
type MergeFunc func(models.UserRecord) models.UserRecord

// Store is the durable keyed storage of one record per user identity.
type Store interface {
	// BeginCreate opens a scope in which a TryUpdate miss followed by a
	// Create behaves as one logically atomic unit with respect to other
	// writers of the same id. Dropping the handle without Commit
	// persists nothing.
	BeginCreate(ctx context.Context) (CreateTx, error)

	// Get reads a record outside any transaction. Returns ok=false when
	// no record exists for the id.
	Get(ctx context.Context, id uint64) (models.UserRecord, bool, error)
}

// CreateTx is the transaction handle returned by BeginCreate. Rollback
// must be called on every exit path; it is a no-op after Commit.
type CreateTx interface {
	// TryUpdate applies merge to the existing record and persists the
	// result, returning true. Returns false without mutation when no
	// record exists for the id.
	TryUpdate(ctx context.Context, id uint64, merge MergeFunc) (bool, error)

	// Create inserts a new record, failing with ErrDuplicateKey when a
	// record for the id appeared concurrently.
	Create(ctx context.Context, rec models.UserRecord) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
