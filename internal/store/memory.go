package store

import (
	"context"
	"sync"

	"modwatch/internal/models"
)

// Memory is an in-process Store used by tests and local runs. It
// serializes transactions per id the same way the Postgres row lock
// does: the first operation touching an id holds it until Commit or
// Rollback.
type Memory struct {
	mu      sync.Mutex
	records map[uint64]models.UserRecord
	locks   map[uint64]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[uint64]models.UserRecord),
		locks:   make(map[uint64]*sync.Mutex),
	}
}

func (m *Memory) BeginCreate(ctx context.Context) (CreateTx, error) {
	return &memCreateTx{
		store:  m,
		staged: make(map[uint64]models.UserRecord),
		held:   make(map[uint64]*sync.Mutex),
	}, nil
}

func (m *Memory) Get(ctx context.Context, id uint64) (models.UserRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

// Len reports the number of committed records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Memory) rowLock(id uint64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

type memCreateTx struct {
	store  *Memory
	staged map[uint64]models.UserRecord
	held   map[uint64]*sync.Mutex
	done   bool
}

func (t *memCreateTx) lock(id uint64) {
	if _, ok := t.held[id]; ok {
		return
	}
	l := t.store.rowLock(id)
	l.Lock()
	t.held[id] = l
}

func (t *memCreateTx) TryUpdate(ctx context.Context, id uint64, merge MergeFunc) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}
	t.lock(id)

	rec, ok := t.staged[id]
	if !ok {
		t.store.mu.Lock()
		rec, ok = t.store.records[id]
		t.store.mu.Unlock()
	}
	if !ok {
		return false, nil
	}

	t.staged[id] = merge(rec)
	return true, nil
}

func (t *memCreateTx) Create(ctx context.Context, rec models.UserRecord) error {
	if t.done {
		return ErrTxDone
	}
	t.lock(rec.ID)

	if _, ok := t.staged[rec.ID]; ok {
		return ErrDuplicateKey
	}
	t.store.mu.Lock()
	_, exists := t.store.records[rec.ID]
	t.store.mu.Unlock()
	if exists {
		return ErrDuplicateKey
	}

	t.staged[rec.ID] = rec
	return nil
}

func (t *memCreateTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	t.store.mu.Lock()
	for id, rec := range t.staged {
		t.store.records[id] = rec
	}
	t.store.mu.Unlock()

	t.release()
	return nil
}

func (t *memCreateTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	t.release()
	return nil
}

func (t *memCreateTx) release() {
	for id, l := range t.held {
		l.Unlock()
		delete(t.held, id)
	}
}
