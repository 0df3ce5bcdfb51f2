package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"modwatch/internal/db"
	"modwatch/internal/models"
)

// Postgres keeps user records in the users table:
//
//	id BIGINT PRIMARY KEY, username TEXT, discriminator TEXT,
//	nickname TEXT NULL, first_seen TIMESTAMPTZ, last_seen TIMESTAMPTZ
type Postgres struct {
	db *db.DB
}

func NewPostgres(dbConn *db.DB) *Postgres {
	return &Postgres{db: dbConn}
}

func (p *Postgres) BeginCreate(ctx context.Context) (CreateTx, error) {
	tx, err := p.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create tx: %w", err)
	}
	return &pgCreateTx{tx: tx}, nil
}

func (p *Postgres) Get(ctx context.Context, id uint64) (models.UserRecord, bool, error) {
	var rec models.UserRecord
	err := p.db.Pool.QueryRow(ctx,
		`SELECT id, username, discriminator, nickname, first_seen, last_seen
		 FROM users WHERE id = $1`,
		int64(id),
	).Scan(&rec.ID, &rec.Username, &rec.Discriminator, &rec.Nickname, &rec.FirstSeen, &rec.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.UserRecord{}, false, nil
	}
	if err != nil {
		return models.UserRecord{}, false, err
	}
	return rec, true, nil
}

type pgCreateTx struct {
	tx   pgx.Tx
	done bool
}

func (t *pgCreateTx) TryUpdate(ctx context.Context, id uint64, merge MergeFunc) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}

	var rec models.UserRecord
	err := t.tx.QueryRow(ctx,
		`SELECT id, username, discriminator, nickname, first_seen, last_seen
		 FROM users WHERE id = $1 FOR UPDATE`,
		int64(id),
	).Scan(&rec.ID, &rec.Username, &rec.Discriminator, &rec.Nickname, &rec.FirstSeen, &rec.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select for update: %w", err)
	}

	merged := merge(rec)

	// the id and first_seen columns never move
	_, err = t.tx.Exec(ctx,
		`UPDATE users SET username = $2, discriminator = $3, nickname = $4, last_seen = $5
		 WHERE id = $1`,
		int64(id), merged.Username, merged.Discriminator, merged.Nickname, merged.LastSeen,
	)
	if err != nil {
		return false, fmt.Errorf("update user: %w", err)
	}
	return true, nil
}

func (t *pgCreateTx) Create(ctx context.Context, rec models.UserRecord) error {
	if t.done {
		return ErrTxDone
	}

	_, err := t.tx.Exec(ctx,
		`INSERT INTO users (id, username, discriminator, nickname, first_seen, last_seen)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(rec.ID), rec.Username, rec.Discriminator, rec.Nickname, rec.FirstSeen, rec.LastSeen,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (t *pgCreateTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *pgCreateTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
