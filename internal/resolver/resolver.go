package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"modwatch/internal/models"
	"modwatch/internal/reconciler"
)

// ErrNotFound means the platform has no such user or guild. Retrying
// will not help; callers surface it as-is.
var ErrNotFound = errors.New("not found")

// Platform is the chat-platform collaborator boundary. Implementations
// own the wire protocol; the resolver only sees resolved snapshots.
type Platform interface {
	User(ctx context.Context, id uint64) (models.UserSnapshot, error)
	GuildUser(ctx context.Context, guildID, id uint64) (models.UserSnapshot, error)
	Guild(ctx context.Context, guildID uint64) (models.Guild, error)
}

// Resolver funnels every successful lookup through reconciliation, so
// the record store tracks whatever the platform last reported.
type Resolver struct {
	platform Platform
	rec      *reconciler.Reconciler
	log      *slog.Logger

	// strict makes a reconciliation failure fail the whole lookup.
	// Default is lenient: the caller still gets its snapshot and the
	// store problem is logged.
	strict bool
}

func New(platform Platform, rec *reconciler.Reconciler, log *slog.Logger, strict bool) *Resolver {
	return &Resolver{
		platform: platform,
		rec:      rec,
		log:      log,
		strict:   strict,
	}
}

// GetUser resolves a user by id. The scope parameter is the caller's
// current guild, threaded explicitly: when set, resolution happens
// within that guild (and picks up the nickname); when nil, globally.
func (r *Resolver) GetUser(ctx context.Context, id uint64, scope *uint64) (models.UserSnapshot, error) {
	if scope != nil {
		return r.GetGuildUser(ctx, *scope, id)
	}

	snap, err := r.platform.User(ctx, id)
	if err != nil {
		return models.UserSnapshot{}, fmt.Errorf("resolve user %d: %w", id, err)
	}

	if err := r.reconcile(ctx, snap); err != nil {
		return models.UserSnapshot{}, err
	}
	return snap, nil
}

// GetGuildUser resolves a user within a guild: the guild first, then
// the member. Either missing is ErrNotFound before any store write.
func (r *Resolver) GetGuildUser(ctx context.Context, guildID, id uint64) (models.UserSnapshot, error) {
	if _, err := r.platform.Guild(ctx, guildID); err != nil {
		return models.UserSnapshot{}, fmt.Errorf("resolve guild %d: %w", guildID, err)
	}

	snap, err := r.platform.GuildUser(ctx, guildID, id)
	if err != nil {
		return models.UserSnapshot{}, fmt.Errorf("resolve user %d in guild %d: %w", id, guildID, err)
	}

	if err := r.reconcile(ctx, snap); err != nil {
		return models.UserSnapshot{}, err
	}
	return snap, nil
}

func (r *Resolver) reconcile(ctx context.Context, snap models.UserSnapshot) error {
	err := r.rec.Reconcile(ctx, snap.Observation())
	if err == nil {
		return nil
	}
	if r.strict {
		return fmt.Errorf("reconcile user %d: %w", snap.ID, err)
	}
	r.log.Warn("reconcile_failed_after_resolution", "user_id", snap.ID, "error", err)
	return nil
}
