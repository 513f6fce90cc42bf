// Package postgres provides a PostgreSQL-backed [prefs.Store].
//
// The schema is managed with embedded golang-migrate migrations; [NewStore]
// applies them on start-up.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/MrWong99/hertz/pkg/prefs"
)

// Compile-time interface check.
var _ prefs.Store = (*Store)(nil)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists guild preferences in the guild_preferences table and the
// waiting tracks of each guild in guild_queue. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool to dsn, verifies connectivity and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("prefs postgres: ping: %w", err)
	}

	if err := Migrate(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("prefs postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate applies all pending schema migrations.
func Migrate(pool *pgxpool.Pool) (err error) {
	db := stdlib.OpenDBFromPool(pool)
	defer func() {
		if cerr := db.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		err = errors.Join(err, srcErr, dbErr)
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("up: %w", err)
	}
	return nil
}

// Load implements [prefs.Store.Load].
func (s *Store) Load(ctx context.Context, guildID string) (prefs.Preferences, error) {
	const q = `
		SELECT guild_id, loop_mode, volume, updated_at
		FROM guild_preferences
		WHERE guild_id = $1`

	var p prefs.Preferences
	err := s.pool.QueryRow(ctx, q, guildID).Scan(&p.GuildID, &p.LoopMode, &p.Volume, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return prefs.Preferences{}, prefs.ErrNotFound
	}
	if err != nil {
		return prefs.Preferences{}, fmt.Errorf("prefs postgres: load %s: %w", guildID, err)
	}
	return p, nil
}

// Save implements [prefs.Store.Save]. Existing preferences are replaced.
func (s *Store) Save(ctx context.Context, p prefs.Preferences) error {
	if p.GuildID == "" {
		return errors.New("prefs postgres: save: empty guild id")
	}
	const q = `
		INSERT INTO guild_preferences (guild_id, loop_mode, volume, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (guild_id) DO UPDATE SET
			loop_mode  = EXCLUDED.loop_mode,
			volume     = EXCLUDED.volume,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, q, p.GuildID, p.LoopMode, p.Volume); err != nil {
		return fmt.Errorf("prefs postgres: save %s: %w", p.GuildID, err)
	}
	return nil
}

// LoadQueue implements [prefs.Store.LoadQueue].
func (s *Store) LoadQueue(ctx context.Context, guildID string) ([]prefs.QueuedTrack, error) {
	const q = `
		SELECT source, title, artist, duration_ms, live, direct,
		       requester_id, requester_name, added_at
		FROM guild_queue
		WHERE guild_id = $1
		ORDER BY position`

	rows, err := s.pool.Query(ctx, q, guildID)
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: load queue %s: %w", guildID, err)
	}
	tracks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (prefs.QueuedTrack, error) {
		var (
			t  prefs.QueuedTrack
			ms int64
		)
		err := row.Scan(&t.Source, &t.Title, &t.Artist, &ms, &t.Live, &t.Direct,
			&t.RequesterID, &t.RequesterName, &t.AddedAt)
		t.Duration = time.Duration(ms) * time.Millisecond
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("prefs postgres: load queue %s: %w", guildID, err)
	}
	return tracks, nil
}

// SaveQueue implements [prefs.Store.SaveQueue]. The old rows are replaced in
// one transaction.
func (s *Store) SaveQueue(ctx context.Context, guildID string, tracks []prefs.QueuedTrack) error {
	if guildID == "" {
		return errors.New("prefs postgres: save queue: empty guild id")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("prefs postgres: save queue %s: begin: %w", guildID, err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Warn("prefs postgres: rollback queue save", "guild_id", guildID, "err", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM guild_queue WHERE guild_id = $1`, guildID); err != nil {
		return fmt.Errorf("prefs postgres: save queue %s: delete: %w", guildID, err)
	}
	if len(tracks) > 0 {
		columns := []string{
			"guild_id", "position", "source", "title", "artist", "duration_ms",
			"live", "direct", "requester_id", "requester_name", "added_at",
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"guild_queue"}, columns,
			pgx.CopyFromSlice(len(tracks), func(i int) ([]any, error) {
				t := tracks[i]
				added := t.AddedAt
				if added.IsZero() {
					added = time.Now()
				}
				return []any{
					guildID, i, t.Source, t.Title, t.Artist, t.Duration.Milliseconds(),
					t.Live, t.Direct, t.RequesterID, t.RequesterName, added,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("prefs postgres: save queue %s: copy: %w", guildID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("prefs postgres: save queue %s: commit: %w", guildID, err)
	}
	return nil
}

// Ping verifies that the database is reachable. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
