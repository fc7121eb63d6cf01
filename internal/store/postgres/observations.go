// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for observation rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ObservationStore keeps the latest observation per (group, target) pair.
type ObservationStore struct {
	pool  pgPool
	table string
}

// NewObservationStore creates a Postgres-backed store using the provided config.
func NewObservationStore(ctx context.Context, cfg Config) (*ObservationStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ObservationStore{pool: pool, table: table}, nil
}

// NewObservationStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewObservationStoreWithPool(pool pgPool, table string) (*ObservationStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ObservationStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "observations"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ObservationStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Last returns the stored observation for a target within a group.
func (s *ObservationStore) Last(ctx context.Context, group watch.GroupKey, target string) (watch.Observation, bool, error) {
	if s == nil || s.pool == nil {
		return watch.Observation{}, false, fmt.Errorf("observation store is not configured")
	}
	query := fmt.Sprintf(
		`SELECT slots, available, checked_at FROM %s WHERE group_key = $1 AND target = $2`,
		s.table,
	)
	var (
		slotsJSON []byte
		available bool
		checkedAt time.Time
	)
	err := s.pool.QueryRow(ctx, query, string(group), target).Scan(&slotsJSON, &available, &checkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return watch.Observation{}, false, nil
	}
	if err != nil {
		return watch.Observation{}, false, fmt.Errorf("select observation: %w", err)
	}
	var slots []string
	if len(slotsJSON) > 0 {
		if err := json.Unmarshal(slotsJSON, &slots); err != nil {
			return watch.Observation{}, false, fmt.Errorf("decode slots: %w", err)
		}
	}
	return watch.Observation{
		Target:    target,
		Group:     group,
		Slots:     slots,
		Available: available,
		CheckedAt: checkedAt,
	}, true, nil
}

// Save upserts the observation row.
func (s *ObservationStore) Save(ctx context.Context, obs watch.Observation) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("observation store is not configured")
	}
	if obs.Target == "" {
		return fmt.Errorf("observation target is required")
	}
	slotsJSON, err := json.Marshal(normalizeSlots(obs.Slots))
	if err != nil {
		return fmt.Errorf("marshal slots: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (group_key, target, slots, available, checked_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (group_key, target) DO UPDATE SET
	slots = EXCLUDED.slots,
	available = EXCLUDED.available,
	checked_at = EXCLUDED.checked_at`, s.table)

	args := []any{string(obs.Group), obs.Target, slotsJSON, obs.Available, obs.CheckedAt}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert observation: %w", err)
	}
	return nil
}

func normalizeSlots(slots []string) []string {
	if len(slots) == 0 {
		return []string{}
	}
	return append([]string(nil), slots...)
}
