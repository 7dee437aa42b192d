// Package store is the persistence layer: the system of record for
// users, agents, executions, logs, webhooks, and deliveries (spec §3).
//
// It replaces the teacher's generated ent client with hand-written SQL
// over sqlx/pgx (see DESIGN.md for why: ent's codegen cannot run in this
// session). The call shape — a thin service struct wrapping a shared
// connection pool, explicit transactions for multi-statement writes,
// conditional UPDATE...WHERE for lost-write-free state transitions — is
// carried over from pkg/services's ent-backed originals.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrNotFound is returned when a lookup by id matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness/business invariant.
	ErrConflict = errors.New("conflict")
)

// Store is the persistence façade. All entity-specific methods hang off
// this type (see users.go, agents.go, executions.go, ...).
type Store struct {
	db *sqlx.DB
}

// New wraps a connection pool in a Store.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// Ping checks database reachability — used by the engine's health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
