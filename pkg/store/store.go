// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// Well-known per-account state keys maintained by the delivery path.
const (
	KeyDeliveredCount = "delivered_count"
	KeyLastDeliveryAt = "last_delivery_at"
)

// Store wraps the shared bridge database. It is safe for concurrent use by
// all bots.
type Store struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// New creates a Store over a connected database.
func New(db *sqlx.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}
}

// Account returns the scoped state accessor for one account.
func (s *Store) Account(accountID string) *AccountState {
	return &AccountState{store: s, accountID: accountID}
}

// AccountState gives one bot scoped, transactional access to its own state
// rows. All reads and writes happen inside RunInTransaction.
type AccountState struct {
	store     *Store
	accountID string
}

// Tx is one unit of work over an account's state. It commits when the
// RunInTransaction callback returns nil and is discarded otherwise.
type Tx struct {
	tx        *sqlx.Tx
	accountID string
}

// RunInTransaction runs fn inside a database transaction scoped to this
// account. The transaction commits only if fn returns nil.
func (a *AccountState) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	dbTx, err := a.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := dbTx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			a.store.log.Warn().Err(rollbackErr).Msg("Error rolling back transaction")
		}
	}()

	if err := fn(&Tx{tx: dbTx, accountID: a.accountID}); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get reads one state value. The second return reports whether the key
// exists.
func (t *Tx) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := t.tx.GetContext(ctx, &value,
		`SELECT value FROM account_state WHERE account_id = ? AND key = ?`, t.accountID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return value, true, nil
}

// Set writes one state value, inserting or replacing as needed.
func (t *Tx) Set(ctx context.Context, key, value string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO account_state (account_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		t.accountID, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	return nil
}

// AlreadyProcessed reports whether the appservice transaction id has been
// recorded. A database error here means the caller must fail closed.
func (s *Store) AlreadyProcessed(ctx context.Context, txnID string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one,
		`SELECT 1 FROM as_transactions WHERE txn_id = ?`, txnID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check transaction %q: %w", txnID, err)
	}
	return true, nil
}

// Record durably marks a transaction id as processed. Recording the same id
// twice is not an error.
func (s *Store) Record(ctx context.Context, txnID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO as_transactions (txn_id, received_at) VALUES (?, ?)
		 ON CONFLICT (txn_id) DO NOTHING`,
		txnID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record transaction %q: %w", txnID, err)
	}
	return nil
}

// PruneTransactions deletes transaction records received before the cutoff
// and returns how many were removed. The core never calls this; it backs the
// optional retention job.
func (s *Store) PruneTransactions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM as_transactions WHERE received_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}
