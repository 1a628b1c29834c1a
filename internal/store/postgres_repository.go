/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the `profiles` and
 * `transactions` tables.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pesabank/banking-service/internal/domain"
)

var (
	ErrProfileNotFound     = errors.New("profile not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateReference  = errors.New("external reference already recorded")
	ErrDuplicateProfile    = errors.New("profile already registered")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateProfile inserts a new profile row with its starting balance.
func (r *PostgresRepository) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	query := `
		INSERT INTO profiles (id, email, full_name, balance, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, profile.ID, profile.Email, profile.FullName, profile.Balance).Scan(&profile.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateProfile
		}
		return err
	}
	return nil
}

// FindProfileByID retrieves a profile by the identity-provider-issued user id.
func (r *PostgresRepository) FindProfileByID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	var profile domain.Profile
	query := `SELECT id, email, full_name, balance, created_at FROM profiles WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&profile.ID, &profile.Email, &profile.FullName, &profile.Balance, &profile.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// GetBalance returns the current balance for a profile.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM profiles WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProfileNotFound
		}
		return 0, err
	}
	return balance, nil
}

// ApplyBalanceDelta performs an atomic balance mutation on a profile. The row
// lock prevents two racing deltas from producing a lost update.
func (r *PostgresRepository) ApplyBalanceDelta(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	// Use FOR UPDATE to lock the row, preventing race conditions.
	err = tx.QueryRow(ctx, `SELECT balance FROM profiles WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProfileNotFound
		}
		return 0, err
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return 0, ErrInsufficientFunds
	}

	if _, err = tx.Exec(ctx, `UPDATE profiles SET balance = $1 WHERE id = $2`, newBalance, userID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return newBalance, nil
}

// CreateTransaction inserts a new ledger row. The unique index on
// external_reference guarantees at most one transaction per reference.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, transaction *domain.Transaction) error {
	if transaction.ID == uuid.Nil {
		transaction.ID = uuid.New()
	}
	query := `
		INSERT INTO transactions (
			id, user_id, kind, status, amount, balance_after,
			external_reference, receipt, failure_reason, channel, description,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		transaction.ID,
		transaction.UserID,
		transaction.Kind,
		transaction.Status,
		transaction.Amount,
		transaction.BalanceAfter,
		transaction.ExternalReference,
		transaction.Receipt,
		transaction.FailureReason,
		transaction.Channel,
		transaction.Description,
	).Scan(&transaction.CreatedAt, &transaction.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

const transactionColumns = `
	id, user_id, kind, status, amount, balance_after,
	external_reference, receipt, failure_reason, channel, description,
	created_at, updated_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Kind,
		&tx.Status,
		&tx.Amount,
		&tx.BalanceAfter,
		&tx.ExternalReference,
		&tx.Receipt,
		&tx.FailureReason,
		&tx.Channel,
		&tx.Description,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// FindTransactionByID retrieves a single ledger row.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// FindTransactionByReference retrieves the ledger row matching a
// gateway-issued external reference. Lookups are unique by construction.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, externalReference string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE external_reference = $1`, externalReference)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

const settleQuery = `
	UPDATE transactions
	SET status = $2,
	    receipt = COALESCE($3, receipt),
	    failure_reason = COALESCE($4, failure_reason),
	    updated_at = NOW()
	WHERE id = $1 AND status = 'pending'
`

// SettleTransaction transitions a pending row to a terminal status. The
// status guard in the WHERE clause makes replayed settlements no-ops: only
// one caller ever observes rows affected = 1 for a given transaction.
func (r *PostgresRepository) SettleTransaction(ctx context.Context, transactionID uuid.UUID, params SettleParams) (bool, error) {
	if params.Status != domain.StatusCompleted && params.Status != domain.StatusFailed {
		return false, errors.New("settle status must be terminal")
	}
	tag, err := r.db.Exec(ctx, settleQuery, transactionID, params.Status, params.Receipt, params.FailureReason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SettleAndApplyDelta performs the conditional settle and the balance
// mutation in a single database transaction. A failure anywhere rolls the
// settle back too, so the row stays pending and a later delivery of the same
// callback can retry the whole settlement. The winner's balance_after is
// recorded on the transaction row inside the same commit.
func (r *PostgresRepository) SettleAndApplyDelta(ctx context.Context, transactionID uuid.UUID, params SettleParams, userID uuid.UUID, delta int64) (bool, int64, error) {
	if params.Status != domain.StatusCompleted && params.Status != domain.StatusFailed {
		return false, 0, errors.New("settle status must be terminal")
	}

	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return false, 0, err
	}
	defer dbTx.Rollback(ctx)

	tag, err := dbTx.Exec(ctx, settleQuery, transactionID, params.Status, params.Receipt, params.FailureReason)
	if err != nil {
		return false, 0, err
	}
	if tag.RowsAffected() != 1 {
		// Already terminal; nothing to commit.
		return false, 0, nil
	}

	var balance int64
	err = dbTx.QueryRow(ctx, `SELECT balance FROM profiles WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, ErrProfileNotFound
		}
		return false, 0, err
	}

	newBalance := balance + delta
	if newBalance < 0 {
		return false, 0, ErrInsufficientFunds
	}

	if _, err = dbTx.Exec(ctx, `UPDATE profiles SET balance = $1 WHERE id = $2`, newBalance, userID); err != nil {
		return false, 0, err
	}
	if _, err = dbTx.Exec(ctx, `UPDATE transactions SET balance_after = $1 WHERE id = $2`, newBalance, transactionID); err != nil {
		return false, 0, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return false, 0, err
	}
	return true, newBalance, nil
}

// ListTransactionsByUser returns a user's ledger history, newest first.
func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
