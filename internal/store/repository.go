/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the banking-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pesabank/banking-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Profile methods
	CreateProfile(ctx context.Context, profile *domain.Profile) error
	FindProfileByID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	// ApplyBalanceDelta atomically adds delta (positive or negative) to the
	// stored balance and returns the result. A delta that would drive the
	// balance negative fails with ErrInsufficientFunds and leaves the row
	// untouched.
	ApplyBalanceDelta(ctx context.Context, userID uuid.UUID, delta int64) (int64, error)

	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, externalReference string) (*domain.Transaction, error)
	// SettleTransaction performs the conditional pending -> terminal status
	// transition. It reports whether this call performed the transition;
	// false means the row was absent or already terminal. This is the
	// serialization point for duplicate callbacks on the same reference.
	SettleTransaction(ctx context.Context, transactionID uuid.UUID, params SettleParams) (bool, error)
	// SettleAndApplyDelta runs the conditional settle and the balance
	// mutation as one database transaction: either the row turns terminal
	// and the delta lands, or neither happens. Callers that lose the settle
	// get (false, 0, nil) and must not mutate anything themselves. Returns
	// the new balance when the settle won.
	SettleAndApplyDelta(ctx context.Context, transactionID uuid.UUID, params SettleParams, userID uuid.UUID, delta int64) (bool, int64, error)
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error)
}

// SettleParams carries the terminal state written by SettleTransaction.
type SettleParams struct {
	Status        string
	Receipt       *string
	FailureReason *string
}
