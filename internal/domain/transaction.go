/**
 * @description
 * This file defines the core domain models for the banking-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout the
 * service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction kinds.
const (
	KindDeposit    = "deposit"
	KindWithdrawal = "withdrawal"
)

// Transaction statuses. Transitions are pending -> completed or pending -> failed;
// terminal states are immutable.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Transaction channels.
const (
	ChannelMpesa    = "mpesa"
	ChannelBank     = "bank"
	ChannelInternal = "internal"
)

// Profile represents a bank customer's account record. The id is issued by the
// hosted identity provider at signup; this service never generates profile ids.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Balance   int64     `json:"balance"` // in cents
	CreatedAt time.Time `json:"created_at"`
}

// Transaction represents a single ledger entry for any money movement in the system.
// This struct maps directly to the `transactions` table in the database.
type Transaction struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Kind              string    `json:"kind"`
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"` // in cents
	BalanceAfter      *int64    `json:"balance_after,omitempty"`
	ExternalReference *string   `json:"external_reference,omitempty"`
	Receipt           *string   `json:"receipt,omitempty"`
	FailureReason     *string   `json:"failure_reason,omitempty"`
	Channel           string    `json:"channel"`
	Description       string    `json:"description"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DepositInitiationRequest is the DTO for incoming deposit initiation API requests.
// The amount is accepted as a JSON number or string and normalized to cents.
type DepositInitiationRequest struct {
	Phone  string          `json:"phone"`
	Amount decimal.Decimal `json:"amount"`
}

// WithdrawalInitiationRequest is the DTO for incoming withdrawal initiation API requests.
type WithdrawalInitiationRequest struct {
	Phone  string          `json:"phone"`
	Amount decimal.Decimal `json:"amount"`
}

// DirectMovementRequest is the DTO for deposits/withdrawals that settle
// synchronously without a gateway leg.
type DirectMovementRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// RegisterProfileRequest carries the identity-provider-issued user id plus the
// profile fields captured at signup.
type RegisterProfileRequest struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
}

// DepositInitiationResult is returned to the caller after a deposit has been
// pushed to the gateway. The balance is intentionally absent: deposits credit
// only once the collection callback confirms payment.
type DepositInitiationResult struct {
	TransactionID     uuid.UUID
	CheckoutRequestID string
	Message           string
}

// WithdrawalInitiationResult reflects the optimistic state after a successful
// disbursement initiation: the debit has already been applied.
type WithdrawalInitiationResult struct {
	TransactionID  uuid.UUID
	ConversationID string
	NewBalance     int64
	Message        string
}

// ReconcileOutcome summarizes what a callback reconciliation did, mainly for
// logging and handler responses.
type ReconcileOutcome struct {
	Matched       bool
	Settled       bool
	TransactionID uuid.UUID
	Status        string
}

// SettlementEvent is the payload published to the message broker when a pending
// transaction reaches a terminal state.
type SettlementEvent struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	UserID            uuid.UUID `json:"user_id"`
	Kind              string    `json:"kind"`
	Status            string    `json:"status"`
	Amount            int64     `json:"amount"`
	ExternalReference string    `json:"external_reference,omitempty"`
	Receipt           string    `json:"receipt,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
