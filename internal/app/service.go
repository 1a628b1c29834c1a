/**
 * @description
 * This file contains the core business logic for the banking-service. The
 * `Service` struct orchestrates the payment-initiation workflow, coordinating
 * between the database repository, the mobile-money gateway client, and the
 * message broker.
 *
 * Key invariants owned here:
 * - Deposits never touch the balance at initiation time; funds are credited
 *   only once a collection callback confirms payment.
 * - Withdrawals debit immediately on successful disbursement initiation and
 *   are refunded exactly once if the later callback reports failure. This
 *   asymmetry is intentional: disbursed funds leave the platform's control
 *   the moment the provider accepts the payout, while inbound payments are
 *   untrusted until confirmed.
 *
 * @dependencies
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/darajaclient, pkg/rabbitmq: External service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pesabank/banking-service/internal/domain"
	"github.com/pesabank/banking-service/internal/store"
	"github.com/pesabank/banking-service/pkg/darajaclient"
	"github.com/pesabank/banking-service/pkg/rabbitmq"
)

const (
	depositDescription    = "Mobile money deposit"
	withdrawalDescription = "Mobile money withdrawal"
	withdrawalRemarks     = "Withdrawal from online bank"
	withdrawalOccasion    = "Online Bank Withdrawal"

	settlementExchange = "bank.events"
)

// Gateway is the subset of the mobile-money client the orchestrator depends
// on. Callback parsing is pure and lives in package darajaclient directly.
type Gateway interface {
	InitiateCollection(ctx context.Context, phone string, amountCents int64, reference, description string) darajaclient.CollectionResult
	InitiateDisbursement(ctx context.Context, phone string, amountCents int64, remarks, occasion string) darajaclient.DisbursementResult
	QueryTransactionStatus(ctx context.Context, transactionID string) darajaclient.StatusResult
}

// Service provides the core business logic for payments.
type Service struct {
	repo            store.Repository
	gateway         Gateway
	eventProducer   rabbitmq.Publisher
	metrics         *Metrics
	startingBalance int64
}

// NewService creates a new banking service instance. The event producer and
// metrics may be nil; both degrade to no-ops.
func NewService(repo store.Repository, gateway Gateway, producer rabbitmq.Publisher, metrics *Metrics, startingBalanceCents int64) *Service {
	return &Service{
		repo:            repo,
		gateway:         gateway,
		eventProducer:   producer,
		metrics:         metrics,
		startingBalance: startingBalanceCents,
	}
}

// RegisterProfile creates the profile row for a newly signed-up user with the
// configured starting balance, plus the initial ledger entry recording it.
func (s *Service) RegisterProfile(ctx context.Context, req domain.RegisterProfileRequest) (*domain.Profile, error) {
	profile := &domain.Profile{
		ID:       req.UserID,
		Email:    strings.TrimSpace(req.Email),
		FullName: strings.TrimSpace(req.FullName),
		Balance:  s.startingBalance,
	}
	if err := s.repo.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}

	if s.startingBalance > 0 {
		balanceAfter := s.startingBalance
		opening := &domain.Transaction{
			UserID:       req.UserID,
			Kind:         domain.KindDeposit,
			Status:       domain.StatusCompleted,
			Amount:       s.startingBalance,
			BalanceAfter: &balanceAfter,
			Channel:      domain.ChannelInternal,
			Description:  "Initial deposit",
		}
		if err := s.repo.CreateTransaction(ctx, opening); err != nil {
			log.Printf("level=warn component=service flow=register msg=\"opening ledger entry failed\" user_id=%s err=%v", req.UserID, err)
		}
	}

	return profile, nil
}

// GetProfile returns the user's profile record.
func (s *Service) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	return s.repo.FindProfileByID(ctx, userID)
}

// GetBalance returns the user's current balance.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// ListTransactions returns the user's ledger history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	return s.repo.ListTransactionsByUser(ctx, userID, limit)
}

// InitiateDeposit pushes a pay-prompt to the user's phone and records a
// pending ledger entry carrying the gateway's checkout request id. The
// balance is not changed here: unconfirmed inbound payments are never
// credited.
func (s *Service) InitiateDeposit(ctx context.Context, userID uuid.UUID, phone string, amountCents int64) (*domain.DepositInitiationResult, error) {
	if err := validateCollectionAmount(amountCents); err != nil {
		return nil, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrInvalidPhone
	}

	// The profile must exist before we prompt the user to pay.
	if _, err := s.repo.GetBalance(ctx, userID); err != nil {
		return nil, err
	}

	result := s.gateway.InitiateCollection(ctx, phone, amountCents, userID.String(), depositDescription)
	if !result.Success {
		s.metrics.ObserveInitiation(domain.KindDeposit, "gateway_failure")
		return nil, &GatewayError{Message: result.Message}
	}

	reference := result.CheckoutRequestID
	tx := &domain.Transaction{
		UserID:            userID,
		Kind:              domain.KindDeposit,
		Status:            domain.StatusPending,
		Amount:            amountCents,
		ExternalReference: &reference,
		Channel:           domain.ChannelMpesa,
		Description:       depositDescription,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		// The prompt is already on the user's device; without the pending row
		// the callback cannot settle, so this must be surfaced loudly.
		log.Printf("level=error component=service flow=deposit msg=\"pending ledger entry failed after gateway accept\" user_id=%s checkout_request_id=%s err=%v", userID, reference, err)
		return nil, fmt.Errorf("failed to record pending deposit: %w", err)
	}

	s.metrics.ObserveInitiation(domain.KindDeposit, "accepted")
	log.Printf("level=info component=service flow=deposit outcome=pending user_id=%s transaction_id=%s checkout_request_id=%s amount=%d", userID, tx.ID, reference, amountCents)

	message := result.Message
	if message == "" {
		message = "Payment prompt sent. Enter your PIN on your phone to complete the deposit."
	}
	return &domain.DepositInitiationResult{
		TransactionID:     tx.ID,
		CheckoutRequestID: reference,
		Message:           message,
	}, nil
}

// InitiateWithdrawal sends a payout to the user's phone. The debit is applied
// as soon as the gateway accepts the disbursement; a failure callback later
// rolls it back.
func (s *Service) InitiateWithdrawal(ctx context.Context, userID uuid.UUID, phone string, amountCents int64) (*domain.WithdrawalInitiationResult, error) {
	if err := validateDisbursementAmount(amountCents); err != nil {
		return nil, err
	}
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrInvalidPhone
	}

	balance, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amountCents > balance {
		return nil, store.ErrInsufficientFunds
	}

	result := s.gateway.InitiateDisbursement(ctx, phone, amountCents, withdrawalRemarks, withdrawalOccasion)
	if !result.Success {
		s.metrics.ObserveInitiation(domain.KindWithdrawal, "gateway_failure")
		return nil, &GatewayError{Message: result.Message}
	}

	// Optimistic debit: the funds leave our control once the provider has
	// accepted the payout. ApplyBalanceDelta re-checks sufficiency under a
	// row lock, so a racing withdrawal cannot overdraw.
	newBalance, err := s.repo.ApplyBalanceDelta(ctx, userID, -amountCents)
	if err != nil {
		log.Printf("level=error component=service flow=withdrawal msg=\"debit failed after gateway accept\" user_id=%s conversation_id=%s err=%v", userID, result.ConversationID, err)
		return nil, err
	}

	reference := result.ConversationID
	balanceAfter := newBalance
	tx := &domain.Transaction{
		UserID:            userID,
		Kind:              domain.KindWithdrawal,
		Status:            domain.StatusPending,
		Amount:            amountCents,
		BalanceAfter:      &balanceAfter,
		ExternalReference: &reference,
		Channel:           domain.ChannelMpesa,
		Description:       withdrawalDescription,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		// Without the pending row the failure callback could never refund, so
		// reverse the debit now and fail the request.
		if _, refundErr := s.repo.ApplyBalanceDelta(ctx, userID, amountCents); refundErr != nil {
			log.Printf("level=error component=service flow=withdrawal msg=\"CRITICAL: refund failed after ledger write failure\" user_id=%s conversation_id=%s err=%v", userID, reference, refundErr)
		}
		return nil, fmt.Errorf("failed to record pending withdrawal: %w", err)
	}

	s.metrics.ObserveInitiation(domain.KindWithdrawal, "accepted")
	log.Printf("level=info component=service flow=withdrawal outcome=pending user_id=%s transaction_id=%s conversation_id=%s amount=%d new_balance=%d", userID, tx.ID, reference, amountCents, newBalance)

	return &domain.WithdrawalInitiationResult{
		TransactionID:  tx.ID,
		ConversationID: reference,
		NewBalance:     newBalance,
		Message:        "Withdrawal initiated. Funds are on the way to your phone.",
	}, nil
}

// DirectDeposit settles a non-gateway deposit synchronously: the credit and
// the completed ledger entry happen in the same request.
func (s *Service) DirectDeposit(ctx context.Context, userID uuid.UUID, amountCents int64, description string) (*domain.Transaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	newBalance, err := s.repo.ApplyBalanceDelta(ctx, userID, amountCents)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = "Direct deposit"
	}

	balanceAfter := newBalance
	tx := &domain.Transaction{
		UserID:       userID,
		Kind:         domain.KindDeposit,
		Status:       domain.StatusCompleted,
		Amount:       amountCents,
		BalanceAfter: &balanceAfter,
		Channel:      domain.ChannelInternal,
		Description:  description,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if _, revertErr := s.repo.ApplyBalanceDelta(ctx, userID, -amountCents); revertErr != nil {
			log.Printf("level=error component=service flow=direct_deposit msg=\"CRITICAL: revert failed after ledger write failure\" user_id=%s err=%v", userID, revertErr)
		}
		return nil, fmt.Errorf("failed to record direct deposit: %w", err)
	}
	return tx, nil
}

// DirectWithdraw settles a non-gateway withdrawal synchronously.
func (s *Service) DirectWithdraw(ctx context.Context, userID uuid.UUID, amountCents int64, description string) (*domain.Transaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	newBalance, err := s.repo.ApplyBalanceDelta(ctx, userID, -amountCents)
	if err != nil {
		return nil, err
	}
	if description == "" {
		description = "Direct withdrawal"
	}

	balanceAfter := newBalance
	tx := &domain.Transaction{
		UserID:       userID,
		Kind:         domain.KindWithdrawal,
		Status:       domain.StatusCompleted,
		Amount:       amountCents,
		BalanceAfter: &balanceAfter,
		Channel:      domain.ChannelInternal,
		Description:  description,
	}
	if err := s.repo.CreateTransaction(ctx, tx); err != nil {
		if _, revertErr := s.repo.ApplyBalanceDelta(ctx, userID, amountCents); revertErr != nil {
			log.Printf("level=error component=service flow=direct_withdrawal msg=\"CRITICAL: revert failed after ledger write failure\" user_id=%s err=%v", userID, revertErr)
		}
		return nil, fmt.Errorf("failed to record direct withdrawal: %w", err)
	}
	return tx, nil
}

// GetGatewayTransactionStatus proxies the provider's transaction status query.
func (s *Service) GetGatewayTransactionStatus(ctx context.Context, transactionID string) darajaclient.StatusResult {
	return s.gateway.QueryTransactionStatus(ctx, transactionID)
}

func (s *Service) publishSettlement(ctx context.Context, tx *domain.Transaction, status, receipt string) {
	if s.eventProducer == nil {
		return
	}
	reference := ""
	if tx.ExternalReference != nil {
		reference = *tx.ExternalReference
	}
	event := domain.SettlementEvent{
		TransactionID:     tx.ID,
		UserID:            tx.UserID,
		Kind:              tx.Kind,
		Status:            status,
		Amount:            tx.Amount,
		ExternalReference: reference,
		Receipt:           receipt,
		Timestamp:         time.Now().UTC(),
	}
	routingKey := "transaction." + status
	if err := s.eventProducer.Publish(ctx, settlementExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"settlement event publish failed\" transaction_id=%s routing_key=%s err=%v", tx.ID, routingKey, err)
	}
}

func validateCollectionAmount(amountCents int64) error {
	if amountCents%100 != 0 {
		return fmt.Errorf("%w: deposits must be a whole number of currency units", ErrInvalidAmount)
	}
	if amountCents < darajaclient.CollectionMinAmountCents {
		return fmt.Errorf("%w: minimum deposit is %d", ErrInvalidAmount, darajaclient.CollectionMinAmountCents/100)
	}
	if amountCents > darajaclient.CollectionMaxAmountCents {
		return fmt.Errorf("%w: maximum deposit is %d", ErrInvalidAmount, darajaclient.CollectionMaxAmountCents/100)
	}
	return nil
}

func validateDisbursementAmount(amountCents int64) error {
	if amountCents%100 != 0 {
		return fmt.Errorf("%w: withdrawals must be a whole number of currency units", ErrInvalidAmount)
	}
	if amountCents < darajaclient.DisbursementMinAmountCents {
		return fmt.Errorf("%w: minimum withdrawal is %d", ErrInvalidAmount, darajaclient.DisbursementMinAmountCents/100)
	}
	if amountCents > darajaclient.DisbursementMaxAmountCents {
		return fmt.Errorf("%w: maximum withdrawal is %d", ErrInvalidAmount, darajaclient.DisbursementMaxAmountCents/100)
	}
	return nil
}

// IsNotFound reports whether err denotes a missing profile or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrProfileNotFound) || errors.Is(err, store.ErrTransactionNotFound)
}
