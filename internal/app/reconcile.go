/**
 * @description
 * Callback-driven settlement of pending ledger transactions. The gateway
 * delivers at-least-once, so every path here must be safe under replay and
 * under concurrent delivery of the same callback.
 *
 * The serialization point is the store's conditional settle: only the caller
 * that wins the pending -> terminal transition applies the balance change
 * (the deposit credit, or the withdrawal refund). Losers and replays observe
 * zero rows updated and return without touching the balance. Settle and
 * balance change commit as one store transaction, so a failure leaves the
 * row pending and the whole settlement retryable.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pesabank/banking-service/internal/domain"
	"github.com/pesabank/banking-service/internal/store"
	"github.com/pesabank/banking-service/pkg/darajaclient"
)

// settleAttempts bounds the in-process retry of the atomic settle when the
// store errors mid-callback. The row stays pending if every attempt fails,
// so nothing is lost; a later delivery or manual sweep can finish the job.
const settleAttempts = 3

func (s *Service) settleWithDelta(ctx context.Context, tx *domain.Transaction, params store.SettleParams, delta int64) (bool, int64, error) {
	var lastErr error
	for attempt := 1; attempt <= settleAttempts; attempt++ {
		settled, newBalance, err := s.repo.SettleAndApplyDelta(ctx, tx.ID, params, tx.UserID, delta)
		if err == nil {
			return settled, newBalance, nil
		}
		lastErr = err
		log.Printf("level=warn component=service msg=\"settlement rolled back\" transaction_id=%s attempt=%d err=%v", tx.ID, attempt, err)
		if ctx.Err() != nil {
			break
		}
		if attempt < settleAttempts {
			time.Sleep(50 * time.Millisecond)
		}
	}
	return false, 0, lastErr
}

// ReconcileCollectionCallback processes a deposit confirmation payload from
// the gateway. Unknown references and replays are acknowledged as no-ops; an
// error is returned only when the payload cannot be parsed at all.
func (s *Service) ReconcileCollectionCallback(ctx context.Context, payload []byte) (*domain.ReconcileOutcome, error) {
	cb, err := darajaclient.ParseCollectionCallback(payload)
	if err != nil {
		s.metrics.ObserveCallback(domain.KindDeposit, "malformed")
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	tx, err := s.repo.FindTransactionByReference(ctx, cb.ExternalReference)
	if err != nil {
		if IsNotFound(err) {
			// References we never issued, or rows reaped before delivery.
			// Acknowledge so the gateway stops retrying.
			s.metrics.ObserveCallback(domain.KindDeposit, "unmatched")
			log.Printf("level=warn component=service flow=collection_callback msg=\"no pending transaction for reference\" checkout_request_id=%s", cb.ExternalReference)
			return &domain.ReconcileOutcome{Matched: false}, nil
		}
		return nil, err
	}

	if !cb.Success {
		settled, err := s.repo.SettleTransaction(ctx, tx.ID, store.SettleParams{
			Status:        domain.StatusFailed,
			FailureReason: &cb.ResultDescription,
		})
		if err != nil {
			return nil, err
		}
		if settled {
			s.metrics.ObserveCallback(domain.KindDeposit, "failed")
			s.metrics.ObserveSettlement(domain.KindDeposit, domain.StatusFailed)
			s.publishSettlement(ctx, tx, domain.StatusFailed, "")
			log.Printf("level=info component=service flow=collection_callback outcome=failed transaction_id=%s reason=%q", tx.ID, cb.ResultDescription)
		}
		return &domain.ReconcileOutcome{Matched: true, Settled: settled, TransactionID: tx.ID, Status: domain.StatusFailed}, nil
	}

	// Winner credits; replays and losers see settled == false and stop here.
	// Settle and credit commit together: a failure here means nothing moved.
	settled, newBalance, err := s.settleWithDelta(ctx, tx, store.SettleParams{
		Status:  domain.StatusCompleted,
		Receipt: &cb.Receipt,
	}, tx.Amount)
	if err != nil {
		log.Printf("level=error component=service flow=collection_callback msg=\"settlement failed, row left pending\" transaction_id=%s user_id=%s err=%v", tx.ID, tx.UserID, err)
		return nil, err
	}
	if !settled {
		s.metrics.ObserveCallback(domain.KindDeposit, "replay")
		return &domain.ReconcileOutcome{Matched: true, Settled: false, TransactionID: tx.ID, Status: tx.Status}, nil
	}

	s.metrics.ObserveCallback(domain.KindDeposit, "completed")
	s.metrics.ObserveSettlement(domain.KindDeposit, domain.StatusCompleted)
	s.publishSettlement(ctx, tx, domain.StatusCompleted, cb.Receipt)
	log.Printf("level=info component=service flow=collection_callback outcome=completed transaction_id=%s user_id=%s amount=%d receipt=%s new_balance=%d", tx.ID, tx.UserID, tx.Amount, cb.Receipt, newBalance)

	return &domain.ReconcileOutcome{Matched: true, Settled: true, TransactionID: tx.ID, Status: domain.StatusCompleted}, nil
}

// ReconcileDisbursementCallback processes a withdrawal result payload. On
// success the pending row is completed with the provider receipt; the debit
// already happened at initiation, so the balance is untouched. On failure the
// settle winner refunds the debit exactly once.
func (s *Service) ReconcileDisbursementCallback(ctx context.Context, payload []byte) (*domain.ReconcileOutcome, error) {
	cb, err := darajaclient.ParseDisbursementCallback(payload)
	if err != nil {
		s.metrics.ObserveCallback(domain.KindWithdrawal, "malformed")
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	tx, err := s.repo.FindTransactionByReference(ctx, cb.ExternalReference)
	if err != nil {
		if IsNotFound(err) {
			s.metrics.ObserveCallback(domain.KindWithdrawal, "unmatched")
			log.Printf("level=warn component=service flow=disbursement_callback msg=\"no pending transaction for reference\" conversation_id=%s", cb.ExternalReference)
			return &domain.ReconcileOutcome{Matched: false}, nil
		}
		return nil, err
	}

	if cb.Success {
		settled, err := s.repo.SettleTransaction(ctx, tx.ID, store.SettleParams{
			Status:  domain.StatusCompleted,
			Receipt: &cb.Receipt,
		})
		if err != nil {
			return nil, err
		}
		if settled {
			s.metrics.ObserveCallback(domain.KindWithdrawal, "completed")
			s.metrics.ObserveSettlement(domain.KindWithdrawal, domain.StatusCompleted)
			s.publishSettlement(ctx, tx, domain.StatusCompleted, cb.Receipt)
			log.Printf("level=info component=service flow=disbursement_callback outcome=completed transaction_id=%s receipt=%s", tx.ID, cb.Receipt)
		} else {
			s.metrics.ObserveCallback(domain.KindWithdrawal, "replay")
		}
		return &domain.ReconcileOutcome{Matched: true, Settled: settled, TransactionID: tx.ID, Status: domain.StatusCompleted}, nil
	}

	// Failed payout. The settle and the refund commit together, so only one
	// caller ever refunds, however many times the gateway redelivers this
	// result, and a store failure leaves the refund still owed and pending.
	settled, newBalance, err := s.settleWithDelta(ctx, tx, store.SettleParams{
		Status:        domain.StatusFailed,
		FailureReason: &cb.ResultDescription,
	}, tx.Amount)
	if err != nil {
		log.Printf("level=error component=service flow=disbursement_callback msg=\"settlement failed, row left pending\" transaction_id=%s user_id=%s err=%v", tx.ID, tx.UserID, err)
		return nil, err
	}
	if !settled {
		s.metrics.ObserveCallback(domain.KindWithdrawal, "replay")
		return &domain.ReconcileOutcome{Matched: true, Settled: false, TransactionID: tx.ID, Status: tx.Status}, nil
	}

	s.metrics.ObserveCallback(domain.KindWithdrawal, "failed")
	s.metrics.ObserveSettlement(domain.KindWithdrawal, domain.StatusFailed)
	s.metrics.ObserveRefund()
	s.publishSettlement(ctx, tx, domain.StatusFailed, "")
	log.Printf("level=info component=service flow=disbursement_callback outcome=refunded transaction_id=%s user_id=%s amount=%d reason=%q new_balance=%d", tx.ID, tx.UserID, tx.Amount, cb.ResultDescription, newBalance)

	return &domain.ReconcileOutcome{Matched: true, Settled: true, TransactionID: tx.ID, Status: domain.StatusFailed}, nil
}

// GetTransaction returns a single ledger entry, enforcing ownership.
func (s *Service) GetTransaction(ctx context.Context, userID, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.repo.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}
