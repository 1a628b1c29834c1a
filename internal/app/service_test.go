package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pesabank/banking-service/internal/domain"
	"github.com/pesabank/banking-service/internal/store"
	"github.com/pesabank/banking-service/pkg/darajaclient"
)

type repoStub struct {
	store.Repository

	balance    int64
	balanceErr error

	deltaCalls  []int64
	deltaErr    error
	deltaErrOn  int
	createdTxs  []*domain.Transaction
	createErr   error
	createErrOn int

	profiles []*domain.Profile

	byReferenceTx  *domain.Transaction
	byReferenceErr error

	settleCalls   []store.SettleParams
	settleResults []bool
	settleErr     error

	settleDeltaCalls int
	settleDeltaErr   error
	settleDeltaErrOn int

	transactions []domain.Transaction
}

func (s *repoStub) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if s.balanceErr != nil {
		return 0, s.balanceErr
	}
	return s.balance, nil
}

func (s *repoStub) ApplyBalanceDelta(ctx context.Context, userID uuid.UUID, delta int64) (int64, error) {
	call := len(s.deltaCalls) + 1
	s.deltaCalls = append(s.deltaCalls, delta)
	if s.deltaErr != nil && (s.deltaErrOn == 0 || s.deltaErrOn == call) {
		return 0, s.deltaErr
	}
	if s.balance+delta < 0 {
		return 0, store.ErrInsufficientFunds
	}
	s.balance += delta
	return s.balance, nil
}

func (s *repoStub) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	call := len(s.createdTxs) + 1
	if s.createErr != nil && (s.createErrOn == 0 || s.createErrOn == call) {
		return s.createErr
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	s.createdTxs = append(s.createdTxs, tx)
	return nil
}

func (s *repoStub) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	s.profiles = append(s.profiles, profile)
	return nil
}

func (s *repoStub) FindTransactionByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	if s.byReferenceErr != nil {
		return nil, s.byReferenceErr
	}
	if s.byReferenceTx == nil {
		return nil, store.ErrTransactionNotFound
	}
	return s.byReferenceTx, nil
}

func (s *repoStub) SettleTransaction(ctx context.Context, transactionID uuid.UUID, params store.SettleParams) (bool, error) {
	s.settleCalls = append(s.settleCalls, params)
	if s.settleErr != nil {
		return false, s.settleErr
	}
	if len(s.settleResults) >= len(s.settleCalls) {
		return s.settleResults[len(s.settleCalls)-1], nil
	}
	return true, nil
}

// SettleAndApplyDelta mirrors the store's all-or-nothing contract: an
// injected error happens before anything is recorded, as if the whole
// database transaction rolled back.
func (s *repoStub) SettleAndApplyDelta(ctx context.Context, transactionID uuid.UUID, params store.SettleParams, userID uuid.UUID, delta int64) (bool, int64, error) {
	s.settleDeltaCalls++
	if s.settleDeltaErr != nil && (s.settleDeltaErrOn == 0 || s.settleDeltaErrOn == s.settleDeltaCalls) {
		return false, 0, s.settleDeltaErr
	}
	settled, err := s.SettleTransaction(ctx, transactionID, params)
	if err != nil || !settled {
		return false, 0, err
	}
	newBalance, err := s.ApplyBalanceDelta(ctx, userID, delta)
	if err != nil {
		return false, 0, err
	}
	return true, newBalance, nil
}

func (s *repoStub) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Transaction, error) {
	return s.transactions, nil
}

type gatewayStub struct {
	collection   darajaclient.CollectionResult
	disbursement darajaclient.DisbursementResult
	status       darajaclient.StatusResult

	collectionCalls   int
	disbursementCalls int
	lastPhone         string
	lastAmount        int64
}

func (g *gatewayStub) InitiateCollection(ctx context.Context, phone string, amountCents int64, reference, description string) darajaclient.CollectionResult {
	g.collectionCalls++
	g.lastPhone = phone
	g.lastAmount = amountCents
	return g.collection
}

func (g *gatewayStub) InitiateDisbursement(ctx context.Context, phone string, amountCents int64, remarks, occasion string) darajaclient.DisbursementResult {
	g.disbursementCalls++
	g.lastPhone = phone
	g.lastAmount = amountCents
	return g.disbursement
}

func (g *gatewayStub) QueryTransactionStatus(ctx context.Context, transactionID string) darajaclient.StatusResult {
	return g.status
}

func TestInitiateDeposit_DoesNotTouchBalance(t *testing.T) {
	repo := &repoStub{balance: 1_000_000}
	gateway := &gatewayStub{
		collection: darajaclient.CollectionResult{
			Success:           true,
			CheckoutRequestID: "ws_CO_123456789",
			Message:           "Success. Request accepted for processing",
		},
	}
	svc := NewService(repo, gateway, nil, nil, 0)

	result, err := svc.InitiateDeposit(context.Background(), uuid.New(), "0712345678", 5_000_00)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CheckoutRequestID != "ws_CO_123456789" {
		t.Fatalf("expected checkout request id to flow through, got %q", result.CheckoutRequestID)
	}
	if len(repo.deltaCalls) != 0 {
		t.Fatalf("deposit initiation must not change the balance, saw %d delta calls", len(repo.deltaCalls))
	}
	if len(repo.createdTxs) != 1 {
		t.Fatalf("expected 1 pending transaction, got %d", len(repo.createdTxs))
	}
	tx := repo.createdTxs[0]
	if tx.Status != domain.StatusPending || tx.Kind != domain.KindDeposit {
		t.Fatalf("expected pending deposit, got kind=%s status=%s", tx.Kind, tx.Status)
	}
	if tx.ExternalReference == nil || *tx.ExternalReference != "ws_CO_123456789" {
		t.Fatal("pending deposit must carry the checkout request id as reference")
	}
	if tx.BalanceAfter != nil {
		t.Fatal("pending deposit must not record a balance_after")
	}
}

func TestInitiateDeposit_GatewayFailureLeavesNoLedgerEntry(t *testing.T) {
	repo := &repoStub{balance: 1_000_000}
	gateway := &gatewayStub{
		collection: darajaclient.CollectionResult{Success: false, Message: "Payment service is temporarily unavailable. Please try again later."},
	}
	svc := NewService(repo, gateway, nil, nil, 0)

	_, err := svc.InitiateDeposit(context.Background(), uuid.New(), "254712345678", 100_00)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if len(repo.createdTxs) != 0 {
		t.Fatal("no ledger entry may exist when the gateway rejects initiation")
	}
	if len(repo.deltaCalls) != 0 {
		t.Fatal("balance must be untouched when the gateway rejects initiation")
	}
}

func TestInitiateDeposit_AmountValidation(t *testing.T) {
	repo := &repoStub{balance: 0}
	gateway := &gatewayStub{}
	svc := NewService(repo, gateway, nil, nil, 0)

	tests := []struct {
		name   string
		amount int64
	}{
		{name: "sub-unit amount", amount: 100_50},
		{name: "below minimum", amount: 0},
		{name: "above maximum", amount: 70_001_00},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.InitiateDeposit(context.Background(), uuid.New(), "0712345678", tt.amount)
			if !errors.Is(err, ErrInvalidAmount) {
				t.Fatalf("expected ErrInvalidAmount, got %v", err)
			}
		})
	}
	if gateway.collectionCalls != 0 {
		t.Fatal("invalid amounts must be rejected before any gateway call")
	}
}

func TestInitiateWithdrawal_DebitsImmediately(t *testing.T) {
	repo := &repoStub{balance: 10_000_00}
	gateway := &gatewayStub{
		disbursement: darajaclient.DisbursementResult{Success: true, ConversationID: "AG_20260901_abc"},
	}
	svc := NewService(repo, gateway, nil, nil, 0)

	result, err := svc.InitiateWithdrawal(context.Background(), uuid.New(), "0712345678", 2_500_00)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NewBalance != 7_500_00 {
		t.Fatalf("expected new balance 750000, got %d", result.NewBalance)
	}
	if len(repo.deltaCalls) != 1 || repo.deltaCalls[0] != -2_500_00 {
		t.Fatalf("expected a single debit of -250000, got %v", repo.deltaCalls)
	}
	tx := repo.createdTxs[0]
	if tx.Status != domain.StatusPending || tx.Kind != domain.KindWithdrawal {
		t.Fatalf("expected pending withdrawal, got kind=%s status=%s", tx.Kind, tx.Status)
	}
	if tx.BalanceAfter == nil || *tx.BalanceAfter != 7_500_00 {
		t.Fatal("pending withdrawal must record the post-debit balance")
	}
	if tx.ExternalReference == nil || *tx.ExternalReference != "AG_20260901_abc" {
		t.Fatal("pending withdrawal must carry the conversation id as reference")
	}
}

func TestInitiateWithdrawal_InsufficientFundsBoundary(t *testing.T) {
	gateway := &gatewayStub{
		disbursement: darajaclient.DisbursementResult{Success: true, ConversationID: "AG_1"},
	}

	t.Run("exactly the balance succeeds", func(t *testing.T) {
		repo := &repoStub{balance: 100_00}
		svc := NewService(repo, gateway, nil, nil, 0)
		result, err := svc.InitiateWithdrawal(context.Background(), uuid.New(), "0712345678", 100_00)
		if err != nil {
			t.Fatalf("withdrawal of the full balance must succeed: %v", err)
		}
		if result.NewBalance != 0 {
			t.Fatalf("expected zero balance, got %d", result.NewBalance)
		}
	})

	t.Run("one unit above the balance fails", func(t *testing.T) {
		repo := &repoStub{balance: 100_00}
		svc := NewService(repo, gateway, nil, nil, 0)
		_, err := svc.InitiateWithdrawal(context.Background(), uuid.New(), "0712345678", 101_00)
		if !errors.Is(err, store.ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}
		if len(repo.deltaCalls) != 0 {
			t.Fatal("failed sufficiency check must not touch the balance")
		}
	})
}

func TestInitiateWithdrawal_GatewayFailureLeavesBalanceIntact(t *testing.T) {
	repo := &repoStub{balance: 10_000_00}
	gateway := &gatewayStub{
		disbursement: darajaclient.DisbursementResult{Success: false, Message: "Withdrawal service is temporarily unavailable. Please try again later."},
	}
	svc := NewService(repo, gateway, nil, nil, 0)

	_, err := svc.InitiateWithdrawal(context.Background(), uuid.New(), "0712345678", 1_000_00)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %v", err)
	}
	if repo.balance != 10_000_00 {
		t.Fatalf("balance changed on gateway failure: %d", repo.balance)
	}
	if len(repo.createdTxs) != 0 {
		t.Fatal("no ledger entry may exist when the gateway rejects initiation")
	}
}

func TestInitiateWithdrawal_RefundsDebitWhenLedgerWriteFails(t *testing.T) {
	repo := &repoStub{
		balance:   10_000_00,
		createErr: errors.New("connection reset"),
	}
	gateway := &gatewayStub{
		disbursement: darajaclient.DisbursementResult{Success: true, ConversationID: "AG_2"},
	}
	svc := NewService(repo, gateway, nil, nil, 0)

	_, err := svc.InitiateWithdrawal(context.Background(), uuid.New(), "0712345678", 1_000_00)
	if err == nil {
		t.Fatal("expected an error when the ledger write fails")
	}
	if len(repo.deltaCalls) != 2 || repo.deltaCalls[0] != -1_000_00 || repo.deltaCalls[1] != 1_000_00 {
		t.Fatalf("expected debit then compensating refund, got %v", repo.deltaCalls)
	}
	if repo.balance != 10_000_00 {
		t.Fatalf("balance must be restored after compensation, got %d", repo.balance)
	}
}

func TestRegisterProfile_AppliesStartingBalance(t *testing.T) {
	repo := &repoStub{}
	svc := NewService(repo, &gatewayStub{}, nil, nil, 10_000_00)

	profile, err := svc.RegisterProfile(context.Background(), domain.RegisterProfileRequest{
		UserID:   uuid.New(),
		Email:    "  jane@example.com ",
		FullName: "Jane Wanjiku",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Balance != 10_000_00 {
		t.Fatalf("expected starting balance 1000000, got %d", profile.Balance)
	}
	if profile.Email != "jane@example.com" {
		t.Fatalf("expected trimmed email, got %q", profile.Email)
	}
	if len(repo.createdTxs) != 1 {
		t.Fatalf("expected an opening ledger entry, got %d entries", len(repo.createdTxs))
	}
	opening := repo.createdTxs[0]
	if opening.Status != domain.StatusCompleted || opening.Channel != domain.ChannelInternal {
		t.Fatalf("unexpected opening entry: status=%s channel=%s", opening.Status, opening.Channel)
	}
}

func TestDirectWithdraw_RevertsOnLedgerFailure(t *testing.T) {
	repo := &repoStub{
		balance:   500_00,
		createErr: errors.New("disk full"),
	}
	svc := NewService(repo, &gatewayStub{}, nil, nil, 0)

	_, err := svc.DirectWithdraw(context.Background(), uuid.New(), 200_00, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if repo.balance != 500_00 {
		t.Fatalf("balance must be restored, got %d", repo.balance)
	}
}

func TestValidateDisbursementAmount_DistinctMinimum(t *testing.T) {
	// Payouts have a higher floor than collections.
	if err := validateCollectionAmount(1_00); err != nil {
		t.Fatalf("1 unit collection should pass: %v", err)
	}
	if err := validateDisbursementAmount(1_00); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("1 unit disbursement should fail, got %v", err)
	}
	if err := validateDisbursementAmount(10_00); err != nil {
		t.Fatalf("10 unit disbursement should pass: %v", err)
	}
}

func TestValidateAmount_MessageNamesTheBound(t *testing.T) {
	err := validateCollectionAmount(80_000_00)
	if err == nil || !strings.Contains(err.Error(), "70000") {
		t.Fatalf("expected the bound in the message, got %v", err)
	}
}
