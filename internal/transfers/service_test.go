package transfers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestion-vehicule/gestion_vehicule/internal/balance"
	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/logging"
	"github.com/gestion-vehicule/gestion_vehicule/internal/notification"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

// crashingStore fails the Nth balance write inside a unit of work.
type crashingStore struct {
	inner  ledger.Store
	failOn int
}

type crashingTx struct {
	ledger.Tx
	writes *int
	failOn int
}

var errCrash = errors.New("simulated crash")

func (s *crashingStore) WithinTx(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	writes := 0
	return s.inner.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &crashingTx{Tx: tx, writes: &writes, failOn: s.failOn})
	})
}

func (t *crashingTx) SetCurrencyAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	*t.writes++
	if *t.writes == t.failOn {
		return errCrash
	}
	return t.Tx.SetCurrencyAmount(ctx, id, amount)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(store ledger.Store, n notification.Notifier) *Service {
	logger := logging.Discard()
	return NewService(store, balance.NewService(store, logger, nil), n, logger, nil)
}

func TestTransferMovesFundsAndRecordsBothLegs(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, "alice", "htg", dec("500"))
	notifier := &recordingNotifier{}
	svc := newTestService(store, notifier)

	ft, err := svc.Transfer(context.Background(), CreateInput{
		SenderID: "alice", ReceiverID: "bob", Amount: dec("200"), Currency: "HTG",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if ft.Status != ledger.TransferCompleted {
		t.Fatalf("expected completed, got %s", ft.Status)
	}
	if ft.SenderTransactionID == nil || ft.ReceiverTransactionID == nil {
		t.Fatalf("expected both transaction ids to be set")
	}
	if got := ledger.AmountOf(store, "alice", "htg"); !got.Equal(dec("300")) {
		t.Fatalf("alice balance = %s, want 300", got)
	}
	if got := ledger.AmountOf(store, "bob", "htg"); !got.Equal(dec("200")) {
		t.Fatalf("bob balance = %s, want 200", got)
	}

	sent := ledger.TransactionsOf(store, "alice")
	received := ledger.TransactionsOf(store, "bob")
	if len(sent) != 1 || len(received) != 1 {
		t.Fatalf("expected one transaction per party, got %d and %d", len(sent), len(received))
	}
	if sent[0].Type != ledger.TypeDebit || sent[0].BonusType != ledger.BonusTransfer {
		t.Fatalf("unexpected sender leg %+v", sent[0])
	}
	if received[0].Type != ledger.TypeCredit || received[0].BonusType != ledger.BonusTransfer {
		t.Fatalf("unexpected receiver leg %+v", received[0])
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("expected two notifications, got %d", len(notifier.sent))
	}
}

func TestTransferInsufficientFundsMarksFailed(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, "alice", "htg", dec("50"))
	svc := newTestService(store, nil)

	ft, err := svc.Transfer(context.Background(), CreateInput{
		SenderID: "alice", ReceiverID: "bob", Amount: dec("200"), Currency: "htg",
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if ft.Status != ledger.TransferFailed {
		t.Fatalf("expected failed transfer, got %s", ft.Status)
	}
	if got := ledger.AmountOf(store, "alice", "htg"); !got.Equal(dec("50")) {
		t.Fatalf("sender balance changed: %s", got)
	}
	if len(ledger.TransactionsOf(store, "alice")) != 0 || len(ledger.TransactionsOf(store, "bob")) != 0 {
		t.Fatalf("no transactions expected")
	}

	if _, err := svc.CompleteTransfer(context.Background(), ft.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for failed transfer, got %v", err)
	}
}

func TestTransferCrashBetweenLegsLeavesNoTrace(t *testing.T) {
	inner := ledger.NewInMemory()
	ledger.SeedBalance(inner, "alice", "htg", dec("500"))
	// first write is the sender debit, second the receiver credit
	svc := newTestService(&crashingStore{inner: inner, failOn: 2}, nil)

	ft, err := svc.CreateTransfer(context.Background(), CreateInput{
		SenderID: "alice", ReceiverID: "bob", Amount: dec("200"), Currency: "htg",
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if _, err := svc.CompleteTransfer(context.Background(), ft.ID); !errors.Is(err, errCrash) {
		t.Fatalf("expected simulated crash, got %v", err)
	}

	if got := ledger.AmountOf(inner, "alice", "htg"); !got.Equal(dec("500")) {
		t.Fatalf("sender balance = %s, want 500", got)
	}
	if got := ledger.AmountOf(inner, "bob", "htg"); !got.IsZero() {
		t.Fatalf("receiver balance = %s, want 0", got)
	}
	if len(ledger.TransactionsOf(inner, "alice")) != 0 {
		t.Fatalf("partial transfer left a transaction behind")
	}
	got, err := svc.Get(context.Background(), ft.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != ledger.TransferPending {
		t.Fatalf("expected transfer to stay pending, got %s", got.Status)
	}
}

func TestCompleteTransferIsIdempotent(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, "alice", "usd", dec("10"))
	notifier := &recordingNotifier{}
	svc := newTestService(store, notifier)
	ctx := context.Background()

	ft, err := svc.Transfer(ctx, CreateInput{SenderID: "alice", ReceiverID: "bob", Amount: dec("4"), Currency: "usd"})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	again, err := svc.CompleteTransfer(ctx, ft.ID)
	if err != nil {
		t.Fatalf("CompleteTransfer: %v", err)
	}
	if *again.SenderTransactionID != *ft.SenderTransactionID {
		t.Fatalf("second completion must not create new legs")
	}
	if got := ledger.AmountOf(store, "alice", "usd"); !got.Equal(dec("6")) {
		t.Fatalf("alice balance = %s, want 6", got)
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("expected notifications only once, got %d", len(notifier.sent))
	}
}

func TestCreateTransferValidation(t *testing.T) {
	svc := newTestService(ledger.NewInMemory(), nil)
	ctx := context.Background()

	if _, err := svc.CreateTransfer(ctx, CreateInput{SenderID: "a", ReceiverID: "a", Amount: dec("1"), Currency: "htg"}); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
	if _, err := svc.CreateTransfer(ctx, CreateInput{SenderID: "a", ReceiverID: "b", Amount: dec("0"), Currency: "htg"}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.CreateTransfer(ctx, CreateInput{SenderID: "a", ReceiverID: "b", Amount: dec("-3"), Currency: "htg"}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative amount, got %v", err)
	}
	if _, err := svc.CreateTransfer(ctx, CreateInput{SenderID: "a", ReceiverID: "b", Amount: dec("1"), Currency: "12"}); !errors.Is(err, ledger.ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
}

func TestOpposingTransfersDoNotDeadlock(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, "alice", "htg", dec("1000"))
	ledger.SeedBalance(store, "bob", "htg", dec("1000"))
	svc := newTestService(store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, CreateInput{SenderID: "alice", ReceiverID: "bob", Amount: dec("1"), Currency: "htg"})
		}()
		go func() {
			defer wg.Done()
			_, _ = svc.Transfer(ctx, CreateInput{SenderID: "bob", ReceiverID: "alice", Amount: dec("1"), Currency: "htg"})
		}()
	}
	wg.Wait()

	total := ledger.AmountOf(store, "alice", "htg").Add(ledger.AmountOf(store, "bob", "htg"))
	if !total.Equal(dec("2000")) {
		t.Fatalf("value not conserved: %s", total)
	}
}

func TestCompleteOwnTransferRejectsOtherUsers(t *testing.T) {
	store := ledger.NewInMemory()
	ledger.SeedBalance(store, "alice", "htg", dec("5"))
	svc := newTestService(store, nil)
	ctx := context.Background()

	ft, err := svc.CreateTransfer(ctx, CreateInput{SenderID: "alice", ReceiverID: "bob", Amount: dec("1"), Currency: "htg"})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if _, err := svc.CompleteOwnTransfer(ctx, "bob", ft.ID); !errors.Is(err, ErrNotSender) {
		t.Fatalf("expected ErrNotSender, got %v", err)
	}
	if _, err := svc.CompleteOwnTransfer(ctx, "alice", ft.ID); err != nil {
		t.Fatalf("CompleteOwnTransfer: %v", err)
	}
}
