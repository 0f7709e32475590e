package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestInMemoryStore_CreditDebitMaintainsBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, "user-a", "htg", dec("100"))

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := Debit(ctx, tx, "user-a", dec("30"), "htg"); err != nil {
			return err
		}
		_, err := Credit(ctx, tx, "user-b", dec("30"), "htg")
		return err
	})
	if err != nil {
		t.Fatalf("unit of work failed: %v", err)
	}

	if got := AmountOf(s, "user-a", "htg"); !got.Equal(dec("70")) {
		t.Fatalf("expected user-a 70, got %s", got)
	}
	if got := AmountOf(s, "user-b", "htg"); !got.Equal(dec("30")) {
		t.Fatalf("expected user-b 30, got %s", got)
	}
}

func TestInMemoryStore_DebitInsufficientLeavesRowUntouched(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, "user-a", "htg", dec("50"))

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := Debit(ctx, tx, "user-a", dec("50.000000000000000001"), "htg")
		return err
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := AmountOf(s, "user-a", "htg"); !got.Equal(dec("50")) {
		t.Fatalf("expected 50, got %s", got)
	}
}

func TestInMemoryStore_FailedUnitLeavesNoTrace(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := Credit(ctx, tx, "user-a", dec("10"), "usd"); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &Transaction{UserID: "user-a", Amount: dec("10"), Currency: "usd",
			Type: TypeCredit, Status: TxCompleted}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := AmountOf(s, "user-a", "usd"); !got.IsZero() {
		t.Fatalf("expected rollback to zero, got %s", got)
	}
	if n := len(TransactionsOf(s, "user-a")); n != 0 {
		t.Fatalf("expected no transactions after rollback, got %d", n)
	}
}

func TestInMemoryStore_ConcurrentCredits(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				_, err := Credit(ctx, tx, "user-a", dec("0.000000000000000001"), "jmu")
				return err
			})
			if err != nil {
				t.Errorf("credit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := AmountOf(s, "user-a", "jmu"); !got.Equal(dec("0.000000000000000025")) {
		t.Fatalf("lost update: got %s", got)
	}
}

func TestInMemoryStore_RoundTripIsExact(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	SeedBalance(s, "user-a", "btc", dec("1.5"))

	x := dec("0.123456789012345678")
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := Credit(ctx, tx, "user-a", x, "btc"); err != nil {
			return err
		}
		_, err := Debit(ctx, tx, "user-a", x, "btc")
		return err
	})
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if got := AmountOf(s, "user-a", "btc"); !got.Equal(dec("1.5")) {
		t.Fatalf("expected exact 1.5, got %s", got)
	}
}

func TestInMemoryStore_NeverNegative(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		amount := decimal.New(rng.Int63n(1_000_000), -int32(rng.Intn(19)))
		debit := rng.Intn(2) == 0
		err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			if debit {
				_, err := Debit(ctx, tx, "user-a", amount, "htg")
				return err
			}
			_, err := Credit(ctx, tx, "user-a", amount, "htg")
			return err
		})
		if err != nil && !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("step %d: unexpected error %v", i, err)
		}
		if got := AmountOf(s, "user-a", "htg"); got.IsNegative() {
			t.Fatalf("step %d: balance went negative: %s", i, got)
		}
	}
}

func TestInMemoryStore_RejectsNegativeAmountsAndBadCurrency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := Credit(ctx, tx, "user-a", dec("-1"), "htg")
		return err
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := Credit(ctx, tx, "user-a", dec("1"), "dollars")
		return err
	})
	if !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected invalid currency, got %v", err)
	}
}

func TestInMemoryStore_TransactionStatusOnlyMovesFromPending(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		tr := &Transaction{UserID: "user-a", Amount: dec("5"), Currency: "htg", Type: TypeDebit, Status: TxPending}
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		if err := tx.SetTransactionStatus(ctx, tr.ID, TxCompleted, ""); err != nil {
			return err
		}
		if err := tx.SetTransactionStatus(ctx, tr.ID, TxCompleted, ""); err != nil {
			t.Errorf("same-status update should be a no-op, got %v", err)
		}
		if err := tx.SetTransactionStatus(ctx, tr.ID, TxFailed, "late"); !errors.Is(err, ErrImmutableTransaction) {
			t.Errorf("expected immutable error, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unit failed: %v", err)
	}
}

func TestInMemoryStore_HasRewardOnDay(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertTransaction(ctx, &Transaction{
			UserID: "user-a", Amount: dec("1"), Currency: "jmu", Type: TypeCredit, Status: TxCompleted,
			Metadata: Metadata{"reward_key": "DAILY_LOGIN"}, CreatedAt: day.Add(23 * time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_ = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		found, _ := tx.HasRewardOnDay(ctx, "user-a", "jmu", "DAILY_LOGIN", day, day.Add(24*time.Hour))
		if !found {
			t.Errorf("expected reward on day")
		}
		found, _ = tx.HasRewardOnDay(ctx, "user-a", "jmu", "DAILY_LOGIN", day.Add(24*time.Hour), day.Add(48*time.Hour))
		if found {
			t.Errorf("reward leaked into the next day")
		}
		found, _ = tx.HasRewardOnDay(ctx, "user-a", "jmu", "SIGNUP", day, day.Add(24*time.Hour))
		if found {
			t.Errorf("reward matched a different key")
		}
		return nil
	})
}

func TestInMemoryStore_ListNewestFirstWithPaging(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	_ = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		for i := 1; i <= 5; i++ {
			_ = tx.InsertTransaction(ctx, &Transaction{UserID: "user-a", Amount: decimal.NewFromInt(int64(i)),
				Currency: "htg", Type: TypeCredit, Status: TxCompleted})
		}
		_ = tx.InsertTransaction(ctx, &Transaction{UserID: "user-b", Amount: dec("9"), Currency: "htg",
			Type: TypeCredit, Status: TxCompleted})
		return nil
	})

	_ = s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		got, _ := tx.ListTransactions(ctx, "user-a", NewPage(2, 1))
		if len(got) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(got))
		}
		if !got[0].Amount.Equal(dec("4")) || !got[1].Amount.Equal(dec("3")) {
			t.Fatalf("unexpected order: %s, %s", got[0].Amount, got[1].Amount)
		}
		return nil
	})
}

func TestNewPageClamps(t *testing.T) {
	if p := NewPage(0, -3); p.Limit != 20 || p.Offset != 0 {
		t.Fatalf("unexpected default page %+v", p)
	}
	if p := NewPage(1000, 5); p.Limit != 100 || p.Offset != 5 {
		t.Fatalf("unexpected clamped page %+v", p)
	}
}
