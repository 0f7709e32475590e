package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
)

var (
	// ErrInsufficientFunds occurs when a debit exceeds the currency row's amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for non-positive or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidCurrency is returned for malformed currency codes.
	ErrInvalidCurrency = money.ErrInvalidCurrency

	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("conflict")

	// ErrImmutableTransaction is returned when a non-pending ledger entry would change.
	ErrImmutableTransaction = errors.New("transaction is no longer pending")
)

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

// NewPage clamps limit to [1, 100] with a default of 20.
func NewPage(limit, offset int) Page {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}

// Store is the unit-of-work boundary. fn runs inside one database transaction; a non-nil
// return rolls everything back.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes every ledger row kind within one unit of work. Lock* accessors take an exclusive
// row lock held until the unit ends.
type Tx interface {
	BalanceRepository
	TransactionRepository
	PaymentRepository
	RechargeRepository
	TransferRepository
	WalletRepository
	TargetRepository
}

type BalanceRepository interface {
	GetOrCreateBalance(ctx context.Context, userID string) (Balance, error)
	FindBalance(ctx context.Context, userID string) (Balance, error)
	// LockCurrency returns the currency row, creating it at zero on first use, and locks it.
	LockCurrency(ctx context.Context, balanceID uuid.UUID, currency string) (BalanceCurrency, error)
	SetCurrencyAmount(ctx context.Context, currencyID uuid.UUID, amount decimal.Decimal) error
}

type TransactionRepository interface {
	InsertTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, error)
	SetTransactionStatus(ctx context.Context, id uuid.UUID, status TransactionStatus, description string) error
	// HasRewardOnDay reports whether a completed entry tagged reward_key exists in [from, to).
	HasRewardOnDay(ctx context.Context, userID, currency, rewardKey string, from, to time.Time) (bool, error)
	ListTransactions(ctx context.Context, userID string, page Page) ([]Transaction, error)
}

type PaymentRepository interface {
	InsertPayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (Payment, error)
	LockPayment(ctx context.Context, id uuid.UUID) (Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, userID string, page Page) ([]Payment, error)
}

type RechargeRepository interface {
	InsertRecharge(ctx context.Context, r *Recharge) error
	GetRecharge(ctx context.Context, id uuid.UUID) (Recharge, error)
	LockRecharge(ctx context.Context, id uuid.UUID) (Recharge, error)
	UpdateRecharge(ctx context.Context, r Recharge) error
	ListRecharges(ctx context.Context, userID string, page Page) ([]Recharge, error)
}

type TransferRepository interface {
	InsertTransfer(ctx context.Context, t *FundTransfer) error
	GetTransfer(ctx context.Context, id uuid.UUID) (FundTransfer, error)
	LockTransfer(ctx context.Context, id uuid.UUID) (FundTransfer, error)
	UpdateTransfer(ctx context.Context, t FundTransfer) error
	// ListTransfers returns transfers where userID is sender or receiver.
	ListTransfers(ctx context.Context, userID string, page Page) ([]FundTransfer, error)
}

type WalletRepository interface {
	InsertWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, id uuid.UUID) (Wallet, error)
	FindActiveWallet(ctx context.Context, userID, network string) (Wallet, error)
	ListWallets(ctx context.Context, userID string) ([]Wallet, error)
	ListActiveWallets(ctx context.Context, network string) ([]Wallet, error)
	UpdateWallet(ctx context.Context, w Wallet) error
}

type TargetRepository interface {
	LockTarget(ctx context.Context, kind PaymentType, id int64) (Target, error)
	SetTargetPaid(ctx context.Context, kind PaymentType, id int64, paid bool, at *time.Time) error
}

// Credit adds amount to the user's currency row inside tx. It writes no Transaction.
func Credit(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, currency string) (Balance, error) {
	return apply(ctx, tx, userID, amount, currency, false)
}

// Debit subtracts amount from the user's currency row inside tx. It writes no Transaction and
// returns ErrInsufficientFunds without mutating when amount exceeds the current value.
func Debit(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, currency string) (Balance, error) {
	return apply(ctx, tx, userID, amount, currency, true)
}

func apply(ctx context.Context, tx Tx, userID string, amount decimal.Decimal, currency string, debit bool) (Balance, error) {
	amount = money.Quantize(amount)
	if amount.IsNegative() {
		return Balance{}, ErrInvalidAmount
	}
	code, err := money.NormalizeCurrency(currency)
	if err != nil {
		return Balance{}, err
	}

	bal, err := tx.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return Balance{}, fmt.Errorf("balance for %s: %w", userID, err)
	}
	row, err := tx.LockCurrency(ctx, bal.ID, code)
	if err != nil {
		return Balance{}, fmt.Errorf("lock %s/%s: %w", userID, code, err)
	}

	next := row.Amount.Add(amount)
	if debit {
		if amount.GreaterThan(row.Amount) {
			return Balance{}, ErrInsufficientFunds
		}
		next = row.Amount.Sub(amount)
	}
	if err := tx.SetCurrencyAmount(ctx, row.ID, money.Quantize(next)); err != nil {
		return Balance{}, err
	}
	return tx.FindBalance(ctx, userID)
}
