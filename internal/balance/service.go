package balance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/metrics"
	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
)

// Service is the only component that mutates balance currency rows.
type Service struct {
	store   ledger.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService constructs a balance service.
func NewService(store ledger.Store, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{store: store, logger: logger, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// Entry describes a balance movement recorded together with its ledger entry.
type Entry struct {
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	BonusType   ledger.BonusType
	Source      ledger.Source
	Provider    string
	ReferenceID string
	Description string
	Metadata    ledger.Metadata
	// At overrides the entry timestamp; zero means now.
	At time.Time
}

// GetOrCreateBalance returns the user's balance, creating an empty one on first use.
func (s *Service) GetOrCreateBalance(ctx context.Context, userID string) (ledger.Balance, error) {
	var out ledger.Balance
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		b, err := tx.GetOrCreateBalance(ctx, userID)
		out = b
		return err
	})
	return out, err
}

// Snapshot returns the user's balance with every currency row without creating anything.
func (s *Service) Snapshot(ctx context.Context, userID string) (ledger.Balance, error) {
	var out ledger.Balance
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		b, err := tx.FindBalance(ctx, userID)
		if errors.Is(err, ledger.ErrNotFound) {
			out = ledger.Balance{UserID: userID, Currencies: []ledger.BalanceCurrency{}}
			return nil
		}
		out = b
		return err
	})
	return out, err
}

// Credit adds amount to the user's currency row.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, currency string) (ledger.Balance, error) {
	var out ledger.Balance
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		b, err := s.CreditTx(ctx, tx, userID, amount, currency)
		out = b
		return err
	})
	return out, err
}

// Debit subtracts amount from the user's currency row.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, currency string) (ledger.Balance, error) {
	var out ledger.Balance
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		b, err := s.DebitTx(ctx, tx, userID, amount, currency)
		out = b
		return err
	})
	return out, err
}

// CreditTx is Credit inside a caller-owned unit of work.
func (s *Service) CreditTx(ctx context.Context, tx ledger.Tx, userID string, amount decimal.Decimal, currency string) (ledger.Balance, error) {
	amount, code, err := validate(amount, currency)
	if err != nil {
		return ledger.Balance{}, err
	}
	b, err := ledger.Credit(ctx, tx, userID, amount, code)
	if err != nil {
		return ledger.Balance{}, err
	}
	s.metrics.BalanceOperation("credit", code)
	return b, nil
}

// DebitTx is Debit inside a caller-owned unit of work.
func (s *Service) DebitTx(ctx context.Context, tx ledger.Tx, userID string, amount decimal.Decimal, currency string) (ledger.Balance, error) {
	amount, code, err := validate(amount, currency)
	if err != nil {
		return ledger.Balance{}, err
	}
	b, err := ledger.Debit(ctx, tx, userID, amount, code)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			s.metrics.InsufficientFunds(code)
			s.logger.Info("debit rejected", "user_id", userID, "currency", code, "amount", amount.String())
		}
		return ledger.Balance{}, err
	}
	s.metrics.BalanceOperation("debit", code)
	return b, nil
}

// HasSufficientBalance reports whether the user holds at least amount of currency. It never
// mutates or creates rows.
func (s *Service) HasSufficientBalance(ctx context.Context, userID string, amount decimal.Decimal, currency string) (bool, error) {
	code, err := money.NormalizeCurrency(currency)
	if err != nil {
		return false, err
	}
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return snap.Amount(code).GreaterThanOrEqual(money.Quantize(amount)), nil
}

// LockCurrencies locks the currency rows of every user in ascending user id order, creating them
// at zero when missing. Callers touching several users lock through here first.
func (s *Service) LockCurrencies(ctx context.Context, tx ledger.Tx, currency string, userIDs ...string) error {
	code, err := money.NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		b, err := tx.GetOrCreateBalance(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.LockCurrency(ctx, b.ID, code); err != nil {
			return fmt.Errorf("lock %s/%s: %w", id, code, err)
		}
	}
	return nil
}

// CreditWithEntry credits the balance and appends a completed CREDIT entry atomically.
func (s *Service) CreditWithEntry(ctx context.Context, e Entry) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		tr, err := s.CreditWithEntryTx(ctx, tx, e)
		out = tr
		return err
	})
	return out, err
}

// DebitWithEntry debits the balance and appends a completed DEBIT entry atomically.
func (s *Service) DebitWithEntry(ctx context.Context, e Entry) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		tr, err := s.DebitWithEntryTx(ctx, tx, e)
		out = tr
		return err
	})
	return out, err
}

func (s *Service) CreditWithEntryTx(ctx context.Context, tx ledger.Tx, e Entry) (ledger.Transaction, error) {
	if _, err := s.CreditTx(ctx, tx, e.UserID, e.Amount, e.Currency); err != nil {
		return ledger.Transaction{}, err
	}
	return s.record(ctx, tx, e, ledger.TypeCredit)
}

func (s *Service) DebitWithEntryTx(ctx context.Context, tx ledger.Tx, e Entry) (ledger.Transaction, error) {
	if _, err := s.DebitTx(ctx, tx, e.UserID, e.Amount, e.Currency); err != nil {
		return ledger.Transaction{}, err
	}
	return s.record(ctx, tx, e, ledger.TypeDebit)
}

func (s *Service) record(ctx context.Context, tx ledger.Tx, e Entry, kind ledger.TransactionType) (ledger.Transaction, error) {
	code, _ := money.NormalizeCurrency(e.Currency)
	source := e.Source
	if source == "" {
		source = ledger.SourceSystem
	}
	at := e.At
	if at.IsZero() {
		at = s.now()
	}
	tr := ledger.Transaction{
		UserID:      e.UserID,
		Amount:      money.Quantize(e.Amount),
		Currency:    code,
		Type:        kind,
		BonusType:   e.BonusType,
		Source:      source,
		Status:      ledger.TxCompleted,
		Provider:    e.Provider,
		ReferenceID: e.ReferenceID,
		Metadata:    e.Metadata,
		Description: e.Description,
		CreatedAt:   at,
	}
	if err := tx.InsertTransaction(ctx, &tr); err != nil {
		return ledger.Transaction{}, fmt.Errorf("record %s entry: %w", kind, err)
	}
	return tr, nil
}

// Transactions lists the user's ledger entries, newest first.
func (s *Service) Transactions(ctx context.Context, userID string, page ledger.Page) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		list, err := tx.ListTransactions(ctx, userID, page)
		out = list
		return err
	})
	return out, err
}

// Transaction returns one entry owned by userID.
func (s *Service) Transaction(ctx context.Context, userID string, id uuid.UUID) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		tr, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tr.UserID != userID {
			return ledger.ErrNotFound
		}
		out = tr
		return nil
	})
	return out, err
}

func validate(amount decimal.Decimal, currency string) (decimal.Decimal, string, error) {
	amount = money.Quantize(amount)
	if !amount.IsPositive() {
		return decimal.Zero, "", ledger.ErrInvalidAmount
	}
	code, err := money.NormalizeCurrency(currency)
	if err != nil {
		return decimal.Zero, "", err
	}
	return amount, code, nil
}
