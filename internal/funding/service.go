package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestion-vehicule/gestion_vehicule/internal/balance"
	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/metrics"
	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
	"github.com/gestion-vehicule/gestion_vehicule/internal/notification"
)

var (
	// ErrDuplicateReference is returned when a provider reference was already recorded.
	ErrDuplicateReference = errors.New("duplicate recharge reference")
	// ErrInvalidTransition is returned when a recharge's status forbids the operation.
	ErrInvalidTransition = errors.New("invalid recharge status transition")
	// ErrInvalidMethod is returned for unknown recharge methods.
	ErrInvalidMethod = errors.New("invalid recharge method")
)

// Service coordinates top-ups of users' internal balances.
type Service struct {
	store    ledger.Store
	balances *balance.Service
	acquirer Acquirer
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService prepares a funding service. A nil acquirer defaults to StaticAcquirer.
func NewService(store ledger.Store, balances *balance.Service, acquirer Acquirer, notifier notification.Notifier,
	logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if balances == nil {
		return nil, fmt.Errorf("balance service is required")
	}
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	return &Service{
		store:    store,
		balances: balances,
		acquirer: acquirer,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateInput captures a top-up request.
type CreateInput struct {
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	Method    ledger.RechargeMethod
	Provider  string
	Reference string
}

// CreateRecharge records a pending top-up. Without a reference the acquirer issues one.
func (s *Service) CreateRecharge(ctx context.Context, in CreateInput) (ledger.Recharge, error) {
	amount := money.Quantize(in.Amount)
	if !amount.IsPositive() {
		return ledger.Recharge{}, ledger.ErrInvalidAmount
	}
	currency, err := money.NormalizeCurrency(in.Currency)
	if err != nil {
		return ledger.Recharge{}, err
	}
	if !in.Method.Valid() {
		return ledger.Recharge{}, fmt.Errorf("%w: %q", ErrInvalidMethod, in.Method)
	}
	provider := strings.TrimSpace(in.Provider)
	if provider == "" {
		provider = string(in.Method)
	}

	reference := strings.TrimSpace(in.Reference)
	if reference == "" {
		res, err := s.acquirer.Initiate(ctx, Initiation{
			UserID: in.UserID, Amount: amount, Currency: currency, Method: in.Method, Provider: provider,
		})
		if err != nil {
			return ledger.Recharge{}, fmt.Errorf("initiate recharge: %w", err)
		}
		reference = res.Reference
	}

	r := ledger.Recharge{
		UserID:      in.UserID,
		Amount:      amount,
		Currency:    currency,
		Provider:    provider,
		Reference:   reference,
		Method:      in.Method,
		Status:      ledger.RechargePending,
		RequestedAt: s.now(),
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertRecharge(ctx, &r)
	})
	if errors.Is(err, ledger.ErrConflict) {
		return ledger.Recharge{}, ErrDuplicateReference
	}
	if err != nil {
		return ledger.Recharge{}, err
	}
	s.logger.Info("recharge requested", "recharge_id", r.ID, "user_id", r.UserID, "method", r.Method,
		"amount", r.Amount.String(), "currency", r.Currency)
	return r, nil
}

// CompleteRecharge credits the balance and records the CREDIT entry. Completing a successful
// recharge again is a no-op.
func (s *Service) CompleteRecharge(ctx context.Context, id uuid.UUID) (ledger.Recharge, error) {
	var (
		result  ledger.Recharge
		entry   ledger.Transaction
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.LockRecharge(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == ledger.RechargeSuccess {
			result = r
			return nil
		}
		if r.Status != ledger.RechargePending {
			return ErrInvalidTransition
		}
		now := s.now()
		entry, err = s.balances.CreditWithEntryTx(ctx, tx, balance.Entry{
			UserID:      r.UserID,
			Amount:      r.Amount,
			Currency:    r.Currency,
			BonusType:   ledger.BonusRecharge,
			Source:      ledger.SourceSystem,
			Provider:    r.Provider,
			ReferenceID: r.Reference,
			Description: fmt.Sprintf("%s recharge", r.Method),
			Metadata:    ledger.Metadata{"recharge_id": r.ID.String(), "method": string(r.Method)},
			At:          now,
		})
		if err != nil {
			return err
		}
		r.Status = ledger.RechargeSuccess
		r.CompletedAt = &now
		r.TransactionID = &entry.ID
		if err := tx.UpdateRecharge(ctx, r); err != nil {
			return err
		}
		result, changed = r, true
		return nil
	})
	if err != nil {
		return ledger.Recharge{}, err
	}
	if changed {
		s.logger.Info("recharge completed", "recharge_id", result.ID, "transaction_id", entry.ID)
		notification.Deliver(ctx, s.notifier, s.logger, s.metrics, notification.Message{
			UserID:        result.UserID,
			Title:         "Recharge received",
			Body:          fmt.Sprintf("Your balance was credited with %s %s.", result.Amount.String(), result.Currency),
			Type:          notification.TypeRecharge,
			TransactionID: entry.ID.String(),
		})
	}
	return result, nil
}

// FailRecharge marks a pending recharge failed. Failing a failed recharge is a no-op.
func (s *Service) FailRecharge(ctx context.Context, id uuid.UUID, reason string) (ledger.Recharge, error) {
	var (
		result  ledger.Recharge
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.LockRecharge(ctx, id)
		if err != nil {
			return err
		}
		if r.Status == ledger.RechargeFailed {
			result = r
			return nil
		}
		if r.Status != ledger.RechargePending {
			return ErrInvalidTransition
		}
		r.Status = ledger.RechargeFailed
		r.FailureReason = reason
		if err := tx.UpdateRecharge(ctx, r); err != nil {
			return err
		}
		result, changed = r, true
		return nil
	})
	if err != nil {
		return ledger.Recharge{}, err
	}
	if changed {
		s.logger.Info("recharge failed", "recharge_id", result.ID, "reason", reason)
		notification.Deliver(ctx, s.notifier, s.logger, s.metrics, notification.Message{
			UserID: result.UserID,
			Title:  "Recharge failed",
			Body:   fmt.Sprintf("Your recharge of %s %s failed: %s", result.Amount.String(), result.Currency, reason),
			Type:   notification.TypeRecharge,
		})
	}
	return result, nil
}

// Get returns a recharge by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (ledger.Recharge, error) {
	var out ledger.Recharge
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		r, err := tx.GetRecharge(ctx, id)
		out = r
		return err
	})
	return out, err
}

// List returns a user's recharges, newest first. An empty userID lists every recharge.
func (s *Service) List(ctx context.Context, userID string, page ledger.Page) ([]ledger.Recharge, error) {
	var out []ledger.Recharge
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		list, err := tx.ListRecharges(ctx, userID, page)
		out = list
		return err
	})
	return out, err
}
