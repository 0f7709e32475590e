package payments

import (
	"context"
	"encoding/json"
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
	"github.com/gestion-vehicule/gestion_vehicule/internal/settlement"
)

var (
	// ErrTransactionAlreadyAttached is returned when a payment already has a technical leg.
	ErrTransactionAlreadyAttached = errors.New("payment already has a transaction")
	// ErrInvalidTransition is returned when the payment's status forbids the operation.
	ErrInvalidTransition = errors.New("invalid payment status transition")
	// ErrInvalidPaymentType is returned for payment types outside the closed set.
	ErrInvalidPaymentType = errors.New("invalid payment type")
	// ErrReservedProvider is returned when a provider leg claims the internal balance provider.
	ErrReservedProvider = errors.New("provider is reserved for balance payments")
)

// fundedFromKey marks, in payment metadata, a payment settled by PayFromBalance. Only that
// marker makes a refund credit the balance back.
const fundedFromKey = "funded_from"

// Service drives the payment state machine and its business effects.
type Service struct {
	store    ledger.Store
	balances *balance.Service
	effects  *settlement.Dispatcher
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService constructs a payment service.
func NewService(store ledger.Store, balances *balance.Service, effects *settlement.Dispatcher,
	notifier notification.Notifier, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		balances: balances,
		effects:  effects,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures a new payment intent.
type CreateInput struct {
	UserID   string
	Amount   decimal.Decimal
	Currency string
	Type     ledger.PaymentType
	Metadata ledger.Metadata
}

// AttachInput describes the provider-side leg of a payment.
type AttachInput struct {
	Provider    string
	ReferenceID string
	RawResponse json.RawMessage
}

// CreatePayment records a pending payment.
func (s *Service) CreatePayment(ctx context.Context, in CreateInput) (ledger.Payment, error) {
	amount := money.Quantize(in.Amount)
	if !amount.IsPositive() {
		return ledger.Payment{}, ledger.ErrInvalidAmount
	}
	currency, err := money.NormalizeCurrency(in.Currency)
	if err != nil {
		return ledger.Payment{}, err
	}
	if in.Type == "" {
		in.Type = ledger.PaymentGeneric
	}
	if !in.Type.Valid() {
		return ledger.Payment{}, fmt.Errorf("%w: %q", ErrInvalidPaymentType, in.Type)
	}

	meta := in.Metadata.Clone()
	delete(meta, fundedFromKey)

	p := ledger.Payment{
		UserID:    in.UserID,
		Amount:    amount,
		Currency:  currency,
		Type:      in.Type,
		Status:    ledger.PaymentPending,
		Metadata:  meta,
		CreatedAt: s.now(),
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertPayment(ctx, &p)
	})
	if err != nil {
		return ledger.Payment{}, err
	}
	s.metrics.PaymentTransition(string(p.Type), string(p.Status))
	return p, nil
}

// AttachTransaction creates the pending technical leg of a payment.
func (s *Service) AttachTransaction(ctx context.Context, paymentID uuid.UUID, in AttachInput) (ledger.Transaction, error) {
	if strings.EqualFold(strings.TrimSpace(in.Provider), ledger.ProviderBalance) {
		return ledger.Transaction{}, ErrReservedProvider
	}
	var leg ledger.Transaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.TransactionID != nil {
			return ErrTransactionAlreadyAttached
		}
		if p.Status != ledger.PaymentPending {
			return ErrInvalidTransition
		}
		leg = ledger.Transaction{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Type:        ledger.TypeDebit,
			BonusType:   ledger.BonusPayment,
			Source:      ledger.SourceUser,
			Status:      ledger.TxPending,
			Provider:    in.Provider,
			ReferenceID: in.ReferenceID,
			RawResponse: in.RawResponse,
			Metadata:    ledger.Metadata{"payment_id": p.ID.String()},
			Description: fmt.Sprintf("%s payment", p.Type),
			CreatedAt:   s.now(),
		}
		if err := tx.InsertTransaction(ctx, &leg); err != nil {
			return err
		}
		p.TransactionID = &leg.ID
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return leg, nil
}

// MarkCompleted completes a pending payment, its technical leg and its business effect in one
// unit of work, then notifies the payer. Completing a completed payment is a no-op.
func (s *Service) MarkCompleted(ctx context.Context, paymentID uuid.UUID) (ledger.Payment, error) {
	var (
		result  ledger.Payment
		outcome settlement.Outcome
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == ledger.PaymentCompleted {
			result = p
			return nil
		}
		if p.Status != ledger.PaymentPending {
			return ErrInvalidTransition
		}
		outcome, err = s.complete(ctx, tx, &p)
		if err != nil {
			return err
		}
		result, changed = p, true
		return nil
	})
	if err != nil {
		return ledger.Payment{}, err
	}
	if changed {
		s.afterCompletion(ctx, result, outcome)
	}
	return result, nil
}

// PayFromBalance settles a pending payment from the payer's internal balance. The debit, its
// ledger entry, the status change and the business effect commit together; on insufficient funds
// nothing changes and the payment stays pending.
func (s *Service) PayFromBalance(ctx context.Context, paymentID uuid.UUID) (ledger.Payment, error) {
	var (
		result  ledger.Payment
		outcome settlement.Outcome
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == ledger.PaymentCompleted {
			result = p
			return nil
		}
		if p.Status != ledger.PaymentPending {
			return ErrInvalidTransition
		}
		if p.TransactionID != nil {
			return ErrTransactionAlreadyAttached
		}
		leg, err := s.balances.DebitWithEntryTx(ctx, tx, balance.Entry{
			UserID:      p.UserID,
			Amount:      p.Amount,
			Currency:    p.Currency,
			BonusType:   ledger.BonusPayment,
			Source:      ledger.SourceUser,
			Provider:    ledger.ProviderBalance,
			Description: fmt.Sprintf("%s payment", p.Type),
			Metadata:    ledger.Metadata{"payment_id": p.ID.String()},
			At:          s.now(),
		})
		if err != nil {
			return err
		}
		p.TransactionID = &leg.ID
		p.Metadata = p.Metadata.Clone()
		p.Metadata[fundedFromKey] = ledger.ProviderBalance
		outcome, err = s.complete(ctx, tx, &p)
		if err != nil {
			return err
		}
		result, changed = p, true
		return nil
	})
	if err != nil {
		return ledger.Payment{}, err
	}
	if changed {
		s.afterCompletion(ctx, result, outcome)
	}
	return result, nil
}

func (s *Service) complete(ctx context.Context, tx ledger.Tx, p *ledger.Payment) (settlement.Outcome, error) {
	now := s.now()
	p.Status = ledger.PaymentCompleted
	p.PaidAt = &now
	if err := tx.UpdatePayment(ctx, *p); err != nil {
		return settlement.Outcome{}, err
	}
	if p.TransactionID != nil {
		if err := tx.SetTransactionStatus(ctx, *p.TransactionID, ledger.TxCompleted, ""); err != nil {
			return settlement.Outcome{}, fmt.Errorf("complete leg: %w", err)
		}
	}
	return s.effects.Apply(ctx, tx, *p, now)
}

func (s *Service) afterCompletion(ctx context.Context, p ledger.Payment, outcome settlement.Outcome) {
	s.metrics.PaymentTransition(string(p.Type), string(p.Status))
	s.logger.Info("payment completed", "payment_id", p.ID, "payment_type", p.Type,
		"amount", p.Amount.String(), "currency", p.Currency, "effect_applied", outcome.Applied)

	msg := notification.Message{
		UserID:    p.UserID,
		Title:     "Payment confirmed",
		Body:      fmt.Sprintf("Your %s payment of %s %s has been confirmed.", p.Type, p.Amount.String(), p.Currency),
		Type:      notification.TypePayment,
		PaymentID: p.ID.String(),
	}
	if p.TransactionID != nil {
		msg.TransactionID = p.TransactionID.String()
	}
	if outcome.Target != nil {
		msg.TargetKind, msg.TargetID = string(outcome.Target.Kind), outcome.Target.ID
	}
	notification.Deliver(ctx, s.notifier, s.logger, s.metrics, msg)
}

// MarkFailed fails a pending payment and its technical leg.
func (s *Service) MarkFailed(ctx context.Context, paymentID uuid.UUID, reason string) (ledger.Payment, error) {
	var (
		result  ledger.Payment
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == ledger.PaymentFailed {
			result = p
			return nil
		}
		if p.Status != ledger.PaymentPending {
			return ErrInvalidTransition
		}
		p.Status = ledger.PaymentFailed
		p.FailureReason = reason
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if p.TransactionID != nil {
			if err := tx.SetTransactionStatus(ctx, *p.TransactionID, ledger.TxFailed, reason); err != nil {
				return fmt.Errorf("fail leg: %w", err)
			}
		}
		result, changed = p, true
		return nil
	})
	if err != nil {
		return ledger.Payment{}, err
	}
	if changed {
		s.metrics.PaymentTransition(string(result.Type), string(result.Status))
		s.logger.Info("payment failed", "payment_id", result.ID, "reason", reason)
		notification.Deliver(ctx, s.notifier, s.logger, s.metrics, notification.Message{
			UserID:    result.UserID,
			Title:     "Payment failed",
			Body:      fmt.Sprintf("Your %s payment of %s %s failed: %s", result.Type, result.Amount.String(), result.Currency, reason),
			Type:      notification.TypePayment,
			PaymentID: result.ID.String(),
		})
	}
	return result, nil
}

// Refund reverts a completed payment: the business effect is rolled back and, when the payment
// was funded from the internal balance, the amount is credited back.
func (s *Service) Refund(ctx context.Context, paymentID uuid.UUID) (ledger.Payment, error) {
	var (
		result ledger.Payment
		credit *ledger.Transaction
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != ledger.PaymentCompleted {
			return ErrInvalidTransition
		}
		now := s.now()
		p.Status = ledger.PaymentRefunded
		p.RefundedAt = &now
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if _, err := s.effects.Rollback(ctx, tx, p); err != nil {
			return err
		}
		if p.TransactionID != nil && p.Metadata[fundedFromKey] == ledger.ProviderBalance {
			leg, err := tx.GetTransaction(ctx, *p.TransactionID)
			if err != nil {
				return fmt.Errorf("load leg: %w", err)
			}
			if leg.Provider == ledger.ProviderBalance && leg.Type == ledger.TypeDebit && leg.Status == ledger.TxCompleted {
				tr, err := s.balances.CreditWithEntryTx(ctx, tx, balance.Entry{
					UserID:      p.UserID,
					Amount:      leg.Amount,
					Currency:    leg.Currency,
					BonusType:   ledger.BonusRefund,
					Source:      ledger.SourceSystem,
					Provider:    ledger.ProviderBalance,
					ReferenceID: leg.ID.String(),
					Description: fmt.Sprintf("refund of %s payment", p.Type),
					Metadata:    ledger.Metadata{"payment_id": p.ID.String()},
					At:          now,
				})
				if err != nil {
					return err
				}
				credit = &tr
			}
		}
		result = p
		return nil
	})
	if err != nil {
		return ledger.Payment{}, err
	}

	s.metrics.PaymentTransition(string(result.Type), string(result.Status))
	s.logger.Info("payment refunded", "payment_id", result.ID, "credited_back", credit != nil)
	msg := notification.Message{
		UserID:    result.UserID,
		Title:     "Payment refunded",
		Body:      fmt.Sprintf("Your %s payment of %s %s has been refunded.", result.Type, result.Amount.String(), result.Currency),
		Type:      notification.TypePayment,
		PaymentID: result.ID.String(),
	}
	if credit != nil {
		msg.TransactionID = credit.ID.String()
	}
	notification.Deliver(ctx, s.notifier, s.logger, s.metrics, msg)
	return result, nil
}

// Get returns a payment by id.
func (s *Service) Get(ctx context.Context, paymentID uuid.UUID) (ledger.Payment, error) {
	var out ledger.Payment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		out = p
		return err
	})
	return out, err
}

// List returns a user's payments, newest first. An empty userID lists every payment.
func (s *Service) List(ctx context.Context, userID string, page ledger.Page) ([]ledger.Payment, error) {
	var out []ledger.Payment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		list, err := tx.ListPayments(ctx, userID, page)
		out = list
		return err
	})
	return out, err
}
