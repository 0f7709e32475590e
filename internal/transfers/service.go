package transfers

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
	// ErrSelfTransfer is returned when sender and receiver are the same user.
	ErrSelfTransfer = errors.New("cannot transfer to yourself")
	// ErrInvalidTransition is returned when a transfer's status forbids the operation.
	ErrInvalidTransition = errors.New("invalid transfer status transition")
	// ErrNotSender is returned when a caller tries to complete someone else's transfer.
	ErrNotSender = errors.New("not the sender of this transfer")
)

// Service moves value between two users' internal balances.
type Service struct {
	store    ledger.Store
	balances *balance.Service
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService constructs a transfer service.
func NewService(store ledger.Store, balances *balance.Service, notifier notification.Notifier,
	logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		balances: balances,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures a peer transfer request.
type CreateInput struct {
	SenderID    string
	ReceiverID  string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// CreateTransfer records a pending transfer.
func (s *Service) CreateTransfer(ctx context.Context, in CreateInput) (ledger.FundTransfer, error) {
	sender, receiver := strings.TrimSpace(in.SenderID), strings.TrimSpace(in.ReceiverID)
	if sender == "" || receiver == "" {
		return ledger.FundTransfer{}, fmt.Errorf("sender and receiver are required")
	}
	if sender == receiver {
		return ledger.FundTransfer{}, ErrSelfTransfer
	}
	amount := money.Quantize(in.Amount)
	if !amount.IsPositive() {
		return ledger.FundTransfer{}, ledger.ErrInvalidAmount
	}
	currency, err := money.NormalizeCurrency(in.Currency)
	if err != nil {
		return ledger.FundTransfer{}, err
	}

	ft := ledger.FundTransfer{
		SenderID:    sender,
		ReceiverID:  receiver,
		Amount:      amount,
		Currency:    currency,
		Status:      ledger.TransferPending,
		Description: in.Description,
		RequestedAt: s.now(),
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertTransfer(ctx, &ft)
	})
	if err != nil {
		return ledger.FundTransfer{}, err
	}
	return ft, nil
}

// CompleteTransfer debits the sender and credits the receiver in one unit of work. Completing a
// completed transfer is a no-op. On insufficient funds the transfer is marked failed and the
// error is returned.
func (s *Service) CompleteTransfer(ctx context.Context, id uuid.UUID) (ledger.FundTransfer, error) {
	var (
		result  ledger.FundTransfer
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		ft, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		if ft.Status == ledger.TransferCompleted {
			result = ft
			return nil
		}
		if ft.Status != ledger.TransferPending {
			return ErrInvalidTransition
		}
		if err := s.balances.LockCurrencies(ctx, tx, ft.Currency, ft.SenderID, ft.ReceiverID); err != nil {
			return err
		}

		now := s.now()
		meta := ledger.Metadata{"transfer_id": ft.ID.String()}
		debit, err := s.balances.DebitWithEntryTx(ctx, tx, balance.Entry{
			UserID:      ft.SenderID,
			Amount:      ft.Amount,
			Currency:    ft.Currency,
			BonusType:   ledger.BonusTransfer,
			Source:      ledger.SourceUser,
			ReferenceID: ft.ID.String(),
			Description: fmt.Sprintf("transfer to %s", ft.ReceiverID),
			Metadata:    meta,
			At:          now,
		})
		if err != nil {
			return err
		}
		credit, err := s.balances.CreditWithEntryTx(ctx, tx, balance.Entry{
			UserID:      ft.ReceiverID,
			Amount:      ft.Amount,
			Currency:    ft.Currency,
			BonusType:   ledger.BonusTransfer,
			Source:      ledger.SourceUser,
			ReferenceID: ft.ID.String(),
			Description: fmt.Sprintf("transfer from %s", ft.SenderID),
			Metadata:    meta,
			At:          now,
		})
		if err != nil {
			return err
		}

		ft.Status = ledger.TransferCompleted
		ft.CompletedAt = &now
		ft.SenderTransactionID = &debit.ID
		ft.ReceiverTransactionID = &credit.ID
		if err := tx.UpdateTransfer(ctx, ft); err != nil {
			return err
		}
		result, changed = ft, true
		return nil
	})
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		if _, failErr := s.markFailed(ctx, id, "insufficient funds"); failErr != nil {
			s.logger.Error("mark transfer failed", "transfer_id", id, "error", failErr)
		}
		return ledger.FundTransfer{}, err
	}
	if err != nil {
		return ledger.FundTransfer{}, err
	}

	if changed {
		s.logger.Info("transfer completed", "transfer_id", result.ID, "sender_id", result.SenderID,
			"receiver_id", result.ReceiverID, "amount", result.Amount.String(), "currency", result.Currency)
		notification.Deliver(ctx, s.notifier, s.logger, s.metrics,
			notification.Message{
				UserID:        result.SenderID,
				Title:         "Transfer sent",
				Body:          fmt.Sprintf("You sent %s %s to %s.", result.Amount.String(), result.Currency, result.ReceiverID),
				Type:          notification.TypeTransfer,
				TransactionID: result.SenderTransactionID.String(),
			},
			notification.Message{
				UserID:        result.ReceiverID,
				Title:         "Transfer received",
				Body:          fmt.Sprintf("You received %s %s from %s.", result.Amount.String(), result.Currency, result.SenderID),
				Type:          notification.TypeTransfer,
				TransactionID: result.ReceiverTransactionID.String(),
			},
		)
	}
	return result, nil
}

// CompleteOwnTransfer completes a transfer on behalf of its sender.
func (s *Service) CompleteOwnTransfer(ctx context.Context, senderID string, id uuid.UUID) (ledger.FundTransfer, error) {
	ft, err := s.Get(ctx, id)
	if err != nil {
		return ledger.FundTransfer{}, err
	}
	if ft.SenderID != senderID {
		return ledger.FundTransfer{}, ErrNotSender
	}
	return s.CompleteTransfer(ctx, id)
}

// Transfer creates and completes a transfer. The created transfer is returned alongside any
// completion error so callers can report its final status.
func (s *Service) Transfer(ctx context.Context, in CreateInput) (ledger.FundTransfer, error) {
	ft, err := s.CreateTransfer(ctx, in)
	if err != nil {
		return ledger.FundTransfer{}, err
	}
	done, err := s.CompleteTransfer(ctx, ft.ID)
	if err != nil {
		if latest, getErr := s.Get(ctx, ft.ID); getErr == nil {
			return latest, err
		}
		return ft, err
	}
	return done, nil
}

func (s *Service) markFailed(ctx context.Context, id uuid.UUID, reason string) (ledger.FundTransfer, error) {
	var out ledger.FundTransfer
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		ft, err := tx.LockTransfer(ctx, id)
		if err != nil {
			return err
		}
		if ft.Status != ledger.TransferPending {
			out = ft
			return nil
		}
		ft.Status = ledger.TransferFailed
		ft.FailureReason = reason
		out = ft
		return tx.UpdateTransfer(ctx, ft)
	})
	if err == nil {
		s.logger.Info("transfer failed", "transfer_id", id, "reason", reason)
	}
	return out, err
}

// Get returns a transfer by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (ledger.FundTransfer, error) {
	var out ledger.FundTransfer
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		ft, err := tx.GetTransfer(ctx, id)
		out = ft
		return err
	})
	return out, err
}

// List returns transfers the user sent or received, newest first.
func (s *Service) List(ctx context.Context, userID string, page ledger.Page) ([]ledger.FundTransfer, error) {
	var out []ledger.FundTransfer
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		list, err := tx.ListTransfers(ctx, userID, page)
		out = list
		return err
	})
	return out, err
}
