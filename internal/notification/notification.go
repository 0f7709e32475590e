package notification

import (
	"context"
	"errors"
	"log/slog"
)

// Message types.
const (
	TypeTransaction = "transaction"
	TypePayment     = "payment"
	TypeRecharge    = "recharge"
	TypeTransfer    = "transfer"
	TypeReward      = "reward"
)

// Message describes a notification payload addressed to one user.
type Message struct {
	UserID        string `json:"user_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	TargetKind    string `json:"target_kind,omitempty"`
	TargetID      int64  `json:"target_id,omitempty"`
}

// Notifier delivers notifications to downstream systems.
//
//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks . Notifier
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "user_id", message.UserID, "type", message.Type, "title", message.Title,
		"body", message.Body, "transaction_id", message.TransactionID, "payment_id", message.PaymentID)
	return nil
}

// Fanout sends each message to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FailureRecorder counts delivery failures.
type FailureRecorder interface {
	NotificationFailed()
}

// Deliver sends messages after a ledger commit. Failures are logged and dropped; they never undo
// the mutation that produced the message.
func Deliver(ctx context.Context, n Notifier, logger *slog.Logger, rec FailureRecorder, messages ...Message) {
	if n == nil {
		return
	}
	for _, m := range messages {
		if err := n.Send(ctx, m); err != nil {
			if rec != nil {
				rec.NotificationFailed()
			}
			if logger != nil {
				logger.Warn("notification delivery failed", "user_id", m.UserID, "type", m.Type, "error", err)
			}
		}
	}
}
