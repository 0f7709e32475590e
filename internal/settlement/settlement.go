// Package settlement applies and rolls back the business effect a completed payment has on the
// object it pays for: a fine, a toll debt, a document renewal or a contract.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/metrics"
)

// Kind is the closed set of payment types.
type Kind = ledger.PaymentType

// Skip reasons.
const (
	ReasonMissingReference = "missing_reference"
	ReasonTargetNotFound   = "target_not_found"
	ReasonAlreadySettled   = "already_settled"
	ReasonNotSettled       = "not_settled"
)

// ErrUnknownKind is returned for payment types outside the closed set.
var ErrUnknownKind = errors.New("unknown payment type")

// Outcome reports what a handler did. A zero Outcome with an empty SkipReason means there was
// nothing to do for the kind.
type Outcome struct {
	Applied    bool
	Target     *ledger.Target
	SkipReason string
}

// Handler applies or reverts one payment type's effect inside the payment's unit of work.
type Handler interface {
	Apply(ctx context.Context, tx ledger.Tx, p ledger.Payment, at time.Time) (Outcome, error)
	Rollback(ctx context.Context, tx ledger.Tx, p ledger.Payment) (Outcome, error)
}

// HandlerFor resolves the handler of a payment type.
func HandlerFor(kind Kind) (Handler, error) {
	switch kind {
	case ledger.PaymentFine:
		return targetHandler{kind: kind, key: "fine_id"}, nil
	case ledger.PaymentToll:
		return targetHandler{kind: kind, key: "toll_id"}, nil
	case ledger.PaymentRenewal:
		return targetHandler{kind: kind, key: "renewal_id"}, nil
	case ledger.PaymentContract:
		return targetHandler{kind: kind, key: "contract_id"}, nil
	case ledger.PaymentGeneric:
		return noopHandler{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// ReferenceID reads a positive integer id stored under key. JSON numbers decode as float64 and
// clients sometimes send ids as strings; both are accepted.
func ReferenceID(m ledger.Metadata, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		if v <= 0 || v != math.Trunc(v) || v >= math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case int:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case string:
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

type targetHandler struct {
	kind Kind
	key  string
}

func (h targetHandler) Apply(ctx context.Context, tx ledger.Tx, p ledger.Payment, at time.Time) (Outcome, error) {
	return h.set(ctx, tx, p, true, &at)
}

func (h targetHandler) Rollback(ctx context.Context, tx ledger.Tx, p ledger.Payment) (Outcome, error) {
	return h.set(ctx, tx, p, false, nil)
}

func (h targetHandler) set(ctx context.Context, tx ledger.Tx, p ledger.Payment, paid bool, at *time.Time) (Outcome, error) {
	id, ok := ReferenceID(p.Metadata, h.key)
	if !ok {
		return Outcome{SkipReason: ReasonMissingReference}, nil
	}
	target, err := tx.LockTarget(ctx, h.kind, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return Outcome{SkipReason: ReasonTargetNotFound}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("lock %s %d: %w", h.kind, id, err)
	}
	if target.Paid == paid {
		reason := ReasonAlreadySettled
		if !paid {
			reason = ReasonNotSettled
		}
		return Outcome{Target: &target, SkipReason: reason}, nil
	}
	if err := tx.SetTargetPaid(ctx, h.kind, id, paid, at); err != nil {
		return Outcome{}, fmt.Errorf("settle %s %d: %w", h.kind, id, err)
	}
	target.Paid, target.PaidAt = paid, at
	return Outcome{Applied: true, Target: &target}, nil
}

type noopHandler struct{}

func (noopHandler) Apply(context.Context, ledger.Tx, ledger.Payment, time.Time) (Outcome, error) {
	return Outcome{}, nil
}

func (noopHandler) Rollback(context.Context, ledger.Tx, ledger.Payment) (Outcome, error) {
	return Outcome{}, nil
}

// Dispatcher routes payments to their handler and records skipped effects.
type Dispatcher struct {
	handlers map[Kind]Handler
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher builds a dispatcher covering every payment type.
func NewDispatcher(logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	handlers := make(map[Kind]Handler, len(ledger.PaymentTypes()))
	for _, kind := range ledger.PaymentTypes() {
		h, err := HandlerFor(kind)
		if err != nil {
			panic(err)
		}
		handlers[kind] = h
	}
	return &Dispatcher{handlers: handlers, logger: logger, metrics: m}
}

// Apply runs the payment type's effect.
func (d *Dispatcher) Apply(ctx context.Context, tx ledger.Tx, p ledger.Payment, at time.Time) (Outcome, error) {
	h, ok := d.handlers[p.Type]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownKind, p.Type)
	}
	out, err := h.Apply(ctx, tx, p, at)
	if err != nil {
		return Outcome{}, err
	}
	d.record(p, out, "apply")
	return out, nil
}

// Rollback reverts the payment type's effect.
func (d *Dispatcher) Rollback(ctx context.Context, tx ledger.Tx, p ledger.Payment) (Outcome, error) {
	h, ok := d.handlers[p.Type]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownKind, p.Type)
	}
	out, err := h.Rollback(ctx, tx, p)
	if err != nil {
		return Outcome{}, err
	}
	d.record(p, out, "rollback")
	return out, nil
}

func (d *Dispatcher) record(p ledger.Payment, out Outcome, phase string) {
	if out.SkipReason == "" {
		return
	}
	d.metrics.SettlementSkipped(string(p.Type), out.SkipReason)
	if d.logger != nil {
		d.logger.Warn("settlement skipped", "payment_id", p.ID, "payment_type", p.Type,
			"phase", phase, "reason", out.SkipReason)
	}
}
