package funding

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
)

// Acquirer opens a top-up with an external provider (mobile money, bank, card, on-chain).
// Confirmation arrives later through CompleteRecharge or FailRecharge.
type Acquirer interface {
	Initiate(ctx context.Context, req Initiation) (InitiationResult, error)
}

// Initiation describes the top-up sent to the provider.
type Initiation struct {
	UserID   string
	Amount   decimal.Decimal
	Currency string
	Method   ledger.RechargeMethod
	Provider string
}

// InitiationResult carries the provider's reference for the top-up.
type InitiationResult struct {
	Reference string
}

// StaticAcquirer accepts every top-up with a synthetic reference.
type StaticAcquirer struct{}

func (StaticAcquirer) Initiate(_ context.Context, req Initiation) (InitiationResult, error) {
	prefix := strings.ToUpper(string(req.Method))
	if prefix == "" {
		prefix = "RCH"
	}
	return InitiationResult{Reference: prefix + "-" + uuid.NewString()}, nil
}
