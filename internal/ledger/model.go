package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a ledger entry.
type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

// BonusType classifies why a ledger entry was written.
type BonusType string

const (
	BonusSignup         BonusType = "signup"
	BonusReferral       BonusType = "referral"
	BonusCreateVehicle  BonusType = "create_vehicle"
	BonusPaymentSuccess BonusType = "payment_success"
	BonusContract       BonusType = "contract"
	BonusTransfer       BonusType = "transfer"
	BonusBonus          BonusType = "bonus"
	BonusDailyLogin     BonusType = "daily_login"
	BonusRandom         BonusType = "random"
	BonusPayment        BonusType = "payment"
	BonusRecharge       BonusType = "recharge"
	BonusRefund         BonusType = "refund"
)

// Source records who initiated a ledger entry.
type Source string

const (
	SourceSystem Source = "system"
	SourceUser   Source = "user"
	SourceAdmin  Source = "admin"
)

// TransactionStatus is the lifecycle state of a ledger entry.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// ProviderBalance marks a payment leg funded from the user's internal balance.
const ProviderBalance = "balance"

// Metadata is a free-form JSON object attached to ledger rows.
type Metadata map[string]any

// Clone returns a shallow copy so stored rows never alias caller maps.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value under key when it is a string.
func (m Metadata) String(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// Balance is the per-user ledger root.
type Balance struct {
	ID         uuid.UUID         `json:"id"`
	UserID     string            `json:"user_id"`
	CreatedAt  time.Time         `json:"created_at"`
	Currencies []BalanceCurrency `json:"currencies"`
}

// Amount returns the amount held in currency, zero when no row exists.
func (b Balance) Amount(currency string) decimal.Decimal {
	for _, c := range b.Currencies {
		if c.Currency == currency {
			return c.Amount
		}
	}
	return decimal.Zero
}

// BalanceCurrency is the authoritative amount for one (user, currency) pair.
type BalanceCurrency struct {
	ID        uuid.UUID       `json:"id"`
	BalanceID uuid.UUID       `json:"-"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is an immutable ledger entry. Only Status and Description move, and only from pending.
type Transaction struct {
	ID          uuid.UUID         `json:"id"`
	UserID      string            `json:"user_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Type        TransactionType   `json:"type"`
	BonusType   BonusType         `json:"bonus_type,omitempty"`
	Source      Source            `json:"source"`
	Status      TransactionStatus `json:"status"`
	Provider    string            `json:"provider,omitempty"`
	ReferenceID string            `json:"reference_id,omitempty"`
	RawResponse json.RawMessage   `json:"raw_response,omitempty"`
	Metadata    Metadata          `json:"metadata"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PaymentType names the business object a payment settles.
type PaymentType string

const (
	PaymentFine     PaymentType = "fine"
	PaymentToll     PaymentType = "toll"
	PaymentRenewal  PaymentType = "renewal"
	PaymentContract PaymentType = "contract"
	PaymentGeneric  PaymentType = "generic"
)

// PaymentTypes lists every payment type in a stable order.
func PaymentTypes() []PaymentType {
	return []PaymentType{PaymentFine, PaymentToll, PaymentRenewal, PaymentContract, PaymentGeneric}
}

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	for _, known := range PaymentTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// PaymentStatus is the payment lifecycle state.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is a user's intent to settle a business obligation.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Type          PaymentType     `json:"payment_type"`
	Status        PaymentStatus   `json:"status"`
	Metadata      Metadata        `json:"metadata"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
}

// RechargeMethod is the channel a top-up arrived through.
type RechargeMethod string

const (
	MethodCrypto RechargeMethod = "crypto"
	MethodMobile RechargeMethod = "mobile"
	MethodBank   RechargeMethod = "bank"
	MethodCard   RechargeMethod = "card"
)

// Valid reports whether m is a known method.
func (m RechargeMethod) Valid() bool {
	switch m {
	case MethodCrypto, MethodMobile, MethodBank, MethodCard:
		return true
	}
	return false
}

// RechargeStatus is the top-up lifecycle state.
type RechargeStatus string

const (
	RechargePending RechargeStatus = "pending"
	RechargeSuccess RechargeStatus = "success"
	RechargeFailed  RechargeStatus = "failed"
)

// Recharge is an inbound top-up of a user's internal balance.
type Recharge struct {
	ID            uuid.UUID       `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Provider      string          `json:"provider"`
	Reference     string          `json:"reference"`
	Method        RechargeMethod  `json:"method"`
	Status        RechargeStatus  `json:"status"`
	TransactionID *uuid.UUID      `json:"transaction_id,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// TransferStatus is the peer transfer lifecycle state.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// FundTransfer moves value between two users' balances.
type FundTransfer struct {
	ID                    uuid.UUID       `json:"id"`
	SenderID              string          `json:"sender_id"`
	ReceiverID            string          `json:"receiver_id"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Status                TransferStatus  `json:"status"`
	Description           string          `json:"description,omitempty"`
	SenderTransactionID   *uuid.UUID      `json:"sender_transaction_id,omitempty"`
	ReceiverTransactionID *uuid.UUID      `json:"receiver_transaction_id,omitempty"`
	RequestedAt           time.Time       `json:"requested_at"`
	CompletedAt           *time.Time      `json:"completed_at,omitempty"`
	FailureReason         string          `json:"failure_reason,omitempty"`
}

// WalletType distinguishes on-chain addresses from off-chain payout accounts.
type WalletType string

const (
	WalletCrypto WalletType = "crypto"
	WalletMobile WalletType = "mobile"
	WalletBank   WalletType = "bank"
)

// Wallet is an external address linked to a user. Its external balance is informational only.
type Wallet struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	BalanceID       uuid.UUID       `json:"balance_id"`
	Network         string          `json:"network"`
	PublicKey       string          `json:"public_key"`
	Address         string          `json:"address"`
	Type            WalletType      `json:"wallet_type"`
	ExternalBalance decimal.Decimal `json:"external_balance"`
	IsVerified      bool            `json:"is_verified"`
	IsActive        bool            `json:"is_active"`
	LastSyncedAt    *time.Time      `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Target is the paid state of an external business object a payment settles.
type Target struct {
	Kind   PaymentType `json:"kind"`
	ID     int64       `json:"id"`
	Paid   bool        `json:"paid"`
	PaidAt *time.Time  `json:"paid_at,omitempty"`
}
