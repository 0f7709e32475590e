package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestion-vehicule/gestion_vehicule/internal/balance"
	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/logging"
	"github.com/gestion-vehicule/gestion_vehicule/internal/notification"
	"github.com/gestion-vehicule/gestion_vehicule/internal/notification/mocks"
	"github.com/gestion-vehicule/gestion_vehicule/internal/settlement"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newService(t *testing.T, notifier notification.Notifier) (*Service, *ledger.InMemoryStore) {
	t.Helper()
	store := ledger.NewInMemory()
	logger := logging.Discard()
	balances := balance.NewService(store, logger, nil)
	svc := NewService(store, balances, settlement.NewDispatcher(logger, nil), notifier, logger, nil)
	return svc, store
}

func TestCompletingFinePaymentMarksFinePaid(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	svc, store := newService(t, notifier)
	ledger.SeedTarget(store, ledger.PaymentFine, 7, false)
	ctx := context.Background()

	p, err := svc.CreatePayment(ctx, CreateInput{
		UserID: "user-a", Amount: dec("500"), Currency: "HTG", Type: ledger.PaymentFine,
		Metadata: ledger.Metadata{"fine_id": float64(7)},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPending, p.Status)
	assert.Equal(t, "htg", p.Currency)

	notifier.EXPECT().
		Send(gomock.Any(), gomock.AssignableToTypeOf(notification.Message{})).
		DoAndReturn(func(_ context.Context, m notification.Message) error {
			assert.Equal(t, "user-a", m.UserID)
			assert.Equal(t, p.ID.String(), m.PaymentID)
			assert.Equal(t, "fine", m.TargetKind)
			assert.Equal(t, int64(7), m.TargetID)
			return nil
		}).
		Times(1)

	done, err := svc.MarkCompleted(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentCompleted, done.Status)
	require.NotNil(t, done.PaidAt)

	fine, _ := ledger.LookupTarget(store, ledger.PaymentFine, 7)
	assert.True(t, fine.Paid)

	again, err := svc.MarkCompleted(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, done.PaidAt, again.PaidAt)
}

func TestMarkCompletedCompletesAttachedLeg(t *testing.T) {
	svc, store := newService(t, nil)
	ctx := context.Background()

	p, err := svc.CreatePayment(ctx, CreateInput{UserID: "user-a", Amount: dec("25"), Currency: "usd"})
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentGeneric, p.Type)

	leg, err := svc.AttachTransaction(ctx, p.ID, AttachInput{Provider: "moncash", ReferenceID: "MC-1", RawResponse: []byte(`{"ok":true}`)})
	require.NoError(t, err)
	assert.Equal(t, ledger.TxPending, leg.Status)

	_, err = svc.AttachTransaction(ctx, p.ID, AttachInput{Provider: "moncash"})
	assert.True(t, errors.Is(err, ErrTransactionAlreadyAttached))

	_, err = svc.MarkCompleted(ctx, p.ID)
	require.NoError(t, err)

	txs := ledger.TransactionsOf(store, "user-a")
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxCompleted, txs[0].Status)
	assert.Equal(t, "MC-1", txs[0].ReferenceID)
	assert.True(t, ledger.AmountOf(store, "user-a", "usd").IsZero(), "provider payments never touch the balance")
}

func TestCreatePaymentValidation(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.CreatePayment(ctx, CreateInput{UserID: "u", Amount: dec("0"), Currency: "htg"})
	assert.True(t, errors.Is(err, ledger.ErrInvalidAmount))

	_, err = svc.CreatePayment(ctx, CreateInput{UserID: "u", Amount: dec("1"), Currency: "htg", Type: "parking"})
	assert.True(t, errors.Is(err, ErrInvalidPaymentType))

	_, err = svc.CreatePayment(ctx, CreateInput{UserID: "u", Amount: dec("1"), Currency: "h"})
	assert.True(t, errors.Is(err, ledger.ErrInvalidCurrency))
}

func TestMissingTargetIsSilentNoop(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	p, err := svc.CreatePayment(ctx, CreateInput{UserID: "u", Amount: dec("10"), Currency: "htg",
		Type: ledger.PaymentContract, Metadata: ledger.Metadata{"contract_id": float64(99)}})
	require.NoError(t, err)

	done, err := svc.MarkCompleted(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentCompleted, done.Status)
}

func TestMarkFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("push gateway down")).Times(1)
	svc, store := newService(t, notifier)
	ctx := context.Background()

	p, _ := svc.CreatePayment(ctx, CreateInput{UserID: "u", Amount: dec("10"), Currency: "htg"})
	_, err := svc.AttachTransaction(ctx, p.ID, AttachInput{Provider: "card"})
	require.NoError(t, err)

	failed, err := svc.MarkFailed(ctx, p.ID, "declined")
	require.NoError(t, err, "notification errors must not surface")
	assert.Equal(t, ledger.PaymentFailed, failed.Status)
	assert.Equal(t, "declined", failed.FailureReason)

	txs := ledger.TransactionsOf(store, "u")
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TxFailed, txs[0].Status)
	assert.Equal(t, "declined", txs[0].Description)

	_, err = svc.MarkCompleted(ctx, p.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	_, err = svc.Refund(ctx, p.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestPayFromBalance(t *testing.T) {
	svc, store := newService(t, nil)
	ledger.SeedTarget(store, ledger.PaymentRenewal, 3, false)
	ledger.SeedBalance(store, "user-a", "htg", dec("300"))
	ctx := context.Background()

	p, _ := svc.CreatePayment(ctx, CreateInput{UserID: "user-a", Amount: dec("120.5"), Currency: "htg",
		Type: ledger.PaymentRenewal, Metadata: ledger.Metadata{"renewal_id": "3"}})

	done, err := svc.PayFromBalance(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentCompleted, done.Status)
	require.NotNil(t, done.TransactionID)

	assert.True(t, ledger.AmountOf(store, "user-a", "htg").Equal(dec("179.5")))
	renewal, _ := ledger.LookupTarget(store, ledger.PaymentRenewal, 3)
	assert.True(t, renewal.Paid)

	txs := ledger.TransactionsOf(store, "user-a")
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TypeDebit, txs[0].Type)
	assert.Equal(t, ledger.BonusPayment, txs[0].BonusType)
	assert.Equal(t, ledger.ProviderBalance, txs[0].Provider)
	assert.Equal(t, ledger.TxCompleted, txs[0].Status)
}

func TestPayFromBalanceInsufficientLeavesPending(t *testing.T) {
	svc, store := newService(t, nil)
	ledger.SeedTarget(store, ledger.PaymentFine, 1, false)
	ledger.SeedBalance(store, "user-a", "htg", dec("10"))
	ctx := context.Background()

	p, _ := svc.CreatePayment(ctx, CreateInput{UserID: "user-a", Amount: dec("50"), Currency: "htg",
		Type: ledger.PaymentFine, Metadata: ledger.Metadata{"fine_id": float64(1)}})

	_, err := svc.PayFromBalance(ctx, p.ID)
	require.True(t, errors.Is(err, ledger.ErrInsufficientFunds))

	got, _ := svc.Get(ctx, p.ID)
	assert.Equal(t, ledger.PaymentPending, got.Status)
	assert.Nil(t, got.TransactionID)
	fine, _ := ledger.LookupTarget(store, ledger.PaymentFine, 1)
	assert.False(t, fine.Paid)
	assert.Empty(t, ledger.TransactionsOf(store, "user-a"))
}

func TestRefundBalanceFundedPayment(t *testing.T) {
	svc, store := newService(t, nil)
	ledger.SeedTarget(store, ledger.PaymentToll, 11, false)
	ledger.SeedBalance(store, "user-a", "htg", dec("80"))
	ctx := context.Background()
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	p, _ := svc.CreatePayment(ctx, CreateInput{UserID: "user-a", Amount: dec("30"), Currency: "htg",
		Type: ledger.PaymentToll, Metadata: ledger.Metadata{"toll_id": float64(11)}})
	_, err := svc.PayFromBalance(ctx, p.ID)
	require.NoError(t, err)

	refunded, err := svc.Refund(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentRefunded, refunded.Status)
	require.NotNil(t, refunded.RefundedAt)
	assert.True(t, refunded.RefundedAt.Equal(fixed))
	assert.Equal(t, ledger.ProviderBalance, refunded.Metadata["funded_from"])

	assert.True(t, ledger.AmountOf(store, "user-a", "htg").Equal(dec("80")))
	toll, _ := ledger.LookupTarget(store, ledger.PaymentToll, 11)
	assert.False(t, toll.Paid)

	txs := ledger.TransactionsOf(store, "user-a")
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.BonusRefund, txs[1].BonusType)
	assert.Equal(t, ledger.TypeCredit, txs[1].Type)

	_, err = svc.Refund(ctx, p.ID)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestListIsScopedToUser(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = svc.CreatePayment(ctx, CreateInput{UserID: "user-a", Amount: dec("1"), Currency: "htg"})
	}
	_, _ = svc.CreatePayment(ctx, CreateInput{UserID: "user-b", Amount: dec("1"), Currency: "htg"})

	mine, err := svc.List(ctx, "user-a", ledger.NewPage(10, 0))
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	all, err := svc.List(ctx, "", ledger.NewPage(10, 0))
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestAttachRejectsBalanceProvider(t *testing.T) {
	svc, store := newService(t, nil)
	ctx := context.Background()

	p, err := svc.CreatePayment(ctx, CreateInput{UserID: "user-a", Amount: dec("500"), Currency: "htg"})
	require.NoError(t, err)

	for _, provider := range []string{"balance", " Balance "} {
		_, err = svc.AttachTransaction(ctx, p.ID, AttachInput{Provider: provider, ReferenceID: "X-1"})
		assert.True(t, errors.Is(err, ErrReservedProvider), provider)
	}
	got, _ := svc.Get(ctx, p.ID)
	assert.Nil(t, got.TransactionID)
	assert.Empty(t, ledger.TransactionsOf(store, "user-a"))
}

func TestRefundProviderFundedPaymentLeavesBalanceUntouched(t *testing.T) {
	svc, store := newService(t, nil)
	ctx := context.Background()

	// A client cannot forge the balance-funding marker through metadata.
	p, err := svc.CreatePayment(ctx, CreateInput{UserID: "user-a", Amount: dec("500"), Currency: "htg",
		Metadata: ledger.Metadata{"funded_from": "balance"}})
	require.NoError(t, err)
	assert.NotContains(t, p.Metadata, "funded_from")

	_, err = svc.AttachTransaction(ctx, p.ID, AttachInput{Provider: "moncash", ReferenceID: "MC-9"})
	require.NoError(t, err)
	_, err = svc.MarkCompleted(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ledger.AmountOf(store, "user-a", "htg").IsZero())

	refunded, err := svc.Refund(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentRefunded, refunded.Status)

	assert.True(t, ledger.AmountOf(store, "user-a", "htg").IsZero(), "nothing was debited, nothing is credited back")
	txs := ledger.TransactionsOf(store, "user-a")
	require.Len(t, txs, 1)
	assert.Equal(t, "moncash", txs[0].Provider)
}
