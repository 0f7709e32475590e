package ledger

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type currencyKey struct {
	balanceID uuid.UUID
	currency  string
}

type targetKey struct {
	kind PaymentType
	id   int64
}

type memState struct {
	balances      map[string]Balance
	currencies    map[uuid.UUID]BalanceCurrency
	currencyIndex map[currencyKey]uuid.UUID
	transactions  map[uuid.UUID]Transaction
	txOrder       []uuid.UUID
	payments      map[uuid.UUID]Payment
	paymentOrder  []uuid.UUID
	recharges     map[uuid.UUID]Recharge
	rechargeOrder []uuid.UUID
	transfers     map[uuid.UUID]FundTransfer
	transferOrder []uuid.UUID
	wallets       map[uuid.UUID]Wallet
	walletOrder   []uuid.UUID
	targets       map[targetKey]Target
}

func newMemState() *memState {
	return &memState{
		balances:      make(map[string]Balance),
		currencies:    make(map[uuid.UUID]BalanceCurrency),
		currencyIndex: make(map[currencyKey]uuid.UUID),
		transactions:  make(map[uuid.UUID]Transaction),
		payments:      make(map[uuid.UUID]Payment),
		recharges:     make(map[uuid.UUID]Recharge),
		transfers:     make(map[uuid.UUID]FundTransfer),
		wallets:       make(map[uuid.UUID]Wallet),
		targets:       make(map[targetKey]Target),
	}
}

// Rows are replaced wholesale on update, so copying the maps is enough for isolation.
func (s *memState) clone() *memState {
	return &memState{
		balances:      maps.Clone(s.balances),
		currencies:    maps.Clone(s.currencies),
		currencyIndex: maps.Clone(s.currencyIndex),
		transactions:  maps.Clone(s.transactions),
		txOrder:       slices.Clone(s.txOrder),
		payments:      maps.Clone(s.payments),
		paymentOrder:  slices.Clone(s.paymentOrder),
		recharges:     maps.Clone(s.recharges),
		rechargeOrder: slices.Clone(s.rechargeOrder),
		transfers:     maps.Clone(s.transfers),
		transferOrder: slices.Clone(s.transferOrder),
		wallets:       maps.Clone(s.wallets),
		walletOrder:   slices.Clone(s.walletOrder),
		targets:       maps.Clone(s.targets),
	}
}

// InMemoryStore serializes units of work under one mutex and applies them copy-on-write, so a
// failed unit leaves no trace. Useful for unit tests and local development.
type InMemoryStore struct {
	mu    sync.Mutex
	state *memState
}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{state: newMemState()}
}

func (s *InMemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type memTx struct {
	st *memState
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (t *memTx) GetOrCreateBalance(_ context.Context, userID string) (Balance, error) {
	if b, ok := t.st.balances[userID]; ok {
		return t.withCurrencies(b), nil
	}
	b := Balance{ID: uuid.New(), UserID: userID, CreatedAt: time.Now().UTC()}
	t.st.balances[userID] = b
	return b, nil
}

func (t *memTx) FindBalance(_ context.Context, userID string) (Balance, error) {
	b, ok := t.st.balances[userID]
	if !ok {
		return Balance{}, ErrNotFound
	}
	return t.withCurrencies(b), nil
}

func (t *memTx) withCurrencies(b Balance) Balance {
	b.Currencies = nil
	for _, c := range t.st.currencies {
		if c.BalanceID == b.ID {
			b.Currencies = append(b.Currencies, c)
		}
	}
	slices.SortFunc(b.Currencies, func(x, y BalanceCurrency) int {
		if x.Currency < y.Currency {
			return -1
		}
		if x.Currency > y.Currency {
			return 1
		}
		return 0
	})
	return b
}

func (t *memTx) LockCurrency(_ context.Context, balanceID uuid.UUID, currency string) (BalanceCurrency, error) {
	key := currencyKey{balanceID: balanceID, currency: currency}
	if id, ok := t.st.currencyIndex[key]; ok {
		return t.st.currencies[id], nil
	}
	row := BalanceCurrency{
		ID:        uuid.New(),
		BalanceID: balanceID,
		Currency:  currency,
		Amount:    decimal.Zero,
		UpdatedAt: time.Now().UTC(),
	}
	t.st.currencies[row.ID] = row
	t.st.currencyIndex[key] = row.ID
	return row, nil
}

func (t *memTx) SetCurrencyAmount(_ context.Context, currencyID uuid.UUID, amount decimal.Decimal) error {
	row, ok := t.st.currencies[currencyID]
	if !ok {
		return ErrNotFound
	}
	if amount.IsNegative() {
		return ErrInsufficientFunds
	}
	row.Amount = amount
	row.UpdatedAt = time.Now().UTC()
	t.st.currencies[currencyID] = row
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, tr *Transaction) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	if _, exists := t.st.transactions[tr.ID]; exists {
		return ErrConflict
	}
	tr.CreatedAt = stamp(tr.CreatedAt)
	tr.Metadata = tr.Metadata.Clone()
	t.st.transactions[tr.ID] = *tr
	t.st.txOrder = append(t.st.txOrder, tr.ID)
	return nil
}

func (t *memTx) GetTransaction(_ context.Context, id uuid.UUID) (Transaction, error) {
	tr, ok := t.st.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return tr, nil
}

func (t *memTx) SetTransactionStatus(_ context.Context, id uuid.UUID, status TransactionStatus, description string) error {
	tr, ok := t.st.transactions[id]
	if !ok {
		return ErrNotFound
	}
	if tr.Status == status {
		return nil
	}
	if tr.Status != TxPending {
		return ErrImmutableTransaction
	}
	tr.Status = status
	if description != "" {
		tr.Description = description
	}
	t.st.transactions[id] = tr
	return nil
}

func (t *memTx) HasRewardOnDay(_ context.Context, userID, currency, rewardKey string, from, to time.Time) (bool, error) {
	for _, tr := range t.st.transactions {
		if tr.UserID != userID || tr.Currency != currency || tr.Status != TxCompleted {
			continue
		}
		if key, _ := tr.Metadata.String("reward_key"); key != rewardKey {
			continue
		}
		if !tr.CreatedAt.Before(from) && tr.CreatedAt.Before(to) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ListTransactions(_ context.Context, userID string, page Page) ([]Transaction, error) {
	return newestFirst(t.st.txOrder, t.st.transactions, page, func(tr Transaction) bool {
		return tr.UserID == userID
	}), nil
}

func (t *memTx) InsertPayment(_ context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = stamp(p.CreatedAt)
	p.Metadata = p.Metadata.Clone()
	t.st.payments[p.ID] = *p
	t.st.paymentOrder = append(t.st.paymentOrder, p.ID)
	return nil
}

func (t *memTx) GetPayment(_ context.Context, id uuid.UUID) (Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) LockPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return t.GetPayment(ctx, id)
}

func (t *memTx) UpdatePayment(_ context.Context, p Payment) error {
	if _, ok := t.st.payments[p.ID]; !ok {
		return ErrNotFound
	}
	if p.TransactionID != nil {
		for id, other := range t.st.payments {
			if id != p.ID && other.TransactionID != nil && *other.TransactionID == *p.TransactionID {
				return ErrConflict
			}
		}
	}
	t.st.payments[p.ID] = p
	return nil
}

func (t *memTx) ListPayments(_ context.Context, userID string, page Page) ([]Payment, error) {
	return newestFirst(t.st.paymentOrder, t.st.payments, page, func(p Payment) bool {
		return userID == "" || p.UserID == userID
	}), nil
}

func (t *memTx) InsertRecharge(_ context.Context, r *Recharge) error {
	for _, other := range t.st.recharges {
		if other.Reference == r.Reference {
			return ErrConflict
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.RequestedAt = stamp(r.RequestedAt)
	t.st.recharges[r.ID] = *r
	t.st.rechargeOrder = append(t.st.rechargeOrder, r.ID)
	return nil
}

func (t *memTx) GetRecharge(_ context.Context, id uuid.UUID) (Recharge, error) {
	r, ok := t.st.recharges[id]
	if !ok {
		return Recharge{}, ErrNotFound
	}
	return r, nil
}

func (t *memTx) LockRecharge(ctx context.Context, id uuid.UUID) (Recharge, error) {
	return t.GetRecharge(ctx, id)
}

func (t *memTx) UpdateRecharge(_ context.Context, r Recharge) error {
	if _, ok := t.st.recharges[r.ID]; !ok {
		return ErrNotFound
	}
	t.st.recharges[r.ID] = r
	return nil
}

func (t *memTx) ListRecharges(_ context.Context, userID string, page Page) ([]Recharge, error) {
	return newestFirst(t.st.rechargeOrder, t.st.recharges, page, func(r Recharge) bool {
		return userID == "" || r.UserID == userID
	}), nil
}

func (t *memTx) InsertTransfer(_ context.Context, ft *FundTransfer) error {
	if ft.SenderID == ft.ReceiverID {
		return ErrConflict
	}
	if ft.ID == uuid.Nil {
		ft.ID = uuid.New()
	}
	ft.RequestedAt = stamp(ft.RequestedAt)
	t.st.transfers[ft.ID] = *ft
	t.st.transferOrder = append(t.st.transferOrder, ft.ID)
	return nil
}

func (t *memTx) GetTransfer(_ context.Context, id uuid.UUID) (FundTransfer, error) {
	ft, ok := t.st.transfers[id]
	if !ok {
		return FundTransfer{}, ErrNotFound
	}
	return ft, nil
}

func (t *memTx) LockTransfer(ctx context.Context, id uuid.UUID) (FundTransfer, error) {
	return t.GetTransfer(ctx, id)
}

func (t *memTx) UpdateTransfer(_ context.Context, ft FundTransfer) error {
	if _, ok := t.st.transfers[ft.ID]; !ok {
		return ErrNotFound
	}
	t.st.transfers[ft.ID] = ft
	return nil
}

func (t *memTx) ListTransfers(_ context.Context, userID string, page Page) ([]FundTransfer, error) {
	return newestFirst(t.st.transferOrder, t.st.transfers, page, func(ft FundTransfer) bool {
		return userID == "" || ft.SenderID == userID || ft.ReceiverID == userID
	}), nil
}

func (t *memTx) InsertWallet(_ context.Context, w *Wallet) error {
	for _, other := range t.st.wallets {
		if other.Network == w.Network && other.Address == w.Address {
			return ErrConflict
		}
		if w.PublicKey != "" && other.PublicKey == w.PublicKey {
			return ErrConflict
		}
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = stamp(w.CreatedAt)
	t.st.wallets[w.ID] = *w
	t.st.walletOrder = append(t.st.walletOrder, w.ID)
	return nil
}

func (t *memTx) GetWallet(_ context.Context, id uuid.UUID) (Wallet, error) {
	w, ok := t.st.wallets[id]
	if !ok {
		return Wallet{}, ErrNotFound
	}
	return w, nil
}

func (t *memTx) FindActiveWallet(_ context.Context, userID, network string) (Wallet, error) {
	for _, id := range t.st.walletOrder {
		w := t.st.wallets[id]
		if w.UserID == userID && w.Network == network && w.IsActive {
			return w, nil
		}
	}
	return Wallet{}, ErrNotFound
}

func (t *memTx) ListWallets(_ context.Context, userID string) ([]Wallet, error) {
	var out []Wallet
	for _, id := range t.st.walletOrder {
		if w := t.st.wallets[id]; w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (t *memTx) ListActiveWallets(_ context.Context, network string) ([]Wallet, error) {
	var out []Wallet
	for _, id := range t.st.walletOrder {
		if w := t.st.wallets[id]; w.Network == network && w.IsActive {
			out = append(out, w)
		}
	}
	return out, nil
}

func (t *memTx) UpdateWallet(_ context.Context, w Wallet) error {
	if _, ok := t.st.wallets[w.ID]; !ok {
		return ErrNotFound
	}
	t.st.wallets[w.ID] = w
	return nil
}

func (t *memTx) LockTarget(_ context.Context, kind PaymentType, id int64) (Target, error) {
	target, ok := t.st.targets[targetKey{kind: kind, id: id}]
	if !ok {
		return Target{}, ErrNotFound
	}
	return target, nil
}

func (t *memTx) SetTargetPaid(_ context.Context, kind PaymentType, id int64, paid bool, at *time.Time) error {
	key := targetKey{kind: kind, id: id}
	target, ok := t.st.targets[key]
	if !ok {
		return ErrNotFound
	}
	target.Paid = paid
	target.PaidAt = at
	t.st.targets[key] = target
	return nil
}

func newestFirst[T any](order []uuid.UUID, rows map[uuid.UUID]T, page Page, keep func(T) bool) []T {
	out := make([]T, 0, page.Limit)
	skipped := 0
	for i := len(order) - 1; i >= 0; i-- {
		row := rows[order[i]]
		if !keep(row) {
			continue
		}
		if skipped < page.Offset {
			skipped++
			continue
		}
		out = append(out, row)
		if len(out) == page.Limit {
			break
		}
	}
	return out
}
