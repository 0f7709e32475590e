package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
)

// SeedBalance is a test helper that sets a currency amount directly on the in-memory store.
func SeedBalance(s *InMemoryStore, userID, currency string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{st: s.state}
	bal, _ := tx.GetOrCreateBalance(context.Background(), userID)
	row, _ := tx.LockCurrency(context.Background(), bal.ID, currency)
	row.Amount = money.Quantize(amount)
	s.state.currencies[row.ID] = row
}

// SeedTarget registers an external settlement target on the in-memory store.
func SeedTarget(s *InMemoryStore, kind PaymentType, id int64, paid bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var at *time.Time
	if paid {
		now := time.Now().UTC()
		at = &now
	}
	s.state.targets[targetKey{kind: kind, id: id}] = Target{Kind: kind, ID: id, Paid: paid, PaidAt: at}
}

// LookupTarget returns a target's current state from the in-memory store.
func LookupTarget(s *InMemoryStore, kind PaymentType, id int64) (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.targets[targetKey{kind: kind, id: id}]
	return t, ok
}

// AmountOf returns the committed amount for (userID, currency) on the in-memory store.
func AmountOf(s *InMemoryStore, userID, currency string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.balances[userID]
	if !ok {
		return decimal.Zero
	}
	if id, ok := s.state.currencyIndex[currencyKey{balanceID: b.ID, currency: currency}]; ok {
		return s.state.currencies[id].Amount
	}
	return decimal.Zero
}

// TransactionsOf returns every committed ledger entry for userID, oldest first.
func TransactionsOf(s *InMemoryStore, userID string) []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, id := range s.state.txOrder {
		if tr := s.state.transactions[id]; tr.UserID == userID {
			out = append(out, tr)
		}
	}
	return out
}
