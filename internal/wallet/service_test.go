package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/gestion-vehicule/gestion_vehicule/internal/balance"
	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/logging"
)

type fakeChain struct {
	mu      sync.Mutex
	amounts map[string]decimal.Decimal
	err     error
	calls   int
}

func (f *fakeChain) BalanceOf(_ context.Context, address string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.amounts[address], nil
}

func newTestService(chains map[string]BalanceClient) (*Service, *ledger.InMemoryStore) {
	store := ledger.NewInMemory()
	logger := logging.Discard()
	return NewService(store, balance.NewService(store, logger, nil), chains, nil, logger, nil), store
}

func TestCreateForUserReturnsExistingActiveWallet(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	first, err := svc.CreateForUser(ctx, "user-a", "ETH")
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	if first.Network != NetworkETH || !first.IsActive || first.Type != ledger.WalletCrypto {
		t.Fatalf("unexpected wallet %+v", first)
	}
	if err := ValidateAddress(NetworkETH, first.Address); err != nil {
		t.Fatalf("generated address invalid: %v", err)
	}

	second, err := svc.CreateForUser(ctx, "user-a", "eth")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing wallet %s, got %s", first.ID, second.ID)
	}

	b, err := svc.balances.Snapshot(ctx, "user-a")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if b.ID != first.BalanceID {
		t.Fatalf("wallet must reference the user's balance")
	}
}

func TestCreateForUserPerNetwork(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for _, network := range ChainNetworks {
		w, err := svc.CreateForUser(ctx, "user-a", network)
		if err != nil {
			t.Fatalf("%s: %v", network, err)
		}
		if err := ValidateAddress(network, w.Address); err != nil {
			t.Fatalf("%s: invalid generated address %s: %v", network, w.Address, err)
		}
		if seen[w.PublicKey] {
			t.Fatalf("public key reused")
		}
		seen[w.PublicKey] = true
	}

	list, err := svc.List(ctx, "user-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != len(ChainNetworks) {
		t.Fatalf("expected %d wallets, got %d", len(ChainNetworks), len(list))
	}

	if _, err := svc.CreateForUser(ctx, "user-a", "doge"); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Fatalf("expected ErrUnsupportedNetwork, got %v", err)
	}
	if _, err := svc.CreateForUser(ctx, "user-a", NetworkMobile); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Fatalf("mobile wallets are linked, not generated: %v", err)
	}
}

func TestLinkRejectsDuplicatesAndBadAddresses(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := context.Background()

	w, err := svc.Link(ctx, LinkInput{UserID: "user-a", Network: "eth", Address: "0x970e8128ab834e8eac17ab8e3812f010678cf791"})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if want := common.HexToAddress("0x970e8128ab834e8eac17ab8e3812f010678cf791").Hex(); w.Address != want {
		t.Fatalf("stored address must be checksummed: got %s want %s", w.Address, want)
	}

	if _, err := svc.Link(ctx, LinkInput{UserID: "user-b", Network: "eth", Address: "0x970E8128AB834E8EAC17AB8E3812F010678CF791"}); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
	if _, err := svc.Link(ctx, LinkInput{UserID: "user-a", Network: "btc", Address: "nope"}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}

	mobile, err := svc.Link(ctx, LinkInput{UserID: "user-a", Network: "mobile", Address: "+50937000000"})
	if err != nil {
		t.Fatalf("link mobile: %v", err)
	}
	if mobile.Type != ledger.WalletMobile {
		t.Fatalf("expected mobile wallet type, got %s", mobile.Type)
	}
}

func TestUpdateBalanceStoresExternalBalanceOnly(t *testing.T) {
	chain := &fakeChain{amounts: map[string]decimal.Decimal{}}
	svc, store := newTestService(map[string]BalanceClient{NetworkETH: chain})
	ctx := context.Background()
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	w, err := svc.CreateForUser(ctx, "user-a", NetworkETH)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	chain.amounts[w.Address] = decimal.RequireFromString("1.25")

	updated, err := svc.UpdateBalance(ctx, w.ID)
	if err != nil {
		t.Fatalf("update balance: %v", err)
	}
	if !updated.ExternalBalance.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("external balance = %s", updated.ExternalBalance)
	}
	if updated.LastSyncedAt == nil || !updated.LastSyncedAt.Equal(fixed) {
		t.Fatalf("last synced not stamped: %v", updated.LastSyncedAt)
	}
	if got := ledger.AmountOf(store, "user-a", "eth"); !got.IsZero() {
		t.Fatalf("ledger balance must not change, got %s", got)
	}

	btc, err := svc.CreateForUser(ctx, "user-a", NetworkBTC)
	if err != nil {
		t.Fatalf("create btc: %v", err)
	}
	if _, err := svc.UpdateBalance(ctx, btc.ID); !errors.Is(err, ErrBalanceLookupUnavailable) {
		t.Fatalf("expected ErrBalanceLookupUnavailable, got %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	chain := &fakeChain{err: errors.New("rpc timeout")}
	client := WithBreaker(NetworkETH, chain, BreakerSettings{ConsecutiveFailures: 2, Timeout: time.Minute, MaxRequests: 1}, logging.Discard())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.BalanceOf(ctx, "0x970e8128ab834e8eac17ab8e3812f010678cf791"); err == nil || errors.Is(err, ErrBalanceLookupUnavailable) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}
	if _, err := client.BalanceOf(ctx, "0x970e8128ab834e8eac17ab8e3812f010678cf791"); !errors.Is(err, ErrBalanceLookupUnavailable) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if chain.calls != 2 {
		t.Fatalf("open breaker must not reach the chain, calls=%d", chain.calls)
	}
}

func TestSyncNetwork(t *testing.T) {
	chain := &fakeChain{amounts: map[string]decimal.Decimal{}}
	svc, _ := newTestService(map[string]BalanceClient{NetworkETH: chain})
	ctx := context.Background()

	for _, user := range []string{"user-a", "user-b", "user-c"} {
		w, err := svc.CreateForUser(ctx, user, NetworkETH)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		chain.amounts[w.Address] = decimal.NewFromInt(3)
	}

	res, err := svc.SyncNetwork(ctx, NetworkETH)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Synced != 3 || res.Failed != 0 || res.Skipped {
		t.Fatalf("unexpected result %+v", res)
	}

	results := NewPoller(svc, time.Minute, logging.Discard()).SyncOnce(ctx)
	if len(results) != 1 || results[0].Synced != 3 {
		t.Fatalf("unexpected poller results %+v", results)
	}
}

func TestSyncNetworkSkipsWhileLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := ledger.NewInMemory()
	logger := logging.Discard()
	locker := NewRedisLocker(client, time.Minute, logger)
	chain := &fakeChain{amounts: map[string]decimal.Decimal{}}
	svc := NewService(store, balance.NewService(store, logger, nil), map[string]BalanceClient{NetworkETH: chain}, locker, logger, nil)
	ctx := context.Background()

	if _, err := svc.CreateForUser(ctx, "user-a", NetworkETH); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := locker.WithLock(ctx, "wallet-sync:eth", func(ctx context.Context) error {
		res, err := svc.SyncNetwork(ctx, NetworkETH)
		if err != nil {
			return err
		}
		if !res.Skipped {
			t.Errorf("expected skipped sync while another holder owns the lock")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if chain.calls != 0 {
		t.Fatalf("chain must not be queried while skipped")
	}

	res, err := svc.SyncNetwork(ctx, NetworkETH)
	if err != nil {
		t.Fatalf("sync after release: %v", err)
	}
	if res.Skipped || res.Synced != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCreditAndDebitWalletGoThroughBalance(t *testing.T) {
	svc, store := newTestService(nil)
	ctx := context.Background()

	if _, err := svc.CreditWallet(ctx, Movement{UserID: "user-a", Amount: decimal.NewFromInt(10), Currency: "usd"}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	tr, err := svc.DebitWallet(ctx, Movement{UserID: "user-a", Amount: decimal.NewFromInt(4), Currency: "usd"})
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if tr.Source != ledger.SourceUser || tr.Type != ledger.TypeDebit {
		t.Fatalf("unexpected debit entry %+v", tr)
	}
	if got := ledger.AmountOf(store, "user-a", "usd"); !got.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("balance = %s, want 6", got)
	}
	if _, err := svc.DebitWallet(ctx, Movement{UserID: "user-a", Amount: decimal.NewFromInt(7), Currency: "usd"}); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSyncNetworkReportsRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	store := ledger.NewInMemory()
	logger := logging.Discard()
	chain := &fakeChain{amounts: map[string]decimal.Decimal{}}
	svc := NewService(store, balance.NewService(store, logger, nil), map[string]BalanceClient{NetworkETH: chain},
		NewRedisLocker(client, time.Minute, logger), logger, nil)
	ctx := context.Background()
	if _, err := svc.CreateForUser(ctx, "user-a", NetworkETH); err != nil {
		t.Fatalf("create: %v", err)
	}

	mr.Close()

	res, err := svc.SyncNetwork(ctx, NetworkETH)
	if err == nil {
		t.Fatalf("expected an error while redis is down, got %+v", res)
	}
	if errors.Is(err, ErrLockHeld) || res.Skipped {
		t.Fatalf("an unreachable redis must not look like a held lock: %v", err)
	}
	if chain.calls != 0 {
		t.Fatalf("chain must not be queried without the lock")
	}
}
