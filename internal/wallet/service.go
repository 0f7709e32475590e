package wallet

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
)

var (
	// ErrUnsupportedNetwork is returned for unknown networks or operations a network lacks.
	ErrUnsupportedNetwork = errors.New("unsupported wallet network")
	// ErrInvalidAddress is returned when an address is malformed for its network.
	ErrInvalidAddress = errors.New("invalid wallet address")
	// ErrBalanceLookupUnavailable is returned when no chain client can serve a lookup.
	ErrBalanceLookupUnavailable = errors.New("external balance lookup unavailable")
	// ErrWalletExists is returned when the address or public key is already registered.
	ErrWalletExists = errors.New("wallet already registered")
	// ErrInactiveWallet is returned when syncing a deactivated wallet.
	ErrInactiveWallet = errors.New("wallet is inactive")
)

const maxKeyAttempts = 3

// Service manages external wallets linked to users.
type Service struct {
	store    ledger.Store
	balances *balance.Service
	chains   map[string]BalanceClient
	locker   Locker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService builds a wallet service. chains maps a network code to its balance client; a nil
// locker means a process-local one.
func NewService(store ledger.Store, balances *balance.Service, chains map[string]BalanceClient,
	locker Locker, logger *slog.Logger, m *metrics.Metrics) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if chains == nil {
		chains = map[string]BalanceClient{}
	}
	return &Service{
		store:    store,
		balances: balances,
		chains:   chains,
		locker:   locker,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateForUser returns the user's active wallet on network, generating one when none exists.
func (s *Service) CreateForUser(ctx context.Context, userID, network string) (ledger.Wallet, error) {
	network, err := NormalizeNetwork(network)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if !IsChain(network) {
		return ledger.Wallet{}, fmt.Errorf("%w: %s wallets must be linked", ErrUnsupportedNetwork, network)
	}
	if strings.TrimSpace(userID) == "" {
		return ledger.Wallet{}, errors.New("user id is required")
	}

	for attempt := 1; ; attempt++ {
		var (
			out     ledger.Wallet
			created bool
		)
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			b, err := tx.GetOrCreateBalance(ctx, userID)
			if err != nil {
				return err
			}
			existing, err := tx.FindActiveWallet(ctx, userID, network)
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, ledger.ErrNotFound) {
				return err
			}

			key, err := GenerateKey(network)
			if err != nil {
				return err
			}
			w := ledger.Wallet{
				UserID:    userID,
				BalanceID: b.ID,
				Network:   network,
				PublicKey: key.PublicKey,
				Address:   key.Address,
				Type:      ledger.WalletCrypto,
				IsActive:  true,
				CreatedAt: s.now(),
			}
			if err := tx.InsertWallet(ctx, &w); err != nil {
				return err
			}
			out, created = w, true
			return nil
		})
		// a colliding key is regenerated
		if errors.Is(err, ledger.ErrConflict) && attempt < maxKeyAttempts {
			continue
		}
		if err != nil {
			return ledger.Wallet{}, err
		}
		if created {
			s.logger.Info("wallet created", "wallet_id", out.ID, "user_id", userID, "network", network)
		}
		return out, nil
	}
}

// LinkInput registers an address the user already controls.
type LinkInput struct {
	UserID    string
	Network   string
	Address   string
	PublicKey string
}

// Link validates and stores an externally owned address.
func (s *Service) Link(ctx context.Context, in LinkInput) (ledger.Wallet, error) {
	network, err := NormalizeNetwork(in.Network)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if err := ValidateAddress(network, in.Address); err != nil {
		return ledger.Wallet{}, err
	}
	if strings.TrimSpace(in.UserID) == "" {
		return ledger.Wallet{}, errors.New("user id is required")
	}

	w := ledger.Wallet{
		UserID:    in.UserID,
		Network:   network,
		PublicKey: strings.TrimSpace(in.PublicKey),
		Address:   CanonicalAddress(network, in.Address),
		Type:      TypeOf(network),
		IsActive:  true,
		CreatedAt: s.now(),
	}
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		b, err := tx.GetOrCreateBalance(ctx, in.UserID)
		if err != nil {
			return err
		}
		w.BalanceID = b.ID
		return tx.InsertWallet(ctx, &w)
	})
	if errors.Is(err, ledger.ErrConflict) {
		return ledger.Wallet{}, ErrWalletExists
	}
	if err != nil {
		return ledger.Wallet{}, err
	}
	s.logger.Info("wallet linked", "wallet_id", w.ID, "user_id", w.UserID, "network", network)
	return w, nil
}

// Get returns a wallet by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (ledger.Wallet, error) {
	var out ledger.Wallet
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		w, err := tx.GetWallet(ctx, id)
		out = w
		return err
	})
	return out, err
}

// List returns every wallet of the user.
func (s *Service) List(ctx context.Context, userID string) ([]ledger.Wallet, error) {
	var out []ledger.Wallet
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		list, err := tx.ListWallets(ctx, userID)
		out = list
		return err
	})
	return out, err
}

// UpdateBalance refreshes the wallet's informational external balance from its chain. The
// user's ledger balance is never touched.
func (s *Service) UpdateBalance(ctx context.Context, id uuid.UUID) (ledger.Wallet, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if !w.IsActive {
		return ledger.Wallet{}, ErrInactiveWallet
	}
	client, ok := s.chains[w.Network]
	if !ok {
		s.metrics.WalletSync(w.Network, "unavailable")
		return ledger.Wallet{}, fmt.Errorf("%w: no client for %s", ErrBalanceLookupUnavailable, w.Network)
	}

	amount, err := client.BalanceOf(ctx, w.Address)
	if err != nil {
		s.metrics.WalletSync(w.Network, "error")
		return ledger.Wallet{}, err
	}

	var out ledger.Wallet
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		current, err := tx.GetWallet(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		current.ExternalBalance = amount
		current.LastSyncedAt = &now
		if err := tx.UpdateWallet(ctx, current); err != nil {
			return err
		}
		out = current
		return nil
	})
	if err != nil {
		s.metrics.WalletSync(w.Network, "error")
		return ledger.Wallet{}, err
	}
	s.metrics.WalletSync(w.Network, "ok")
	return out, nil
}

// SyncResult summarizes one network poll.
type SyncResult struct {
	Network string
	Synced  int
	Failed  int
	Skipped bool
}

// SyncNetwork refreshes every active wallet on network. Only one instance polls a network at a
// time; the others report Skipped.
func (s *Service) SyncNetwork(ctx context.Context, network string) (SyncResult, error) {
	network, err := NormalizeNetwork(network)
	if err != nil {
		return SyncResult{}, err
	}
	result := SyncResult{Network: network}
	if _, ok := s.chains[network]; !ok {
		return result, fmt.Errorf("%w: no client for %s", ErrBalanceLookupUnavailable, network)
	}

	err = s.locker.WithLock(ctx, "wallet-sync:"+network, func(ctx context.Context) error {
		var wallets []ledger.Wallet
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			list, err := tx.ListActiveWallets(ctx, network)
			wallets = list
			return err
		})
		if err != nil {
			return err
		}
		for _, w := range wallets {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := s.UpdateBalance(ctx, w.ID); err != nil {
				result.Failed++
				s.logger.Warn("wallet sync failed", "wallet_id", w.ID, "network", network, "error", err)
				continue
			}
			result.Synced++
		}
		return nil
	})
	if errors.Is(err, ErrLockHeld) {
		result.Skipped = true
		return result, nil
	}
	if err != nil {
		return result, err
	}
	s.logger.Info("wallet sync finished", "network", network, "synced", result.Synced, "failed", result.Failed)
	return result, nil
}

// Networks returns the networks that have a chain client configured.
func (s *Service) Networks() []string {
	out := make([]string, 0, len(s.chains))
	for _, n := range ChainNetworks {
		if _, ok := s.chains[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Movement is a credit or debit of a user's ledger balance on behalf of a wallet operation.
type Movement struct {
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	Source      ledger.Source
	Metadata    ledger.Metadata
	Description string
}

// CreditWallet credits the user's internal balance and records the ledger entry. Wallets hold no
// spendable value of their own.
func (s *Service) CreditWallet(ctx context.Context, m Movement) (ledger.Transaction, error) {
	desc := m.Description
	if desc == "" {
		desc = fmt.Sprintf("Received %s", strings.ToUpper(m.Currency))
	}
	return s.balances.CreditWithEntry(ctx, balance.Entry{
		UserID:      m.UserID,
		Amount:      m.Amount,
		Currency:    m.Currency,
		Source:      sourceOr(m.Source, ledger.SourceSystem),
		Metadata:    m.Metadata,
		Description: desc,
	})
}

// DebitWallet debits the user's internal balance and records the ledger entry.
func (s *Service) DebitWallet(ctx context.Context, m Movement) (ledger.Transaction, error) {
	desc := m.Description
	if desc == "" {
		desc = fmt.Sprintf("Sent %s", strings.ToUpper(m.Currency))
	}
	return s.balances.DebitWithEntry(ctx, balance.Entry{
		UserID:      m.UserID,
		Amount:      m.Amount,
		Currency:    m.Currency,
		Source:      sourceOr(m.Source, ledger.SourceUser),
		Metadata:    m.Metadata,
		Description: desc,
	})
}

func sourceOr(s, fallback ledger.Source) ledger.Source {
	if s == "" {
		return fallback
	}
	return s
}
