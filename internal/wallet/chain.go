package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// weiExponent scales wei to whole native coins.
const weiExponent = -18

// BalanceClient reads the native coin balance of an address on one network.
type BalanceClient interface {
	BalanceOf(ctx context.Context, address string) (decimal.Decimal, error)
}

// EVMClient reads balances from an Ethereum-compatible JSON-RPC endpoint.
type EVMClient struct {
	client *ethclient.Client
}

// DialEVM connects to an EVM JSON-RPC endpoint.
func DialEVM(ctx context.Context, rpcURL string) (*EVMClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &EVMClient{client: client}, nil
}

// BalanceOf returns the latest balance of address in whole coins.
func (c *EVMClient) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, ErrInvalidAddress
	}
	wei, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance at: %w", err)
	}
	return decimal.NewFromBigInt(new(big.Int).Set(wei), weiExponent), nil
}

// Close releases the RPC connection.
func (c *EVMClient) Close() {
	c.client.Close()
}

// BreakerSettings tunes the circuit breaker around a chain client.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	Timeout             time.Duration
	MaxRequests         uint32
}

// DefaultBreakerSettings opens after five straight failures and probes again after thirty seconds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, Timeout: 30 * time.Second, MaxRequests: 1}
}

type breakerClient struct {
	network string
	next    BalanceClient
	breaker *gobreaker.CircuitBreaker
}

// WithBreaker guards a chain client with a circuit breaker. While the breaker is open, lookups
// fail fast with ErrBalanceLookupUnavailable.
func WithBreaker(network string, next BalanceClient, settings BreakerSettings, logger *slog.Logger) BalanceClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chain-" + network,
		MaxRequests: settings.MaxRequests,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("chain circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidAddress)
		},
	})
	return &breakerClient{network: network, next: next, breaker: cb}
}

func (b *breakerClient) BalanceOf(ctx context.Context, address string) (decimal.Decimal, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.next.BalanceOf(ctx, address)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrBalanceLookupUnavailable, b.network, err)
		}
		return decimal.Zero, err
	}
	return out.(decimal.Decimal), nil
}

// DialChains connects a breaker-guarded client for every EVM network with a configured RPC URL.
// Networks without a URL are left out, so their lookups report ErrBalanceLookupUnavailable.
// The returned func closes every opened connection.
func DialChains(ctx context.Context, urls map[string]string, logger *slog.Logger) (map[string]BalanceClient, func(), error) {
	chains := make(map[string]BalanceClient, len(urls))
	var opened []*EVMClient
	closeAll := func() {
		for _, c := range opened {
			c.Close()
		}
	}
	for network, url := range urls {
		if url == "" {
			continue
		}
		if !IsEVM(network) {
			closeAll()
			return nil, nil, fmt.Errorf("%w: no rpc client for %s", ErrUnsupportedNetwork, network)
		}
		client, err := DialEVM(ctx, url)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s: %w", network, err)
		}
		opened = append(opened, client)
		chains[network] = WithBreaker(network, client, DefaultBreakerSettings(), logger)
	}
	return chains, closeAll, nil
}
