package wallet

import (
	"strings"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
)

// Supported networks.
const (
	NetworkETH     = "eth"
	NetworkBSC     = "bsc"
	NetworkPolygon = "polygon"
	NetworkTron    = "tron"
	NetworkBTC     = "btc"
	NetworkMobile  = "mobile"
	NetworkBank    = "bank"
)

// ChainNetworks lists the networks a wallet can be generated on.
var ChainNetworks = []string{NetworkETH, NetworkBSC, NetworkBTC, NetworkTron, NetworkPolygon}

// NormalizeNetwork lowercases and validates a network code.
func NormalizeNetwork(network string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(network))
	switch n {
	case NetworkETH, NetworkBSC, NetworkPolygon, NetworkTron, NetworkBTC, NetworkMobile, NetworkBank:
		return n, nil
	}
	return "", ErrUnsupportedNetwork
}

// IsEVM reports whether the network uses Ethereum-style addresses.
func IsEVM(network string) bool {
	return network == NetworkETH || network == NetworkBSC || network == NetworkPolygon
}

// IsChain reports whether addresses on the network can be generated locally.
func IsChain(network string) bool {
	return IsEVM(network) || network == NetworkTron || network == NetworkBTC
}

// TypeOf returns the wallet type for a network.
func TypeOf(network string) ledger.WalletType {
	switch network {
	case NetworkMobile:
		return ledger.WalletMobile
	case NetworkBank:
		return ledger.WalletBank
	default:
		return ledger.WalletCrypto
	}
}
