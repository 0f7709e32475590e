package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

const tronVersion byte = 0x41

var (
	mobilePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	bankPattern   = regexp.MustCompile(`^[A-Z0-9]{8,34}$`)
)

// KeyPair is a freshly generated public key and the address it derives on a network.
type KeyPair struct {
	PublicKey string
	Address   string
}

// GenerateKey creates a secp256k1 key and derives the network address from its public half. The
// private key is not retained; custody happens outside this service.
func GenerateKey(network string) (KeyPair, error) {
	if !IsChain(network) {
		return KeyPair{}, ErrUnsupportedNetwork
	}
	priv, err := crypto.GenerateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	pub := priv.Public().(*ecdsa.PublicKey)
	addr, err := DeriveAddress(network, pub)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PublicKey: hex.EncodeToString(crypto.CompressPubkey(pub)), Address: addr}, nil
}

// DeriveAddress renders the address of pub on network: EIP-55 for EVM chains, base58check for
// tron and bech32 P2WPKH for btc.
func DeriveAddress(network string, pub *ecdsa.PublicKey) (string, error) {
	switch {
	case IsEVM(network):
		return common.BytesToAddress(keccakTail(pub)).Hex(), nil
	case network == NetworkTron:
		return base58.CheckEncode(keccakTail(pub), tronVersion), nil
	case network == NetworkBTC:
		hash := btcutil.Hash160(crypto.CompressPubkey(pub))
		addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, &chaincfg.MainNetParams)
		if err != nil {
			return "", fmt.Errorf("derive btc address: %w", err)
		}
		return addr.EncodeAddress(), nil
	}
	return "", ErrUnsupportedNetwork
}

// keccakTail is the last 20 bytes of Keccak-256 over the uncompressed key without its prefix.
func keccakTail(pub *ecdsa.PublicKey) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(crypto.FromECDSAPub(pub)[1:])
	return h.Sum(nil)[12:]
}

// ValidateAddress checks that address is well formed for network.
func ValidateAddress(network, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrInvalidAddress
	}
	switch {
	case IsEVM(network):
		if !common.IsHexAddress(address) {
			return ErrInvalidAddress
		}
		// mixed case carries an EIP-55 checksum
		body := strings.TrimPrefix(strings.TrimPrefix(address, "0x"), "0X")
		if body != strings.ToLower(body) && body != strings.ToUpper(body) &&
			common.HexToAddress(address).Hex() != address {
			return fmt.Errorf("%w: bad checksum", ErrInvalidAddress)
		}
		return nil
	case network == NetworkTron:
		payload, version, err := base58.CheckDecode(address)
		if err != nil || version != tronVersion || len(payload) != common.AddressLength {
			return ErrInvalidAddress
		}
		return nil
	case network == NetworkBTC:
		addr, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams)
		if err != nil || !addr.IsForNet(&chaincfg.MainNetParams) {
			return ErrInvalidAddress
		}
		return nil
	case network == NetworkMobile:
		if !mobilePattern.MatchString(address) {
			return ErrInvalidAddress
		}
		return nil
	case network == NetworkBank:
		if !bankPattern.MatchString(strings.ToUpper(strings.ReplaceAll(address, " ", ""))) {
			return ErrInvalidAddress
		}
		return nil
	}
	return ErrUnsupportedNetwork
}

// CanonicalAddress returns the stored form of a validated address.
func CanonicalAddress(network, address string) string {
	address = strings.TrimSpace(address)
	switch {
	case IsEVM(network):
		return common.HexToAddress(address).Hex()
	case network == NetworkBTC && strings.HasPrefix(strings.ToLower(address), "bc1"):
		return strings.ToLower(address)
	case network == NetworkBank:
		return strings.ToUpper(strings.ReplaceAll(address, " ", ""))
	}
	return address
}
