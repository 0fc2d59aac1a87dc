package validation

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tonkeeper/tongo/ton"
)

// tronAddressVersion is the base58check version byte of TRON addresses.
const tronAddressVersion = 0x41

// Network families the address validator knows about.
const (
	FamilyCore = "core"
	FamilyEVM  = "evm"
	FamilyTron = "tron"
	FamilyBTC  = "btc"
	FamilyTON  = "ton"
)

var networkFamilies = map[string]string{
	"xcb":      FamilyCore,
	"xab":      FamilyCore,
	"erc20":    FamilyEVM,
	"bep20":    FamilyEVM,
	"bsc":      FamilyEVM,
	"ethereum": FamilyEVM,
	"polygon":  FamilyEVM,
	"trc20":    FamilyTron,
	"tron":     FamilyTron,
	"btc":      FamilyBTC,
	"bitcoin":  FamilyBTC,
	"ton":      FamilyTON,
}

// NetworkFamily returns the address family of a network name, and false when
// the network is unknown.
func NetworkFamily(network string) (string, bool) {
	family, ok := networkFamilies[strings.ToLower(strings.TrimSpace(network))]
	return family, ok
}

// ValidateNetworkAddress validates addr against the format used on network.
// Unknown networks are not checked.
func ValidateNetworkAddress(network, addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}
	family, ok := NetworkFamily(network)
	if !ok {
		return nil
	}

	switch family {
	case FamilyCore:
		return ValidateAddress(addr)
	case FamilyEVM:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid EVM address: %s", addr)
		}
	case FamilyTron:
		decoded, version, err := base58.CheckDecode(addr)
		if err != nil {
			return fmt.Errorf("invalid TRON address: %w", err)
		}
		if version != tronAddressVersion || len(decoded) != 20 {
			return fmt.Errorf("invalid TRON address: unexpected version %#x or length %d", version, len(decoded))
		}
	case FamilyBTC:
		if _, err := btcutil.DecodeAddress(addr, &chaincfg.MainNetParams); err != nil {
			return fmt.Errorf("invalid BTC address: %w", err)
		}
	case FamilyTON:
		if _, err := ton.ParseAccountID(addr); err != nil {
			return fmt.Errorf("invalid TON address: %w", err)
		}
	}
	return nil
}

// ValidateAddress validates a Core blockchain address format
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	// Remove 0x prefix if present
	normalized := strings.TrimPrefix(addr, "0x")
	normalized = strings.TrimPrefix(normalized, "0X")

	// Check length (44 hex characters = 22 bytes)
	if len(normalized) != 44 {
		return fmt.Errorf("invalid address length: expected 44 characters (without 0x), got %d", len(normalized))
	}

	// Validate hex format
	if _, err := hex.DecodeString(normalized); err != nil {
		return fmt.Errorf("invalid hex address: %w", err)
	}

	return nil
}

// NormalizeTxHash lower-cases hex transaction hashes so the same deposit is
// never stored under two spellings. Non-hex hashes (TON, base64) are kept as is.
func NormalizeTxHash(network, txHash string) string {
	txHash = strings.TrimSpace(txHash)
	family, _ := NetworkFamily(network)
	switch family {
	case FamilyCore, FamilyEVM, FamilyTron, FamilyBTC:
		return strings.ToLower(txHash)
	}
	return txHash
}

// NormalizeNetwork returns the canonical spelling of a network name.
func NormalizeNetwork(network string) string {
	return strings.ToLower(strings.TrimSpace(network))
}
