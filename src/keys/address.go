package keys

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// Network HRPs for bech32 address encodings. Network 1 is mainnet; anything
// unrecognised is a custom network.
const (
	MainnetHRP = "rime"
	TestnetHRP = "frost"
	CustomHRP  = "custom"

	MainnetID uint32 = 1
	TestnetID uint32 = 5
)

// Chain aliases used in address prefixes.
var chainAliases = []string{"X", "P", "C"}

// GetHRP returns the bech32 human-readable part for a network ID.
func GetHRP(networkID uint32) string {
	switch networkID {
	case MainnetID:
		return MainnetHRP
	case TestnetID:
		return TestnetHRP
	default:
		return CustomHRP
	}
}

// ShortID returns the 20-byte digest of the compressed public key. It is the
// raw form of the node ID and of all chain addresses.
func ShortID(pub *ecdsa.PublicKey) []byte {
	digest := sha256.Sum256(FromPublicKey(pub))
	return digest[:20]
}

// NodeID encodes the public key digest as a bech32 string with the "node"
// HRP. Node IDs are network-independent.
func NodeID(pub *ecdsa.PublicKey) (string, error) {
	return formatBech32("node", ShortID(pub))
}

// ChainAddress encodes the public key digest as a chain-qualified bech32
// address, e.g. "X-rime1...".
func ChainAddress(pub *ecdsa.PublicKey, chain string, networkID uint32) (string, error) {
	addr, err := formatBech32(GetHRP(networkID), ShortID(pub))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", chain, addr), nil
}

// AddressBundle holds every derived encoding of a node's public key. It is
// computed once at provisioning time and written next to the key material for
// operator tooling.
type AddressBundle struct {
	NodeID   string `json:"node_id" yaml:"node_id"`
	XAddress string `json:"x_address" yaml:"x_address"`
	PAddress string `json:"p_address" yaml:"p_address"`
	CAddress string `json:"c_address" yaml:"c_address"`
}

// DeriveAddresses computes the full AddressBundle for a public key on a
// given network.
func DeriveAddresses(pub *ecdsa.PublicKey, networkID uint32) (*AddressBundle, error) {
	nodeID, err := NodeID(pub)
	if err != nil {
		return nil, err
	}

	bundle := &AddressBundle{NodeID: nodeID}

	for _, chain := range chainAliases {
		addr, err := ChainAddress(pub, chain, networkID)
		if err != nil {
			return nil, err
		}
		switch chain {
		case "X":
			bundle.XAddress = addr
		case "P":
			bundle.PAddress = addr
		case "C":
			bundle.CAddress = addr
		}
	}

	return bundle, nil
}

// VerifyDerivations recomputes the AddressBundle and checks it against a
// previously computed one. Derivation is deterministic, so any difference
// means the key material or the derivation code is corrupt; callers treat a
// mismatch as fatal.
func VerifyDerivations(pub *ecdsa.PublicKey, networkID uint32, bundle *AddressBundle) error {
	recomputed, err := DeriveAddresses(pub, networkID)
	if err != nil {
		return err
	}
	if *recomputed != *bundle {
		return fmt.Errorf("derived identifiers changed: %+v != %+v", recomputed, bundle)
	}
	return nil
}

func formatBech32(hrp string, payload []byte) (string, error) {
	converted, err := bech32.ConvertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, converted)
}
