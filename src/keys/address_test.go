package keys

import (
	"strings"
	"testing"
)

func TestDeriveAddressesDeterministic(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	first, err := DeriveAddresses(&key.PublicKey, MainnetID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	second, err := DeriveAddresses(&key.PublicKey, MainnetID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if *first != *second {
		t.Fatalf("derivation not deterministic: %+v != %+v", first, second)
	}

	if err := VerifyDerivations(&key.PublicKey, MainnetID, first); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestVerifyDerivationsDetectsTampering(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	bundle, err := DeriveAddresses(&key.PublicKey, MainnetID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	tampered := *bundle
	tampered.NodeID = "node1qqqqqqqqqqqqqqqqqqqq"

	if err := VerifyDerivations(&key.PublicKey, MainnetID, &tampered); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestChainAddressHRP(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	cases := []struct {
		networkID uint32
		hrp       string
	}{
		{MainnetID, MainnetHRP},
		{TestnetID, TestnetHRP},
		{9999, CustomHRP},
	}

	for _, c := range cases {
		addr, err := ChainAddress(&key.PublicKey, "X", c.networkID)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if !strings.HasPrefix(addr, "X-"+c.hrp+"1") {
			t.Fatalf("network %d: expected prefix X-%s1, got %s", c.networkID, c.hrp, addr)
		}
	}
}

func TestNodeIDNetworkIndependent(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	mainnet, err := DeriveAddresses(&key.PublicKey, MainnetID)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	custom, err := DeriveAddresses(&key.PublicKey, 9999)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if mainnet.NodeID != custom.NodeID {
		t.Fatalf("node ID should not depend on network: %s != %s", mainnet.NodeID, custom.NodeID)
	}
	if mainnet.XAddress == custom.XAddress {
		t.Fatalf("chain addresses should depend on network")
	}
}
