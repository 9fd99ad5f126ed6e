package keys

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPrivateKeyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	dump := DumpPrivateKey(key)
	if len(dump) != 32 {
		t.Fatalf("expected 32-byte dump, got %d", len(dump))
	}

	parsed, err := ParsePrivateKey(dump)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !bytes.Equal(DumpPrivateKey(parsed), dump) {
		t.Fatalf("parsed key does not match original")
	}
}

func TestParsePrivateKeyRejectsBadInput(t *testing.T) {
	if _, err := ParsePrivateKey([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short input")
	}

	zero := make([]byte, 32)
	if _, err := ParsePrivateKey(zero); err == nil {
		t.Fatalf("expected error for zero key")
	}
}

func TestPublicKeyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	compressed := FromPublicKey(&key.PublicKey)
	if len(compressed) != 33 {
		t.Fatalf("expected 33-byte compressed key, got %d", len(compressed))
	}

	pub, err := ToPublicKey(compressed)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if pub.X.Cmp(key.PublicKey.X) != 0 || pub.Y.Cmp(key.PublicKey.Y) != 0 {
		t.Fatalf("public key round trip mismatch")
	}
}

func TestNodeKeyfile(t *testing.T) {
	dir := t.TempDir()

	keyfile := NewNodeKeyfile(filepath.Join(dir, "node.key"))

	// Try a read, should get nothing
	key, err := keyfile.ReadKey()
	if err == nil {
		t.Fatalf("ReadKey should generate an error")
	}
	if key != nil {
		t.Fatalf("key is not nil")
	}

	key, _ = GenerateKey()
	if err := keyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	nKey, err := keyfile.ReadKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if !reflect.DeepEqual(*nKey, *key) {
		t.Fatalf("keys do not match")
	}
}

func TestNodeKeyfilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.key")

	key, _ := GenerateKey()
	keyfile := NewNodeKeyfile(path)
	if err := keyfile.WriteKey(key); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Loosen permissions; the read must refuse.
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("err: %v", err)
	}

	if _, err := keyfile.ReadKey(); err == nil {
		t.Fatalf("expected error for group/other-readable key file")
	}
}
