package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// EncodeToString returns the lowercase hex representation of b with a 0x
// prefix.
func EncodeToString(b []byte) string {
	return fmt.Sprintf("0x%x", b)
}

// DecodeFromString converts a hex string, with or without a 0x prefix, to a
// byte slice.
func DecodeFromString(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
