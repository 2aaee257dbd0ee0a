package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// PubkeyLength is the size of a BLS public key in bytes.
const PubkeyLength = 48

// Pubkey is a BLS public key. Its canonical text form is lower-case hex without 0x.
type Pubkey [PubkeyLength]byte

// NormalizePubkey strips an optional 0x prefix and lower-cases the key.
func NormalizePubkey(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strings.ToLower(s)
}

// ParsePubkey decodes a hex public key after normalizing it.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	norm := NormalizePubkey(s)
	raw, err := hex.DecodeString(norm)
	if err != nil {
		return pk, fmt.Errorf("invalid pubkey %q: %w", s, err)
	}
	if len(raw) != PubkeyLength {
		return pk, fmt.Errorf("invalid pubkey length for %q: %d bytes", s, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// String returns the normalized hex form.
func (p Pubkey) String() string {
	return hex.EncodeToString(p[:])
}

// Short returns a 0x prefixed, truncated form used in alerts.
func (p Pubkey) Short() string {
	return "0x" + hex.EncodeToString(p[:5])
}
