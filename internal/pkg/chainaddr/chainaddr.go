package chainaddr

import (
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

var hexAddr = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Valid reports whether s is a well-formed EVM address. Mixed-case input
// must carry a correct EIP-55 checksum; all-lowercase or all-uppercase hex
// is accepted as unchecksummed.
func Valid(s string) bool {
	if !hexAddr.MatchString(s) {
		return false
	}
	hex := s[2:]
	if hex == strings.ToLower(hex) || hex == strings.ToUpper(hex) {
		return true
	}
	return s == Checksum(s)
}

// Normalize returns the canonical stored form: 0x-prefixed lowercase.
// Addresses are compared and persisted in this form only.
func Normalize(s string) string {
	return strings.ToLower(s)
}

// Equal compares two addresses ignoring checksum casing.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Checksum returns the EIP-55 mixed-case rendering of a valid address.
// The keccak-256 hash of the lowercase hex body decides which letters are
// upper-cased: nibble ≥ 8 at the letter's position means uppercase.
func Checksum(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(Normalize(s), "0x"))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := h.Sum(nil)
	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			nib := sum[i/2]
			if i%2 == 0 {
				nib >>= 4
			} else {
				nib &= 0x0f
			}
			if nib >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out = append(out, c)
	}
	return string(out)
}
