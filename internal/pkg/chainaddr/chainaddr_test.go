package chainaddr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Checksummed forms from the EIP-55 reference vectors.
var checksummed = []string{
	"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
}

func TestChecksum_ReferenceVectors(t *testing.T) {
	for _, want := range checksummed {
		got := Checksum(strings.ToLower(want))
		assert.Equal(t, want, got)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"all lowercase", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"all uppercase hex", "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED", true},
		{"correct checksum", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"broken checksum", "0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"too short", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beae", false},
		{"too long", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed0", false},
		{"no prefix", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed00", false},
		{"non-hex", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaeg", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.in))
		})
	}
}

func TestNormalizeAndEqual(t *testing.T) {
	mixed := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	assert.Equal(t, lower, Normalize(mixed))
	assert.True(t, Equal(mixed, lower))
	assert.False(t, Equal(mixed, "0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb"))
}
