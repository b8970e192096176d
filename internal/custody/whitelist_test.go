package custody

import (
	"testing"

	"github.com/Aidin1998/otcdesk/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidateAddress(t *testing.T) {
	cases := []struct {
		name     string
		currency string
		address  string
		tag      string
		valid    bool
	}{
		{"btc bech32", "BTC", "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh", "", true},
		{"btc legacy", "btc", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", "", true},
		{"btc garbage", "BTC", "0xnotbitcoin0000000000000000000", "", false},
		{"eth lower", "ETH", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "", true},
		{"eth checksummed", "ETH", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "", true},
		{"eth bad checksum", "ETH", "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "", false},
		{"usdt short", "USDT", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea", "", false},
		{"xrp with tag", "XRP", "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", "12345", true},
		{"xrp missing tag", "XRP", "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", "", false},
		{"unsupported currency", "DOGE", "DH5yaieqoZN36fDVciNyRueRGvGLR3mr7L", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAddress(tc.currency, tc.address, tc.tag)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, errors.Invalid), "got %v", err)
		})
	}
}

func TestCanonicalAddress(t *testing.T) {
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		canonicalAddress("usdc", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.Equal(t, "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh",
		canonicalAddress("BTC", " bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh "))
}

func TestConfirmationDepth(t *testing.T) {
	assert.Equal(t, 6, ConfirmationDepth("btc"))
	assert.Equal(t, 12, ConfirmationDepth("ETH"))
	assert.Equal(t, 32, ConfirmationDepth("SOL"))
	assert.Equal(t, 1, ConfirmationDepth("XRP"))
	assert.Equal(t, defaultConfirmationDepth, ConfirmationDepth("ADA"))
}
