package units

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEther(t *testing.T) {
	cases := map[string]string{
		"1":          "1000000000000000000",
		"0.001":      "1000000000000000",
		"0.00009794": "97940000000000",
		" 2.5 ":      "2500000000000000000",
	}
	for in, want := range cases {
		got, err := ParseEther(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}
}

func TestParseEtherRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		_, err := ParseEther(in)
		assert.Error(t, err, in)
	}
}

func TestParseGwei(t *testing.T) {
	half, err := ParseGwei("0.5")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500_000_000), half)

	quarter, err := ParseGwei("0.25")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(250_000_000), quarter)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0.00009794", FormatEther(big.NewInt(97_940_000_000_000)))
	assert.Equal(t, "0.25", FormatGwei(big.NewInt(250_000_000)))
	assert.Equal(t, "0", FormatEther(nil))
}
