package main

import (
	"bytes"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SwapRunner/internal/campaign"
	"SwapRunner/internal/proxy"
	"SwapRunner/internal/retry"
	"SwapRunner/internal/wallet"
)

func testAccounts(t *testing.T) []*wallet.Account {
	t.Helper()
	a, err := wallet.NewAccount("account-1", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	b, err := wallet.NewAccount("account-2", "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	require.NoError(t, err)
	return []*wallet.Account{a, b}
}

func TestChooseTarget(t *testing.T) {
	cases := map[string]string{
		"1\n": "euclid",
		"2\n": "andr",
		"3":   "mon",
		"4\n": campaign.TargetRandom,
	}
	for input, want := range cases {
		var out bytes.Buffer
		got, err := newPrompter(strings.NewReader(input), &out).chooseTarget()
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
		assert.Contains(t, out.String(), "Enter option (1-5): ")
	}

	_, err := newPrompter(strings.NewReader("5\n"), &bytes.Buffer{}).chooseTarget()
	assert.True(t, errors.Is(err, errExit))

	_, err = newPrompter(strings.NewReader("9\n"), &bytes.Buffer{}).chooseTarget()
	assert.ErrorContains(t, err, "invalid option")

	_, err = newPrompter(strings.NewReader(""), &bytes.Buffer{}).chooseTarget()
	assert.Error(t, err)
}

func TestPromptSequence(t *testing.T) {
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("3\n0.001\n2\ny\n"), &out)

	count, err := p.askCount()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	amount, err := p.askAmount()
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000), amount)

	selected, err := p.chooseAccounts(testAccounts(t))
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, "account-2", selected[0].Label())

	ok, err := p.confirm("Continue?")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "Select account (1-2, or 'all'): ")
	assert.Contains(t, out.String(), "Continue? (y/n): ")
}

func TestChooseAccountsSingleSkipsPrompt(t *testing.T) {
	var out bytes.Buffer
	accounts := testAccounts(t)[:1]
	selected, err := newPrompter(strings.NewReader(""), &out).chooseAccounts(accounts)
	require.NoError(t, err)
	assert.Equal(t, accounts, selected)
	assert.Empty(t, out.String())
}

func TestParseCount(t *testing.T) {
	n, err := parseCount(" 7 ")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	for _, bad := range []string{"0", "-1", "abc", "1.5", ""} {
		_, err := parseCount(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseAmount(t *testing.T) {
	wei, err := parseAmount("0.0005")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500_000_000_000_000), wei)

	for _, bad := range []string{"0", "-0.1", "eth", ""} {
		_, err := parseAmount(bad)
		assert.Error(t, err, bad)
	}
}

func TestSelectAccounts(t *testing.T) {
	accounts := testAccounts(t)

	all, err := selectAccounts(accounts, "ALL")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byLabel, err := selectAccounts(accounts, "account-2")
	require.NoError(t, err)
	assert.Equal(t, accounts[1], byLabel[0])

	byAddr, err := selectAccounts(accounts, strings.ToLower(accounts[0].Address().Hex()))
	require.NoError(t, err)
	assert.Equal(t, accounts[0], byAddr[0])

	_, err = selectAccounts(accounts, "3")
	assert.ErrorContains(t, err, "out of range")
	_, err = selectAccounts(accounts, "nobody")
	assert.ErrorContains(t, err, "unknown account")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, summary{
		plan: campaign.Plan{
			Target:     campaign.TargetRandom,
			Count:      3,
			AmountIn:   big.NewInt(1_000_000_000_000_000),
			UseProxies: true,
		},
		accounts: testAccounts(t),
		required: big.NewInt(3_293_820_000_000_000),
		chainID:  big.NewInt(421614),
		retry:    retry.Config{MaxRetries: 20, BaseDelay: 5 * time.Second},
	})
	s := out.String()
	assert.Contains(t, s, "Chain ID: 421614")
	assert.Contains(t, s, "Swap type:     Random")
	assert.Contains(t, s, "ETH per tx:    0.001 ETH")
	assert.Contains(t, s, "Total ETH:     0.00329382 ETH")
	assert.Contains(t, s, "Using proxies: Yes")
	assert.Contains(t, s, "20 attempts with 5s+ backoff")
	assert.Contains(t, s, "account-2")
}

func TestPrintHealth(t *testing.T) {
	live, err := proxy.ParseEndpoint("10.0.0.1:8080")
	require.NoError(t, err)
	dead, err := proxy.ParseEndpoint("10.0.0.2:8080")
	require.NoError(t, err)
	results := []proxy.Health{
		{Endpoint: live, Alive: true, Latency: 120 * time.Millisecond},
		{Endpoint: dead},
	}

	var out bytes.Buffer
	printHealth(&out, results, false)
	assert.Contains(t, out.String(), "ok    http://10.0.0.1:8080")
	assert.Contains(t, out.String(), "dead  http://10.0.0.2:8080")
	assert.Contains(t, out.String(), "1/2 proxies alive")

	out.Reset()
	printHealth(&out, results, true)
	assert.NotContains(t, out.String(), "10.0.0.1")
}

func TestRootCommandFlags(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"target", "count", "amount", "account", "proxies", "yes"} {
		assert.NotNil(t, root.Flags().Lookup(name), name)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["proxies"])
	assert.True(t, names["watch"])
}
