package wallet

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "SwapRunner/internal/errors"
)

// Well-known development keys.
const (
	keyA = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	keyB = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	keyC = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

func TestNewAccount(t *testing.T) {
	acct, err := NewAccount("main", "0x"+keyA)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), acct.Address())
	assert.Equal(t, "0xf39F...2266", acct.Short())
	assert.Equal(t, "main", acct.Label())

	_, err = NewAccount("x", "0x1234")
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInvalidArgument))
	_, err = NewAccount("x", "  ")
	assert.Error(t, err)
}

func TestFromEnvOrderAndDedup(t *testing.T) {
	accounts, err := FromEnv([]string{
		"PRIVATE_KEY_10=" + keyC,
		"PRIVATE_KEY=" + keyA,
		"PRIVATE_KEYS=" + keyB + ", 0x" + keyA,
		"PRIVATE_KEY_2=" + keyB,
		"PRIVATE_KEY_X=" + keyC,
		"UNRELATED=1",
	})
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "account-1", accounts[0].Label())
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), accounts[0].Address())
	assert.Equal(t, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"), accounts[1].Address())
	assert.Equal(t, common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"), accounts[2].Address())
}

func TestFromEnvRejectsBadKey(t *testing.T) {
	_, err := FromEnv([]string{"PRIVATE_KEY=nothex"})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeConfig))

	accounts, err := FromEnv(nil)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("# main\n"+keyA+"\n\n0x"+keyB+"\n"), 0o600))
	accounts, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "none"))
	assert.Error(t, err)
}

func TestSignTx(t *testing.T) {
	acct, err := NewAccount("main", keyA)
	require.NoError(t, err)
	chainID := big.NewInt(421614)
	to := common.HexToAddress("0x7f2CC9FE79961f628Da671Ac62d1f2896638edd5")
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: chainID, Nonce: 1, To: &to, Gas: 21000, GasFeeCap: big.NewInt(1), GasTipCap: big.NewInt(1), Value: big.NewInt(5)})

	signed, err := acct.SignTx(tx, chainID)
	require.NoError(t, err)
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, acct.Address(), from)
}

func TestMergeRelabels(t *testing.T) {
	env, err := FromEnv([]string{"PRIVATE_KEY=" + keyA, "PRIVATE_KEY_1=" + keyB})
	require.NoError(t, err)
	c, err := NewAccount("file", keyC)
	require.NoError(t, err)
	b, err := NewAccount("dup", keyB)
	require.NoError(t, err)

	merged := Merge(env, []*Account{b, c, nil})
	require.Len(t, merged, 3)
	assert.Equal(t, "account-3", merged[2].Label())
	assert.Equal(t, c.Address(), merged[2].Address())
	assert.Empty(t, Merge())
}
