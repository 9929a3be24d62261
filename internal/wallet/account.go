// Package wallet loads signing accounts.
package wallet

import (
	"bufio"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "SwapRunner/internal/errors"
)

// Account is a signing key with its derived address. It is read-only after
// construction.
type Account struct {
	label   string
	key     *ecdsa.PrivateKey
	address common.Address
}

// ParsePrivateKey decodes a hex private key with or without 0x prefix.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	h = strings.TrimPrefix(h, "0X")
	if h == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "private key is empty")
	}
	key, err := crypto.HexToECDSA(h)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "bad private key")
	}
	return key, nil
}

// NewAccount parses raw into an account named label.
func NewAccount(label, raw string) (*Account, error) {
	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return FromKey(label, key), nil
}

// FromKey wraps an existing key.
func FromKey(label string, key *ecdsa.PrivateKey) *Account {
	return &Account{label: label, key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address is the account's address.
func (a *Account) Address() common.Address { return a.address }

// Label names the account in logs and prompts.
func (a *Account) Label() string { return a.label }

// Short is the abbreviated address.
func (a *Account) Short() string {
	h := a.address.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

// SignTx signs tx for chainID.
func (a *Account) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), a.key)
}

// FromEnv collects keys from PRIVATE_KEY, PRIVATE_KEYS (comma or whitespace
// separated) and PRIVATE_KEY_<n> in numeric order. Duplicate addresses are
// dropped. environ has the os.Environ format.
func FromEnv(environ []string) ([]*Account, error) {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	var raws []string
	if v := strings.TrimSpace(vars["PRIVATE_KEY"]); v != "" {
		raws = append(raws, v)
	}
	raws = append(raws, strings.FieldsFunc(vars["PRIVATE_KEYS"], func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t'
	})...)

	type numbered struct {
		n   int
		raw string
	}
	var indexed []numbered
	for k, v := range vars {
		suffix, ok := strings.CutPrefix(k, "PRIVATE_KEY_")
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		indexed = append(indexed, numbered{n: n, raw: v})
	}
	sort.Slice(indexed, func(i, j int) bool { return indexed[i].n < indexed[j].n })
	for _, item := range indexed {
		raws = append(raws, item.raw)
	}
	return build(raws, "env")
}

// LoadFile reads one key per line; blank lines and # comments are skipped.
func LoadFile(path string) ([]*Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "open key file")
	}
	defer f.Close()

	var raws []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raws = append(raws, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "read key file")
	}
	return build(raws, path)
}

func build(raws []string, source string) ([]*Account, error) {
	seen := make(map[common.Address]bool, len(raws))
	accounts := make([]*Account, 0, len(raws))
	for i, raw := range raws {
		acct, err := NewAccount("", raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfig, err, fmt.Sprintf("key #%d from %s", i+1, source))
		}
		if seen[acct.address] {
			continue
		}
		seen[acct.address] = true
		acct.label = fmt.Sprintf("account-%d", len(accounts)+1)
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// Merge concatenates account lists, drops repeated addresses and relabels the
// result account-1..N in order.
func Merge(groups ...[]*Account) []*Account {
	seen := make(map[common.Address]bool)
	var out []*Account
	for _, group := range groups {
		for _, a := range group {
			if a == nil || seen[a.address] {
				continue
			}
			seen[a.address] = true
			out = append(out, FromKey(fmt.Sprintf("account-%d", len(out)+1), a.key))
		}
	}
	return out
}
