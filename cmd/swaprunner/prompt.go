package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"SwapRunner/internal/campaign"
	"SwapRunner/internal/units"
	"SwapRunner/internal/wallet"
)

// errExit 表示用户在菜单中选择了退出。
var errExit = errors.New("exit requested")

// menu 是交互式菜单的选项顺序。
var menu = []struct {
	key    string
	label  string
	target string
}{
	{"1", "ETH - EUCLID (Arbitrum)", "euclid"},
	{"2", "ETH - ANDR (Arbitrum)", "andr"},
	{"3", "ETH - MON (Arbitrum)", "mon"},
	{"4", "Random Swap (EUCLID/ANDR/MON)", campaign.TargetRandom},
}

// prompter 从终端逐行读取回答。
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// chooseTarget 展示兑换菜单并返回目标代币或 campaign.TargetRandom。
func (p *prompter) chooseTarget() (string, error) {
	fmt.Fprintln(p.out, "Swap Options:")
	for _, item := range menu {
		fmt.Fprintf(p.out, "%s. %s\n", item.key, item.label)
	}
	fmt.Fprintf(p.out, "5. Exit\n\n")

	answer, err := p.ask("Enter option (1-5): ")
	if err != nil {
		return "", err
	}
	if answer == "5" {
		return "", errExit
	}
	for _, item := range menu {
		if answer == item.key {
			return item.target, nil
		}
	}
	return "", fmt.Errorf("invalid option %q, please enter 1-5", answer)
}

func (p *prompter) askCount() (int, error) {
	answer, err := p.ask("Number of transactions: ")
	if err != nil {
		return 0, err
	}
	return parseCount(answer)
}

func (p *prompter) askAmount() (*big.Int, error) {
	answer, err := p.ask("ETH amount per transaction: ")
	if err != nil {
		return nil, err
	}
	return parseAmount(answer)
}

// chooseAccounts 在存在多个账户时让用户选择全部或其中一个。
func (p *prompter) chooseAccounts(accounts []*wallet.Account) ([]*wallet.Account, error) {
	if len(accounts) <= 1 {
		return accounts, nil
	}
	fmt.Fprintln(p.out, "Accounts:")
	for i, a := range accounts {
		fmt.Fprintf(p.out, "%d. %s (%s)\n", i+1, a.Label(), a.Address().Hex())
	}
	answer, err := p.ask(fmt.Sprintf("Select account (1-%d, or 'all'): ", len(accounts)))
	if err != nil {
		return nil, err
	}
	return selectAccounts(accounts, answer)
}

func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.ask(question + " (y/n): ")
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "y"), nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid number of transactions %q, please enter a positive integer", s)
	}
	return n, nil
}

func parseAmount(s string) (*big.Int, error) {
	wei, err := units.ParseEther(s)
	if err != nil {
		return nil, err
	}
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("invalid ETH amount %q, please enter a positive number", s)
	}
	return wei, nil
}

// selectAccounts 解析 "all"、序号或账户标签。
func selectAccounts(accounts []*wallet.Account, answer string) ([]*wallet.Account, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" || strings.EqualFold(answer, "all") {
		return accounts, nil
	}
	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(accounts) {
			return nil, fmt.Errorf("account index %d out of range 1-%d", n, len(accounts))
		}
		return accounts[n-1 : n], nil
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Label(), answer) || strings.EqualFold(a.Address().Hex(), answer) {
			return []*wallet.Account{a}, nil
		}
	}
	return nil, fmt.Errorf("unknown account %q", answer)
}

func targetName(target string) string {
	if target == campaign.TargetRandom {
		return "Random"
	}
	return strings.ToUpper(target)
}
