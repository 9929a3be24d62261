// Package config 负责加载 SwapRunner 的 YAML 配置与环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"SwapRunner/internal/campaign"
	xerrors "SwapRunner/internal/errors"
	"SwapRunner/internal/events"
	"SwapRunner/internal/executor"
	"SwapRunner/internal/httpclient"
	"SwapRunner/internal/retry"
	"SwapRunner/internal/swap"
	"SwapRunner/internal/units"
	"SwapRunner/internal/web3/ethereum"
	"SwapRunner/pkg/logger"
)

// 环境变量名称
const (
	EnvConfigPath = "SWAPRUNNER_CONFIG"
	EnvRPCURL     = "RPC_URL"
	EnvProxyFile  = "PROXY_FILE"
	EnvKeyFile    = "KEY_FILE"
	EnvWebhookURL = "ALERT_WEBHOOK_URL"
)

// DefaultPath 是未指定配置文件时的默认位置。
const DefaultPath = "configs/swaprunner.yaml"

// ArbitrumSepoliaChainID 是默认网络的链 ID。
const ArbitrumSepoliaChainID int64 = 421614

// Config 汇总 SwapRunner 启动所需的全部配置。
type Config struct {
	Network      NetworkConfig               `yaml:"network"`
	API          swap.Endpoints              `yaml:"api"`
	Params       swap.Params                 `yaml:"params"`
	HTTP         httpclient.Config           `yaml:"http"`
	Retry        retry.Config                `yaml:"retry"`
	Pacing       campaign.Pacing             `yaml:"pacing"`
	Gas          GasConfig                   `yaml:"gas"`
	Tokens       map[string]swap.TokenConfig `yaml:"tokens"`
	RandomTokens []string                    `yaml:"random_tokens"`
	Proxy        ProxyConfig                 `yaml:"proxy"`
	Accounts     AccountsConfig              `yaml:"accounts"`
	Log          logger.Config               `yaml:"log"`
	Metrics      MetricsConfig               `yaml:"metrics"`
	Events       events.Config               `yaml:"events"`
	Alerts       AlertsConfig                `yaml:"alerts"`
}

// NetworkConfig 描述链节点与区块浏览器。
type NetworkConfig struct {
	ethereum.Config `yaml:",inline"`
	ExplorerURL     string `yaml:"explorer_url"`
}

// GasConfig 描述固定的交易费用策略，金额使用十进制字符串。
type GasConfig struct {
	Router          string        `yaml:"router"`
	DefaultLimit    uint64        `yaml:"default_limit"`
	MarginPercent   uint64        `yaml:"margin_percent"`
	MaxFeeGwei      string        `yaml:"max_fee_gwei"`
	MaxPriorityGwei string        `yaml:"max_priority_fee_gwei"`
	ReserveETH      string        `yaml:"reserve_eth"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
}

// ProxyConfig 描述代理列表与活性探测。
type ProxyConfig struct {
	File         string        `yaml:"file"`
	// Sticky 为空时默认开启：每笔交易先探测一个可用代理并固定使用。
	Sticky       *bool         `yaml:"sticky"`
	ProbeURL     string        `yaml:"probe_url"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Parallelism  int           `yaml:"parallelism"`
}

// AccountsConfig 指定额外的私钥文件。
type AccountsConfig struct {
	KeyFile string `yaml:"key_file"`
}

// MetricsConfig 控制 Prometheus 指标。
type MetricsConfig struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// AlertsConfig 控制告警渠道。
type AlertsConfig struct {
	Log        bool   `yaml:"log"`
	WebhookURL string `yaml:"webhook_url"`
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load 解析指定路径的 YAML 配置文件并补齐默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "打开配置文件失败")
	}
	defer file.Close()

	cfg, err := decode(file)
	if err != nil {
		return nil, err
	}
	// 仅解析文件中显式给出的相对路径，默认值保持相对于工作目录。
	cfg.resolvePaths(filepath.Dir(path))
	cfg.applyDefaults()
	return cfg, nil
}

// Parse 从 r 读取 YAML 配置；空输入得到默认配置。
func Parse(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "解析配置失败")
	}
	return &cfg, nil
}

// LoadDotEnv 按顺序加载 .env 文件，已存在的环境变量不会被覆盖；缺失的文件被忽略。
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return xerrors.Wrap(xerrors.CodeConfig, err, "加载环境文件失败: "+f)
		}
	}
	return nil
}

// ApplyEnv 使用环境变量覆盖配置中的对应字段。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvRPCURL); ok && strings.TrimSpace(v) != "" {
		c.Network.RPCURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvProxyFile); ok && strings.TrimSpace(v) != "" {
		c.Proxy.File = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvKeyFile); ok && strings.TrimSpace(v) != "" {
		c.Accounts.KeyFile = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvWebhookURL); ok && strings.TrimSpace(v) != "" {
		c.Alerts.WebhookURL = strings.TrimSpace(v)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Network.RPCURL == "" {
		c.Network.RPCURL = "https://sepolia-rollup.arbitrum.io/rpc"
	}
	if c.Network.ChainID == 0 {
		c.Network.ChainID = ArbitrumSepoliaChainID
	}
	if c.Network.PollInterval <= 0 {
		c.Network.PollInterval = 2 * time.Second
	}
	if c.Network.ExplorerURL == "" {
		c.Network.ExplorerURL = campaign.DefaultExplorerURL
	}

	c.API = c.API.WithDefaults()
	c.Params = c.Params.WithDefaults()
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 30 * time.Second
	}
	if c.HTTP.Site == "" {
		c.HTTP.Site = "https://testnet.euclidswap.io"
	}
	c.Retry = c.Retry.WithDefaults()

	def := campaign.DefaultPacing()
	fillRange(&c.Pacing.PreQuote, def.PreQuote)
	fillRange(&c.Pacing.PostQuote, def.PostQuote)
	fillRange(&c.Pacing.PreTracking, def.PreTracking)
	fillRange(&c.Pacing.BetweenTransactions, def.BetweenTransactions)
	fillRange(&c.Pacing.BetweenAccounts, def.BetweenAccounts)
	if c.Pacing.RateLimitCooldown <= 0 {
		c.Pacing.RateLimitCooldown = def.RateLimitCooldown
	}
	if c.Pacing.ForbiddenCooldown <= 0 {
		c.Pacing.ForbiddenCooldown = def.ForbiddenCooldown
	}

	if c.Gas.Router == "" {
		c.Gas.Router = executor.DefaultRouter.Hex()
	}
	if c.Gas.DefaultLimit == 0 {
		c.Gas.DefaultLimit = executor.DefaultGasLimit
	}
	if c.Gas.MarginPercent == 0 {
		c.Gas.MarginPercent = executor.DefaultGasMargin
	}
	if c.Gas.MaxFeeGwei == "" {
		c.Gas.MaxFeeGwei = units.FormatGwei(executor.DefaultMaxFeePerGas)
	}
	if c.Gas.MaxPriorityGwei == "" {
		c.Gas.MaxPriorityGwei = units.FormatGwei(executor.DefaultMaxPriorityFeePerGas)
	}
	if c.Gas.ReserveETH == "" {
		c.Gas.ReserveETH = units.FormatEther(campaign.DefaultGasReserve)
	}
	if c.Gas.ConfirmTimeout <= 0 {
		c.Gas.ConfirmTimeout = executor.DefaultConfirmTimeout
	}

	if len(c.Tokens) == 0 {
		c.Tokens = swap.DefaultTokens()
	}
	if len(c.RandomTokens) == 0 {
		c.RandomTokens = swap.Symbols(c.Tokens)
	}

	if c.Proxy.File == "" {
		c.Proxy.File = "proxies.txt"
	}
	if c.Proxy.ProbeURL == "" {
		c.Proxy.ProbeURL = campaign.DefaultProbeURL
	}
	if c.Proxy.ProbeTimeout <= 0 {
		c.Proxy.ProbeTimeout = 10 * time.Second
	}
	if c.Proxy.Parallelism <= 0 {
		c.Proxy.Parallelism = 8
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "swaprunner"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
}

// resolvePaths 将相对路径解析为相对于配置文件所在目录。
func (c *Config) resolvePaths(baseDir string) {
	c.Proxy.File = resolve(baseDir, c.Proxy.File)
	c.Accounts.KeyFile = resolve(baseDir, c.Accounts.KeyFile)
	c.Log.Audit.Path = resolve(baseDir, c.Log.Audit.Path)
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func fillRange(r *campaign.Range, def campaign.Range) {
	if r.Min <= 0 && r.Max <= 0 {
		*r = def
	}
}

// Validate 检查配置的一致性。
func (c *Config) Validate() error {
	var errs []error
	if c.Network.RPCURL == "" {
		errs = append(errs, errors.New("network.rpc_url 不能为空"))
	}
	if !common.IsHexAddress(c.Gas.Router) {
		errs = append(errs, fmt.Errorf("gas.router 不是合法地址: %q", c.Gas.Router))
	}
	for _, name := range []string{"pre_quote", "post_quote", "pre_tracking", "between_transactions", "between_accounts"} {
		r := c.pacingRange(name)
		if r.Min < 0 || r.Max < r.Min {
			errs = append(errs, fmt.Errorf("pacing.%s 区间非法: %s..%s", name, r.Min, r.Max))
		}
	}
	for sym, tok := range c.Tokens {
		if err := tok.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("tokens.%s: %w", sym, err))
		}
	}
	for _, sym := range c.RandomTokens {
		if _, ok := c.Tokens[sym]; !ok {
			errs = append(errs, fmt.Errorf("random_tokens 引用了未配置的代币 %q", sym))
		}
	}
	if _, err := c.ExecutorConfig(big.NewInt(c.Network.ChainID)); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.CampaignSettings(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return xerrors.Wrap(xerrors.CodeConfig, errors.Join(errs...), "配置校验失败")
	}
	return nil
}

func (c *Config) pacingRange(name string) campaign.Range {
	switch name {
	case "pre_quote":
		return c.Pacing.PreQuote
	case "post_quote":
		return c.Pacing.PostQuote
	case "pre_tracking":
		return c.Pacing.PreTracking
	case "between_transactions":
		return c.Pacing.BetweenTransactions
	default:
		return c.Pacing.BetweenAccounts
	}
}

// ExecutorConfig 将费用策略转换为执行器配置。
func (c *Config) ExecutorConfig(chainID *big.Int) (executor.Config, error) {
	maxFee, err := units.ParseGwei(c.Gas.MaxFeeGwei)
	if err != nil {
		return executor.Config{}, fmt.Errorf("gas.max_fee_gwei: %w", err)
	}
	tip, err := units.ParseGwei(c.Gas.MaxPriorityGwei)
	if err != nil {
		return executor.Config{}, fmt.Errorf("gas.max_priority_fee_gwei: %w", err)
	}
	if tip.Cmp(maxFee) > 0 {
		return executor.Config{}, errors.New("gas.max_priority_fee_gwei 大于 gas.max_fee_gwei")
	}
	return executor.Config{
		Router:               common.HexToAddress(c.Gas.Router),
		ChainID:              chainID,
		DefaultGasLimit:      c.Gas.DefaultLimit,
		GasMarginPercent:     c.Gas.MarginPercent,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
		ConfirmTimeout:       c.Gas.ConfirmTimeout,
	}, nil
}

// CampaignSettings 构造活动运行所需的静态配置。
func (c *Config) CampaignSettings() (campaign.Settings, error) {
	reserve, err := units.ParseEther(c.Gas.ReserveETH)
	if err != nil {
		return campaign.Settings{}, fmt.Errorf("gas.reserve_eth: %w", err)
	}
	tokens := make(map[string]swap.TokenConfig, len(c.Tokens))
	for sym, tok := range c.Tokens {
		tokens[strings.ToLower(sym)] = tok.Clone()
	}
	return campaign.Settings{
		Tokens:       tokens,
		RandomTokens: append([]string(nil), c.RandomTokens...),
		Params:       c.Params,
		GasReserve:   reserve,
		Pacing:       c.Pacing,
		ProbeURL:     c.Proxy.ProbeURL,
		ProbeTimeout: c.Proxy.ProbeTimeout,
		StickyProxy:  c.Proxy.Sticky == nil || *c.Proxy.Sticky,
		ExplorerURL:  c.Network.ExplorerURL,
	}, nil
}
