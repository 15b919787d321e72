package aggregator

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// Settings is the raw, deployment-specific configuration as it appears in a module manifest.
type Settings struct {
	FactoryAddress               string        `yaml:"factoryAddress"`
	WrappedNative                string        `yaml:"wrappedNative"`
	StablePools                  []StablePool  `yaml:"stablePools"`
	Whitelist                    []string      `yaml:"whitelist"`
	UntrackedPairs               []string      `yaml:"untrackedPairs,omitempty"`
	MinimumUSDThresholdNewPairs  string        `yaml:"minimumUsdThresholdNewPairs,omitempty"`
	MinimumLiquidityThresholdETH string        `yaml:"minimumLiquidityThresholdEth,omitempty"`
	ProblematicBlocks            []uint64      `yaml:"problematicBlocks,omitempty"`
	FallbackETHPrice             string        `yaml:"fallbackEthPrice,omitempty"`
	StaticTokens                 []StaticToken `yaml:"staticTokens,omitempty"`
}

// StablePool names a pool of the wrapped native token against a USD stablecoin.
type StablePool struct {
	Address string `yaml:"address"`
	// StableToken is "token0" or "token1", the side holding the stablecoin.
	StableToken string `yaml:"stableToken"`
}

// StableIsToken0 reports whether the stablecoin is the pool's token0.
func (p StablePool) StableIsToken0() bool {
	return p.StableToken == "token0"
}

// StaticToken overrides on-chain metadata for tokens whose contracts return
// nonstandard values.
type StaticToken struct {
	Address  string `yaml:"address"`
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals int64  `yaml:"decimals"`
}

// ErrInvalidConfig is returned by NewConfig for malformed settings.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e ErrInvalidConfig) Error() string {
	return "invalid aggregator config field " + e.Field + ": " + e.Reason
}

// Config is the validated, immutable configuration shared by all aggregator components.
type Config struct {
	factory       string
	wrappedNative string
	stablePools   []StablePool
	whitelist     []string
	whitelistSet  map[string]struct{}
	untracked     map[string]struct{}
	problematic   map[uint64]struct{}
	staticTokens  map[string]StaticToken

	minimumUSDThresholdNewPairs  decimal.Decimal
	minimumLiquidityThresholdETH decimal.Decimal
	fallbackETHPrice             decimal.Decimal
}

// NewConfig normalizes and validates settings.
func NewConfig(s Settings) (*Config, error) {
	cfg := &Config{
		factory:       normalizeAddress(s.FactoryAddress),
		wrappedNative: normalizeAddress(s.WrappedNative),
		whitelistSet:  make(map[string]struct{}, len(s.Whitelist)),
		untracked:     make(map[string]struct{}, len(s.UntrackedPairs)),
		problematic:   make(map[uint64]struct{}, len(s.ProblematicBlocks)),
		staticTokens:  make(map[string]StaticToken, len(s.StaticTokens)),
	}

	if !addressPattern.MatchString(cfg.factory) {
		return nil, ErrInvalidConfig{Field: "factoryAddress", Reason: fmt.Sprintf("%q is not an address", s.FactoryAddress)}
	}
	if !addressPattern.MatchString(cfg.wrappedNative) {
		return nil, ErrInvalidConfig{Field: "wrappedNative", Reason: fmt.Sprintf("%q is not an address", s.WrappedNative)}
	}

	for i, pool := range s.StablePools {
		addr := normalizeAddress(pool.Address)
		if !addressPattern.MatchString(addr) {
			return nil, ErrInvalidConfig{Field: fmt.Sprintf("stablePools[%d].address", i), Reason: "not an address"}
		}
		if pool.StableToken != "token0" && pool.StableToken != "token1" {
			return nil, ErrInvalidConfig{Field: fmt.Sprintf("stablePools[%d].stableToken", i), Reason: "must be token0 or token1"}
		}
		cfg.stablePools = append(cfg.stablePools, StablePool{Address: addr, StableToken: pool.StableToken})
	}

	for i, token := range s.Whitelist {
		addr := normalizeAddress(token)
		if !addressPattern.MatchString(addr) {
			return nil, ErrInvalidConfig{Field: fmt.Sprintf("whitelist[%d]", i), Reason: "not an address"}
		}
		if _, dup := cfg.whitelistSet[addr]; dup {
			continue
		}
		cfg.whitelist = append(cfg.whitelist, addr)
		cfg.whitelistSet[addr] = struct{}{}
	}

	for _, pair := range s.UntrackedPairs {
		cfg.untracked[normalizeAddress(pair)] = struct{}{}
	}
	for _, block := range s.ProblematicBlocks {
		cfg.problematic[block] = struct{}{}
	}
	for _, token := range s.StaticTokens {
		addr := normalizeAddress(token.Address)
		token.Address = addr
		cfg.staticTokens[addr] = token
	}

	var err error
	if cfg.minimumUSDThresholdNewPairs, err = parseDecimal("minimumUsdThresholdNewPairs", s.MinimumUSDThresholdNewPairs, zeroBD); err != nil {
		return nil, err
	}
	if cfg.minimumLiquidityThresholdETH, err = parseDecimal("minimumLiquidityThresholdEth", s.MinimumLiquidityThresholdETH, zeroBD); err != nil {
		return nil, err
	}
	if cfg.fallbackETHPrice, err = parseDecimal("fallbackEthPrice", s.FallbackETHPrice, zeroBD); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDecimal(field, raw string, def decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidConfig{Field: field, Reason: err.Error()}
	}
	if d.IsNegative() {
		return decimal.Decimal{}, ErrInvalidConfig{Field: field, Reason: "must not be negative"}
	}
	return d, nil
}

func (c *Config) FactoryAddress() string { return c.factory }
func (c *Config) WrappedNative() string  { return c.wrappedNative }

// StablePools returns a copy of the configured reference pools.
func (c *Config) StablePools() []StablePool {
	return append([]StablePool(nil), c.stablePools...)
}

// Whitelist returns a copy of the whitelist in its configured order.
func (c *Config) Whitelist() []string {
	return append([]string(nil), c.whitelist...)
}

func (c *Config) IsWhitelisted(token string) bool {
	_, ok := c.whitelistSet[normalizeAddress(token)]
	return ok
}

func (c *Config) IsUntracked(pair string) bool {
	_, ok := c.untracked[normalizeAddress(pair)]
	return ok
}

func (c *Config) IsProblematicBlock(block uint64) bool {
	_, ok := c.problematic[block]
	return ok
}

// StaticToken returns the metadata override for a token, if any.
func (c *Config) StaticToken(address string) (StaticToken, bool) {
	t, ok := c.staticTokens[normalizeAddress(address)]
	return t, ok
}

func (c *Config) MinimumUSDThresholdNewPairs() decimal.Decimal  { return c.minimumUSDThresholdNewPairs }
func (c *Config) MinimumLiquidityThresholdETH() decimal.Decimal { return c.minimumLiquidityThresholdETH }
func (c *Config) FallbackETHPrice() decimal.Decimal             { return c.fallbackETHPrice }
