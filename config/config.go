// Package config loads relayer settings from the environment and an optional .env file.
package config

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/fees"
	"github.com/x402-foundation/x402/relayer/gas"
	"github.com/x402-foundation/x402/relayer/oracle"
	"github.com/x402-foundation/x402/relayer/safety"
)

// Oracle sources
const (
	OracleSourcePyth      = "pyth"
	OracleSourceChainlink = "chainlink"
	OracleSourceFixed     = "fixed"
)

// Ledger drivers
const (
	LedgerNone     = "none"
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerMySQL    = "mysql"
)

// Config is the complete relayer configuration
type Config struct {
	Port              string `env:"PORT"`
	RPCURL            string `env:"RPC_URL"`
	SponsorPrivateKey string `env:"SPONSOR_PRIVATE_KEY,required"`

	CoinMint     string `env:"COIN_MINT"`
	CoinSymbol   string `env:"COIN_SYMBOL"`
	CoinDecimals uint8  `env:"COIN_DECIMALS"`

	FeeMarkupPercentage decimal.Decimal `env:"FEE_MARKUP_PERCENTAGE"`
	FeeFraction         decimal.Decimal `env:"FEE_FRACTION"`
	MinFee              uint64          `env:"MIN_FEE"`
	TreasuryShare       decimal.Decimal `env:"TREASURY_SHARE"`
	TreasuryAddress     string          `env:"TREASURY_ADDRESS"`
	MinSponsorBalance   uint64          `env:"MIN_SPONSOR_BALANCE"`

	MaxTransactionAmount uint64 `env:"MAX_TRANSACTION_AMOUNT"`
	UserDailyLimit       uint64 `env:"USER_DAILY_LIMIT"`
	GlobalDailyLimit     uint64 `env:"GLOBAL_DAILY_LIMIT"`

	OracleSource             string          `env:"ORACLE_SOURCE"`
	PriceCacheTTL            time.Duration   `env:"PRICE_CACHE_TTL"`
	OracleHighValueThreshold decimal.Decimal `env:"ORACLE_HIGH_VALUE_THRESHOLD"`
	OracleFixedPrice         decimal.Decimal `env:"ORACLE_FIXED_PRICE"`
	PythHermesURL            string          `env:"PYTH_HERMES_URL"`
	PythPriceFeedID          string          `env:"PYTH_PRICE_FEED_ID"`
	ChainlinkRPCURL          string          `env:"CHAINLINK_RPC_URL"`
	ChainlinkFeedAddress     string          `env:"CHAINLINK_FEED_ADDRESS"`

	GasEstimateBuffer uint64 `env:"GAS_ESTIMATE_BUFFER"`
	FallbackGasUnits  uint64 `env:"FALLBACK_GAS_UNITS"`
	FallbackGasPrice  uint64 `env:"FALLBACK_GAS_PRICE"`

	QuoteTTL        time.Duration `env:"QUOTE_TTL"`
	ConfirmAttempts int           `env:"CONFIRM_ATTEMPTS"`
	ConfirmInterval time.Duration `env:"CONFIRM_INTERVAL"`

	LedgerDriver string `env:"LEDGER_DRIVER"`
	DatabaseURL  string `env:"DATABASE_URL"`

	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE"`

	MCPTransport string `env:"MCP_TRANSPORT"`
	MCPAddr      string `env:"MCP_ADDR"`

	LogLevel       string `env:"LOG_LEVEL"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT"`
}

// Defaults returns the configuration used for every unset variable
func Defaults() Config {
	policy := fees.DefaultPolicy()
	limits := safety.DefaultLimits()
	gasCfg := gas.DefaultConfig()
	oracleCfg := oracle.DefaultConfig()

	return Config{
		Port:   "3000",
		RPCURL: "https://api.devnet.solana.com",

		CoinMint:     "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		CoinSymbol:   "USDC",
		CoinDecimals: 6,

		FeeMarkupPercentage: policy.MarkupPercent,
		FeeFraction:         policy.FeeFraction,
		MinFee:              policy.MinFee,
		TreasuryShare:       policy.TreasuryShare,
		MinSponsorBalance:   10_000_000,

		MaxTransactionAmount: limits.MaxTransactionAmount,
		UserDailyLimit:       limits.UserDailyLimit,
		GlobalDailyLimit:     limits.GlobalDailyLimit,

		OracleSource:             OracleSourcePyth,
		PriceCacheTTL:            oracleCfg.CacheTTL,
		OracleHighValueThreshold: oracleCfg.HighValueThreshold,
		OracleFixedPrice:         oracleCfg.FixedPrice,
		PythHermesURL:            oracle.DefaultHermesURL,
		PythPriceFeedID:          oracle.SOLUSDFeedID,

		GasEstimateBuffer: gasCfg.BufferPercent,
		FallbackGasUnits:  gasCfg.FallbackUnits,
		FallbackGasPrice:  gasCfg.FallbackUnitPrice,

		QuoteTTL:        relayer.DefaultQuoteTTL,
		ConfirmAttempts: 30,
		ConfirmInterval: time.Second,

		LedgerDriver: LedgerNone,

		RateLimitPerMinute: 10,

		MCPTransport: "stdio",
		MCPAddr:      ":3001",

		LogLevel: "info",
	}
}

// Load reads .env if present, then the process environment, over Defaults
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: .env file not found, relying on environment variables")
	}

	cfg := Defaults()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Parse reads configuration from environ instead of the process environment
func Parse(environ map[string]string) (Config, error) {
	cfg := Defaults()
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects inconsistent settings
func (c Config) Validate() error {
	var errs []error

	if key, err := solana.PrivateKeyFromBase58(c.SponsorPrivateKey); err != nil || len(key) != ed25519.PrivateKeySize {
		errs = append(errs, errors.New("SPONSOR_PRIVATE_KEY is not a base58 private key"))
	}
	if _, err := solana.PublicKeyFromBase58(c.CoinMint); err != nil {
		errs = append(errs, fmt.Errorf("COIN_MINT is invalid: %w", err))
	}
	if c.CoinDecimals > 18 {
		errs = append(errs, errors.New("COIN_DECIMALS must be at most 18"))
	}
	if c.TreasuryAddress != "" {
		if _, err := solana.PublicKeyFromBase58(c.TreasuryAddress); err != nil {
			errs = append(errs, fmt.Errorf("TREASURY_ADDRESS is invalid: %w", err))
		}
	}

	if c.FeeFraction.IsNegative() || c.FeeFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("FEE_FRACTION must be in [0, 1)"))
	}
	if c.FeeMarkupPercentage.IsNegative() {
		errs = append(errs, errors.New("FEE_MARKUP_PERCENTAGE must not be negative"))
	}
	if c.TreasuryShare.IsNegative() || c.TreasuryShare.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("TREASURY_SHARE must be in [0, 1)"))
	}

	if c.MaxTransactionAmount == 0 || c.UserDailyLimit == 0 || c.GlobalDailyLimit == 0 {
		errs = append(errs, errors.New("safety limits must be positive"))
	}
	if c.MaxTransactionAmount > c.UserDailyLimit || c.UserDailyLimit > c.GlobalDailyLimit {
		errs = append(errs, errors.New("safety limits must satisfy MAX_TRANSACTION_AMOUNT <= USER_DAILY_LIMIT <= GLOBAL_DAILY_LIMIT"))
	}

	switch c.OracleSource {
	case OracleSourcePyth, OracleSourceFixed:
	case OracleSourceChainlink:
		if c.ChainlinkRPCURL == "" || c.ChainlinkFeedAddress == "" {
			errs = append(errs, errors.New("ORACLE_SOURCE=chainlink requires CHAINLINK_RPC_URL and CHAINLINK_FEED_ADDRESS"))
		}
	default:
		errs = append(errs, fmt.Errorf("ORACLE_SOURCE %q is not one of pyth, chainlink, fixed", c.OracleSource))
	}
	if !c.OracleFixedPrice.IsPositive() {
		errs = append(errs, errors.New("ORACLE_FIXED_PRICE must be positive"))
	}

	switch c.LedgerDriver {
	case LedgerNone, LedgerMemory:
	case LedgerPostgres, LedgerMySQL:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("LEDGER_DRIVER=%s requires DATABASE_URL", c.LedgerDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("LEDGER_DRIVER %q is not one of none, memory, postgres, mysql", c.LedgerDriver))
	}

	switch c.MCPTransport {
	case "stdio", "sse":
	default:
		errs = append(errs, fmt.Errorf("MCP_TRANSPORT %q is not one of stdio, sse", c.MCPTransport))
	}

	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid", c.LogLevel))
	}
	if c.QuoteTTL <= 0 {
		errs = append(errs, errors.New("QUOTE_TTL must be positive"))
	}
	if c.ConfirmAttempts <= 0 || c.ConfirmInterval <= 0 {
		errs = append(errs, errors.New("CONFIRM_ATTEMPTS and CONFIRM_INTERVAL must be positive"))
	}

	return errors.Join(errs...)
}

// Coin returns the sponsorable coin
func (c Config) Coin() relayer.Coin {
	return relayer.Coin{Symbol: c.CoinSymbol, Mint: c.CoinMint, Decimals: c.CoinDecimals}
}

// Policy returns the fee policy. Without a treasury address the whole fee goes to the sponsor.
func (c Config) Policy() fees.Policy {
	policy := fees.Policy{
		FeeFraction:   c.FeeFraction,
		MinFee:        c.MinFee,
		MarkupPercent: c.FeeMarkupPercentage,
		TreasuryShare: c.TreasuryShare,
	}
	if c.TreasuryAddress == "" {
		policy.TreasuryShare = decimal.Zero
	}
	return policy
}

// Limits returns the safety caps
func (c Config) Limits() relayer.SafetyLimits {
	return relayer.SafetyLimits{
		MaxTransactionAmount: c.MaxTransactionAmount,
		UserDailyLimit:       c.UserDailyLimit,
		GlobalDailyLimit:     c.GlobalDailyLimit,
	}
}

// Gas returns the estimation policy
func (c Config) Gas() gas.Config {
	cfg := gas.DefaultConfig()
	cfg.BufferPercent = c.GasEstimateBuffer
	cfg.FallbackUnits = c.FallbackGasUnits
	cfg.FallbackUnitPrice = c.FallbackGasPrice
	return cfg
}

// Oracle returns the oracle policy
func (c Config) Oracle() oracle.Config {
	cfg := oracle.DefaultConfig()
	cfg.CacheTTL = c.PriceCacheTTL
	cfg.HighValueThreshold = c.OracleHighValueThreshold
	cfg.FixedPrice = c.OracleFixedPrice
	return cfg
}
