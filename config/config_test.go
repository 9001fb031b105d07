package config

import (
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseEnv(t *testing.T) map[string]string {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return map[string]string{"SPONSOR_PRIVATE_KEY": key.String()}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(baseEnv(t))
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, OracleSourcePyth, cfg.OracleSource)
	assert.Equal(t, LedgerNone, cfg.LedgerDriver)
	assert.Equal(t, 60*time.Second, cfg.QuoteTTL)
	assert.Equal(t, uint64(10_000_000), cfg.Limits().MaxTransactionAmount)
	assert.Equal(t, uint64(100_000_000), cfg.Limits().UserDailyLimit)
	assert.Equal(t, uint64(1_000_000_000), cfg.Limits().GlobalDailyLimit)
	assert.Equal(t, "USDC", cfg.Coin().Symbol)
	assert.Equal(t, uint8(6), cfg.Coin().Decimals)

	// no treasury address means no treasury cut
	assert.True(t, cfg.Policy().TreasuryShare.IsZero())
}

func TestParse_Overrides(t *testing.T) {
	environ := baseEnv(t)
	treasury := solana.NewWallet().PublicKey().String()
	environ["FEE_MARKUP_PERCENTAGE"] = "35"
	environ["FEE_FRACTION"] = "0.002"
	environ["TREASURY_SHARE"] = "0.25"
	environ["TREASURY_ADDRESS"] = treasury
	environ["QUOTE_TTL"] = "90s"
	environ["GAS_ESTIMATE_BUFFER"] = "30"
	environ["LEDGER_DRIVER"] = "postgres"
	environ["DATABASE_URL"] = "postgres://relayer@localhost/relayer"
	environ["LOG_DEVELOPMENT"] = "true"

	cfg, err := Parse(environ)
	require.NoError(t, err)

	policy := cfg.Policy()
	assert.True(t, policy.MarkupPercent.Equal(decimal.NewFromInt(35)))
	assert.True(t, policy.FeeFraction.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, policy.TreasuryShare.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, 90*time.Second, cfg.QuoteTTL)
	assert.Equal(t, uint64(30), cfg.Gas().BufferPercent)
	assert.True(t, cfg.LogDevelopment)
}

func TestParse_MemoryLedgerNeedsNoDatabase(t *testing.T) {
	environ := baseEnv(t)
	environ["LEDGER_DRIVER"] = "memory"

	cfg, err := Parse(environ)
	require.NoError(t, err)
	assert.Equal(t, LedgerMemory, cfg.LedgerDriver)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]string
		want string
	}{
		{"bad key", map[string]string{"SPONSOR_PRIVATE_KEY": "nope"}, "SPONSOR_PRIVATE_KEY"},
		{"oracle source", map[string]string{"ORACLE_SOURCE": "coingecko"}, "ORACLE_SOURCE"},
		{"chainlink without feed", map[string]string{"ORACLE_SOURCE": "chainlink"}, "CHAINLINK_RPC_URL"},
		{"ledger without dsn", map[string]string{"LEDGER_DRIVER": "mysql"}, "DATABASE_URL"},
		{"ledger driver", map[string]string{"LEDGER_DRIVER": "sqlite"}, "LEDGER_DRIVER"},
		{"limit order", map[string]string{"MAX_TRANSACTION_AMOUNT": "200000000"}, "USER_DAILY_LIMIT"},
		{"treasury share", map[string]string{"TREASURY_SHARE": "1"}, "TREASURY_SHARE"},
		{"treasury address", map[string]string{"TREASURY_ADDRESS": "0xabc"}, "TREASURY_ADDRESS"},
		{"fixed price", map[string]string{"ORACLE_FIXED_PRICE": "0"}, "ORACLE_FIXED_PRICE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := baseEnv(t)
			for k, v := range tt.set {
				environ[k] = v
			}
			_, err := Parse(environ)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_MissingKey(t *testing.T) {
	_, err := Parse(map[string]string{})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", true)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("loud", false)
	assert.Error(t, err)
}
