package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 300*time.Second, cfg.Pricing.QuoteValidity)
	assert.True(t, cfg.Custody.MultisigThresholdUSD.Equal(decimal.NewFromInt(100_000)))
	assert.Equal(t, 3, cfg.Custody.RequiredSignatures)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("OTCDESK_SERVER_PORT", "9999")
	t.Setenv("OTCDESK_DATABASE_DRIVER", "sqlite")
	t.Setenv("OTCDESK_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("OTCDESK_TRACING", "true")

	cfg := Default()
	applyEnv(cfg)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.True(t, cfg.Telemetry.Tracing)
}

func TestFileOverrides(t *testing.T) {
	v := viper.New()
	v.Set("custody.sweep_threshold_usd", "250000")
	v.Set("settlement.grace_period", "30m")
	v.Set("custody.cold_addresses", map[string]string{"btc": "bc1qcold"})

	cfg := Default()
	require.NoError(t, applyFile(v, cfg))

	assert.True(t, cfg.Custody.SweepThresholdUSD.Equal(decimal.NewFromInt(250_000)))
	assert.Equal(t, 30*time.Minute, cfg.Settlement.GracePeriod)
	assert.Equal(t, "bc1qcold", cfg.Custody.ColdAddresses["btc"])
}

func TestFileRejectsBadDecimal(t *testing.T) {
	v := viper.New()
	v.Set("custody.multisig_threshold_usd", "lots")
	assert.Error(t, applyFile(v, Default()))
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Rails.Simulated = false
	assert.Error(t, cfg.Validate())
}
