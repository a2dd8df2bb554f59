package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, DriverPostgres, cfg.StoreDriver)
	require.Equal(t, DriverPostgres, cfg.SequenceBackend)
	require.Equal(t, 5*time.Second, cfg.LedgerTxTimeout)
	require.Equal(t, "5 0 * * *", cfg.ExpirySweepCron)
	require.Equal(t, 4, cfg.IntegrityCheckWorkers)
	require.Equal(t, 600, cfg.RateLimitPerMinute)
	require.True(t, cfg.UsesPostgres())
}

func TestLoadConfigRejectsUnknownDrivers(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "STORE_DRIVER")

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("SEQUENCE_BACKEND", "etcd")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "SEQUENCE_BACKEND")
}

func TestConfigValidate(t *testing.T) {
	base := Config{
		StoreDriver:           DriverMemory,
		SequenceBackend:       DriverMemory,
		LedgerTxTimeout:       time.Second,
		IntegrityCheckWorkers: 1,
		RateLimitPerMinute:    1,
	}
	require.NoError(t, base.Validate())
	require.False(t, base.UsesPostgres())

	cases := map[string]func(*Config){
		"postgres sequence without postgres store": func(c *Config) { c.SequenceBackend = DriverPostgres },
		"zero tx timeout":                          func(c *Config) { c.LedgerTxTimeout = 0 },
		"zero workers":                             func(c *Config) { c.IntegrityCheckWorkers = 0 },
		"zero rate limit":                          func(c *Config) { c.RateLimitPerMinute = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
