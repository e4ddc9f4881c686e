package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_HappyPath(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	tempConfigsSubDir := filepath.Join(tempDir, "configs")
	err = os.Mkdir(tempConfigsSubDir, 0755)
	require.NoError(t, err)

	testAppName := "TestCasino"
	testPort := 9191
	testLogLevel := "debug"
	testKafkaBrokers := "kafka1:9092,kafka2:9092"
	testTreasury := "TreasuryTest111"

	envContent := fmt.Sprintf(
		"APP_NAME=%s\nSERVER_PORT=%d\nLOG_LEVEL=%s\nKAFKA_BROKERS=%s\nCHAIN_TREASURY_ADDRESS=%s\nPAYOUT_AUTO_APPROVAL_LIMIT=42\n",
		testAppName, testPort, testLogLevel, testKafkaBrokers, testTreasury,
	)
	envFilePath := filepath.Join(tempConfigsSubDir, "test_happy.env")
	err = os.WriteFile(envFilePath, []byte(envContent), 0644)
	require.NoError(t, err)

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(originalWD)
	}()

	err = os.Chdir(tempDir)
	require.NoError(t, err)

	cfg, err := LoadConfig("test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testAppName, cfg.Application.Name)
	assert.Equal(t, testPort, cfg.Server.Port)
	assert.Equal(t, testLogLevel, cfg.Logging.Level)
	assert.Equal(t, testKafkaBrokers, cfg.Kafka.Brokers)
	assert.Equal(t, testTreasury, cfg.Chain.TreasuryAddress)
	assert.Equal(t, int64(42), cfg.Payout.AutoApprovalLimit)

	assert.Equal(t, "development", cfg.Application.Env)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "treasury_signatures", cfg.Kafka.ChainTopic)
	assert.Equal(t, "operator_commands", cfg.Kafka.CommandTopic)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, 4, cfg.WorkerPool.Size)
	assert.Equal(t, 24*time.Hour, cfg.Fairness.CommitTTL)
	assert.Equal(t, 1, cfg.Deposit.ConfirmationThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.Deposit.CursorTTL)
	assert.Equal(t, 3, cfg.Payout.MaxAttempts)

	cfgWithName, err := LoadConfigWithName("configs/test_happy") // Viper will look for configs/test_happy.env
	require.NoError(t, err)
	require.NotNil(t, cfgWithName)
	assert.Equal(t, testAppName, cfgWithName.Application.Name)

	cfgWithNameAndType, err := LoadConfigWithNameAndType("configs/test_happy", "env")
	require.NoError(t, err)
	require.NotNil(t, cfgWithNameAndType)
	assert.Equal(t, testAppName, cfgWithNameAndType.Application.Name)
}

func TestConfig_Validate_HappyPath(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := fromViper(v)
	err := cfg.validate()
	assert.NoError(t, err, "Default config should be valid")
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing treasury",
			mutate:  func(c *Config) { c.Chain.TreasuryAddress = "" },
			wantErr: "CHAIN_TREASURY_ADDRESS is required",
		},
		{
			name:    "zero confirmations",
			mutate:  func(c *Config) { c.Deposit.ConfirmationThreshold = 0 },
			wantErr: "DEPOSIT_CONFIRMATION_THRESHOLD must be greater than 0",
		},
		{
			name:    "negative tolerance",
			mutate:  func(c *Config) { c.Sweep.Tolerance = -1 },
			wantErr: "SWEEP_TOLERANCE must not be negative",
		},
		{
			name:    "no worker pool",
			mutate:  func(c *Config) { c.WorkerPool.Size = 0 },
			wantErr: "WORKER_POOL_SIZE must be greater than 0",
		},
		{
			name:    "missing redis",
			mutate:  func(c *Config) { c.Redis.Addr = "" },
			wantErr: "REDIS_ADDR is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			setDefaults(v)
			cfg := fromViper(v)
			tt.mutate(cfg)

			err := cfg.validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_JoinsAllErrors(t *testing.T) {
	cfg := &Config{}
	err := cfg.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SERVER_PORT must be greater than 0")
	assert.Contains(t, err.Error(), "POSTGRES_URL is required")
	assert.Contains(t, err.Error(), "FAIRNESS_COMMIT_TTL must be greater than 0")
}
