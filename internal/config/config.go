// Package config provides configuration structures and validation for the settlement processor.
// It handles environment-based configuration for every subsystem: the ledger store, the
// message bus, the TTL cache, the chain client and the settlement components themselves.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all components.
// Each field represents a major subsystem's configuration and is validated during
// application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Redis       RedisConfig
	Outbox      OutboxConfig
	WorkerPool  WorkerPoolConfig
	Chain       ChainConfig
	Fairness    FairnessConfig
	Deposit     DepositConfig
	Payout      PayoutConfig
	Sweep       SweepConfig
	Abuse       AbuseConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains the operations HTTP server settings (health and metrics only)
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	ChainTopic        string // Push notifications for treasury signatures
	CommandTopic      string // Operator approve/reject commands
	EventsTopic       string // Settlement events relayed from the outbox
	NumPartitions     int    // Number of partitions for topics
	ReplicationFactor int    // Replication factor for topics
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Topic for Dead Letter Queue
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains the TTL cache configuration
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// OutboxConfig contains outbox pattern configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int // Maximum number of retry attempts for outbox messages
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of concurrent payout submissions
}

// ChainConfig describes the treasury and the chain client
type ChainConfig struct {
	TreasuryAddress string
	RPCTimeout      time.Duration // Per-call timeout applied by every periodic task
	OpeningFloat    int64         // Treasury balance before the first recorded deposit
	SimulatedFunds  int64         // Starting treasury funds for the in-memory devnet chain
}

// FairnessConfig configures the commit-reveal engine
type FairnessConfig struct {
	CommitTTL       time.Duration
	GamesConfigPath string // Optional YAML game table; built-in defaults are used when empty
}

// DepositConfig configures the deposit reconciler
type DepositConfig struct {
	PollInterval          time.Duration
	SignatureLimit        int
	ConfirmationThreshold int
	IntentTTL             time.Duration
	CursorTTL             time.Duration // Lifetime of the persisted poll cursor
}

// PayoutConfig configures the payout processor
type PayoutConfig struct {
	DrainInterval     time.Duration
	BatchSize         int
	AutoApprovalLimit int64
	MaxAttempts       int
	Confirmations     int
	FaucetAmount      int64
	ShutdownTimeout   time.Duration
}

// SweepConfig configures the balance reconciliation sweep
type SweepConfig struct {
	Interval             time.Duration
	Tolerance            int64
	StaleProcessingAfter time.Duration
	HealthInterval       time.Duration
}

// AbuseConfig holds anti-abuse thresholds
type AbuseConfig struct {
	Window                    time.Duration
	MaxAccountsPerIP          int
	MaxAccountsPerFingerprint int
	FaucetCooldown            time.Duration
	MaxFaucetPerIP            int
	MaxReferralsPerReferrer   int
	MaxWithdrawalsPerWindow   int
	MaxWithdrawalSumPerWindow int64
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.ChainTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_CHAIN_TOPIC is required")
	}
	if c.Kafka.CommandTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_COMMAND_TOPIC is required")
	}
	if c.Kafka.EventsTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_EVENTS_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		validationErrors = append(validationErrors, "REDIS_ADDR is required")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	// Validate Chain config
	if c.Chain.TreasuryAddress == "" {
		validationErrors = append(validationErrors, "CHAIN_TREASURY_ADDRESS is required")
	}
	if c.Chain.RPCTimeout <= 0 {
		validationErrors = append(validationErrors, "CHAIN_RPC_TIMEOUT must be greater than 0")
	}
	if c.Chain.OpeningFloat < 0 {
		validationErrors = append(validationErrors, "CHAIN_OPENING_FLOAT must not be negative")
	}

	// Validate Fairness config
	if c.Fairness.CommitTTL <= 0 {
		validationErrors = append(validationErrors, "FAIRNESS_COMMIT_TTL must be greater than 0")
	}

	// Validate Deposit config
	if c.Deposit.PollInterval <= 0 {
		validationErrors = append(validationErrors, "DEPOSIT_POLL_INTERVAL must be greater than 0")
	}
	if c.Deposit.SignatureLimit <= 0 {
		validationErrors = append(validationErrors, "DEPOSIT_SIGNATURE_LIMIT must be greater than 0")
	}
	if c.Deposit.ConfirmationThreshold <= 0 {
		validationErrors = append(validationErrors, "DEPOSIT_CONFIRMATION_THRESHOLD must be greater than 0")
	}
	if c.Deposit.IntentTTL <= 0 {
		validationErrors = append(validationErrors, "DEPOSIT_INTENT_TTL must be greater than 0")
	}

	// Validate Payout config
	if c.Payout.DrainInterval <= 0 {
		validationErrors = append(validationErrors, "PAYOUT_DRAIN_INTERVAL must be greater than 0")
	}
	if c.Payout.BatchSize <= 0 {
		validationErrors = append(validationErrors, "PAYOUT_BATCH_SIZE must be greater than 0")
	}
	if c.Payout.AutoApprovalLimit < 0 {
		validationErrors = append(validationErrors, "PAYOUT_AUTO_APPROVAL_LIMIT must not be negative")
	}
	if c.Payout.MaxAttempts <= 0 {
		validationErrors = append(validationErrors, "PAYOUT_MAX_ATTEMPTS must be greater than 0")
	}
	if c.Payout.Confirmations <= 0 {
		validationErrors = append(validationErrors, "PAYOUT_CONFIRMATIONS must be greater than 0")
	}
	if c.Payout.FaucetAmount < 0 {
		validationErrors = append(validationErrors, "PAYOUT_FAUCET_AMOUNT must not be negative")
	}

	// Validate Sweep config
	if c.Sweep.Interval <= 0 {
		validationErrors = append(validationErrors, "SWEEP_INTERVAL must be greater than 0")
	}
	if c.Sweep.Tolerance < 0 {
		validationErrors = append(validationErrors, "SWEEP_TOLERANCE must not be negative")
	}
	if c.Sweep.StaleProcessingAfter <= 0 {
		validationErrors = append(validationErrors, "SWEEP_STALE_PROCESSING_AFTER must be greater than 0")
	}
	if c.Sweep.HealthInterval <= 0 {
		validationErrors = append(validationErrors, "SWEEP_HEALTH_INTERVAL must be greater than 0")
	}

	// Validate Abuse config
	if c.Abuse.Window <= 0 {
		validationErrors = append(validationErrors, "ABUSE_WINDOW must be greater than 0")
	}
	if c.Abuse.FaucetCooldown <= 0 {
		validationErrors = append(validationErrors, "ABUSE_FAUCET_COOLDOWN must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
