package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Broker     BrokerConfig     `mapstructure:"broker" validate:"required"`
	Admission  AdmissionConfig  `mapstructure:"admission" validate:"required"`
	Retry      RetryConfig      `mapstructure:"retry" validate:"required"`
	Worker     WorkerConfig     `mapstructure:"worker" validate:"required"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler" validate:"required"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	LLM        LLMConfig        `mapstructure:"llm"`
}

// Process roles
const (
	RoleAPI    = "api"
	RoleWorker = "worker"
	RoleAll    = "all"
)

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
	Role            string        `mapstructure:"role" validate:"required,oneof=api worker all"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// RunsAPI reports whether this process serves HTTP
func (c ServerConfig) RunsAPI() bool {
	return c.Role == RoleAPI || c.Role == RoleAll
}

// RunsWorkers reports whether this process executes tasks
func (c ServerConfig) RunsWorkers() bool {
	return c.Role == RoleWorker || c.Role == RoleAll
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory result store.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// Broker kinds
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// BrokerConfig selects and tunes the queue carrying task descriptors.
type BrokerConfig struct {
	Kind         string        `mapstructure:"kind" validate:"required,oneof=memory redis"`
	RedisURL     string        `mapstructure:"redis_url" validate:"required_if=Kind redis"`
	Prefix       string        `mapstructure:"prefix" validate:"required"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout" validate:"gt=0"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Capacity     int           `mapstructure:"capacity" validate:"gte=0"`
}

// AdmissionConfig bounds concurrent submissions.
type AdmissionConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" validate:"gt=0"`
	WaitTimeout   time.Duration `mapstructure:"wait_timeout" validate:"gte=0"`
}

// RetryConfig is the per-task retry budget.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay    time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	Jitter      float64       `mapstructure:"jitter" validate:"gte=0,lte=1"`
}

// WorkerConfig sizes and tunes the worker pool.
type WorkerConfig struct {
	Count          int           `mapstructure:"count" validate:"gt=0"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"gte=0"`
	InfraRetries   int           `mapstructure:"infra_retries" validate:"gte=0"`
	InfraBaseDelay time.Duration `mapstructure:"infra_base_delay" validate:"gt=0"`
}

// ReconcilerConfig controls periodic recovery and retention.
type ReconcilerConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	PendingAge    time.Duration `mapstructure:"pending_age" validate:"gt=0"`
	StuckAge      time.Duration `mapstructure:"stuck_age" validate:"gt=0"`
	RetentionTTL  time.Duration `mapstructure:"retention_ttl" validate:"gte=0"`
}

// ArchiveConfig configures the S3 dead-letter archive.
type ArchiveConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Bucket         string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Region         string `mapstructure:"region" validate:"required_if=Enabled true"`
	Endpoint       string `mapstructure:"endpoint" validate:"omitempty,url"`
	AccessKeyID    string `mapstructure:"access_key_id"`
	SecretKey      string `mapstructure:"secret_key"`
	Prefix         string `mapstructure:"prefix"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// LLMConfig contains all LLM integration related settings.
// An empty API key leaves the generate_text handler unregistered.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name" validate:"required_with=GeminiAPIKey"`
}
