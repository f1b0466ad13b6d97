package config

import "time"

// Producer kinds
const (
	ProducerPattern = "pattern"
	ProducerGemini  = "gemini"
	ProducerRemote  = "remote"
	ProducerFailing = "failing"
)

// Result store backends
const (
	ResultsFile  = "file"
	ResultsSQL   = "sql"
	ResultsRedis = "redis"
)

// Database drivers
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Producer ProducerConfig `mapstructure:"producer" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// ServerConfig contains the HTTP listener and logging settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json text"`
	LogFile         string        `mapstructure:"log_file"`
	LogMaxSizeMB    int           `mapstructure:"log_max_size_mb" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// TaskConfig tunes the task runner, broadcaster and retention sweep.
type TaskConfig struct {
	WorkerCount       int           `mapstructure:"worker_count" validate:"gte=1,lte=256"`
	QueueSize         int           `mapstructure:"queue_size" validate:"gte=1"`
	CheckpointDelay   time.Duration `mapstructure:"checkpoint_delay" validate:"gte=0"`
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval" validate:"gt=0"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer" validate:"gte=1"`
	// Retention of zero disables the sweep.
	Retention     time.Duration `mapstructure:"retention" validate:"gte=0"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

// ProducerConfig selects and configures the note producer.
type ProducerConfig struct {
	Kind    string        `mapstructure:"kind" validate:"required,oneof=pattern gemini remote failing"`
	Latency time.Duration `mapstructure:"latency" validate:"gte=0"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Remote  RemoteConfig  `mapstructure:"remote"`
}

// GeminiConfig contains the Gemini producer settings.
type GeminiConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" validate:"gte=0"`
	PromptTemplatePath string        `mapstructure:"prompt_template_path"`
}

// RemoteConfig points at an external generator service.
type RemoteConfig struct {
	URL     string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Token   string        `mapstructure:"token"`
}

// StorageConfig selects where generated compositions are kept.
type StorageConfig struct {
	Results         string        `mapstructure:"results" validate:"required,oneof=file sql redis"`
	Dir             string        `mapstructure:"dir"`
	CacheSize       int           `mapstructure:"cache_size" validate:"gte=0"`
	ResultTTL       time.Duration `mapstructure:"result_ttl" validate:"gte=0"`
	PreviewCacheTTL time.Duration `mapstructure:"preview_cache_ttl" validate:"gte=0"`
}

// DatabaseConfig contains the SQL database settings. A driver of "none"
// keeps task records in memory only.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=none sqlite postgres"`
	URL    string `mapstructure:"url"`
}

// RedisConfig contains the Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}
