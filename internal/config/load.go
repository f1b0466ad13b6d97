package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads,
// e.g. MELODY_SERVER_PORT.
const EnvPrefix = "MELODY"

var validate = validator.New()

// Loader reads configuration from defaults, an optional config file and the
// environment. Environment variables take precedence over file values.
type Loader struct {
	v    *viper.Viper
	file string

	mu       sync.Mutex
	watching bool
}

// NewLoader creates a Loader. An empty configFile searches for config.yaml in
// the working directory and tolerates its absence; an explicit path must exist.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	return &Loader{v: v, file: configFile}
}

// Load configuration from environment variables and optionally config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return NewLoader("").Load()
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

// ConfigFile returns the file the loader read, or "" when running on defaults
// and environment only.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch invokes onChange whenever the config file is rewritten. The callback
// receives either the new validated configuration or the reason it was
// rejected. Watch is a no-op when no config file was read.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watching {
		return
	}
	l.watching = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the rules that span sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	var problems []string
	switch c.Producer.Kind {
	case ProducerGemini:
		if c.Producer.Gemini.APIKey == "" {
			problems = append(problems, "producer.gemini.api_key is required for the gemini producer")
		}
	case ProducerRemote:
		if c.Producer.Remote.URL == "" {
			problems = append(problems, "producer.remote.url is required for the remote producer")
		}
	}
	switch c.Storage.Results {
	case ResultsFile:
		if c.Storage.Dir == "" {
			problems = append(problems, "storage.dir is required for file storage")
		}
	case ResultsSQL:
		if c.Database.Driver == DriverNone {
			problems = append(problems, "storage.results=sql needs a database driver")
		}
	case ResultsRedis:
		if c.Redis.Addr == "" {
			problems = append(problems, "redis.addr is required for redis storage")
		}
	}
	if c.Database.Driver != DriverNone && c.Database.URL == "" {
		problems = append(problems, "database.url is required when a database driver is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.log_file", "")
	v.SetDefault("server.log_max_size_mb", 100)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("task.worker_count", 4)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.checkpoint_delay", "1s")
	v.SetDefault("task.broadcast_interval", "1s")
	v.SetDefault("task.subscriber_buffer", 64)
	v.SetDefault("task.retention", "24h")
	v.SetDefault("task.sweep_schedule", "@every 10m")

	v.SetDefault("producer.kind", "pattern")
	v.SetDefault("producer.latency", "0s")
	v.SetDefault("producer.gemini.api_key", "")
	v.SetDefault("producer.gemini.model", "gemini-2.0-flash")
	v.SetDefault("producer.gemini.max_retries", 3)
	v.SetDefault("producer.gemini.retry_delay", "2s")
	v.SetDefault("producer.gemini.prompt_template_path", "")
	v.SetDefault("producer.remote.url", "")
	v.SetDefault("producer.remote.timeout", "60s")
	v.SetDefault("producer.remote.token", "")

	v.SetDefault("storage.results", "file")
	v.SetDefault("storage.dir", "generated_music")
	v.SetDefault("storage.cache_size", 128)
	v.SetDefault("storage.result_ttl", "0s")
	v.SetDefault("storage.preview_cache_ttl", "10m")

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}
