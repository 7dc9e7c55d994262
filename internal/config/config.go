package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	RabbitMQ   RabbitMQConfig
	Auth       AuthConfig
	Dispatcher DispatcherConfig
	Registry   RegistryConfig
	Metrics    MetricsConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RabbitMQConfig struct {
	URL        string
	Host       string
	Port       string
	User       string
	Password   string
	VHost      string
	Exchange   string
	RoutingKey string
}

// AuthConfig holds the service credential that protects the management API
type AuthConfig struct {
	APIKey string
}

type DispatcherConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	Parallelism     int
	EventTimeout    time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	ProcessingLease time.Duration
	InstanceID      string
}

type RegistryConfig struct {
	CacheTTL time.Duration
}

type MetricsConfig struct {
	Port string
}

func Load() (*Config, error) {
	var missing []string

	get := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			missing = append(missing, key)
		}
		return val
	}

	config := &Config{
		Server: ServerConfig{
			Port: get("SERVER_PORT"),
			Host: get("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     get("DB_HOST"),
			Port:     get("DB_PORT"),
			User:     get("DB_USER"),
			Password: get("DB_PASSWORD"),
			DBName:   get("DB_NAME"),
			SSLMode:  get("DB_SSLMODE"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:        os.Getenv("RABBITMQ_URL"),
			Host:       get("RABBITMQ_HOST"),
			Port:       get("RABBITMQ_PORT"),
			User:       get("RABBITMQ_USER"),
			Password:   get("RABBITMQ_PASSWORD"),
			VHost:      get("RABBITMQ_VHOST"),
			Exchange:   get("RABBITMQ_EXCHANGE"),
			RoutingKey: get("RABBITMQ_ROUTING_KEY"),
		},
		Auth: AuthConfig{
			APIKey: get("SERVICE_API_KEY"),
		},
		Dispatcher: DispatcherConfig{
			PollInterval:    getDuration("DISPATCHER_POLL_INTERVAL", time.Second),
			BatchSize:       getInt("DISPATCHER_BATCH_SIZE", 50),
			Parallelism:     getInt("DISPATCHER_PARALLELISM", 8),
			EventTimeout:    getDuration("DISPATCHER_EVENT_TIMEOUT", 5*time.Second),
			MaxRetries:      getInt("DISPATCHER_MAX_RETRIES", 3),
			BackoffBase:     getDuration("DISPATCHER_BACKOFF_BASE", 2*time.Second),
			BackoffCap:      getDuration("DISPATCHER_BACKOFF_CAP", 5*time.Minute),
			ProcessingLease: getDuration("DISPATCHER_PROCESSING_LEASE", 5*time.Minute),
			InstanceID:      hostnameOr("dispatcher"),
		},
		Registry: RegistryConfig{
			CacheTTL: getDuration("REGISTRY_CACHE_TTL", 30*time.Second),
		},
		Metrics: MetricsConfig{
			Port: envOr("METRICS_PORT", "9090"),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return config, nil
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func hostnameOr(fallback string) string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return fallback
}

// ConnectionString returns a DSN string for GORM
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

func (c *RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s%s",
		c.User, c.Password, c.Host, c.Port, c.VHost)
}
