package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrDataDirUnset is returned by Validate when no data directory is configured.
var ErrDataDirUnset = errors.New("data directory is not set")

// Config is the root configuration for the bootstrapper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Stack     StackConfig     `mapstructure:"stack"`
	Status    StatusConfig    `mapstructure:"status"`
	History   HistoryConfig   `mapstructure:"history"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
	// LogFile, when set, receives a JSON copy of every structured log record.
	LogFile string `mapstructure:"log_file"`
}

// StackConfig describes the managed container stack. Its values are the
// configuration snapshot handed to every operation.
type StackConfig struct {
	ComposeFile     string          `mapstructure:"compose_file"`
	EnvFile         string          `mapstructure:"env_file"`
	MigrationsDir   string          `mapstructure:"migrations_dir"`
	DataDir         string          `mapstructure:"data_dir"`
	Engine          string          `mapstructure:"engine"`
	ContainerPrefix string          `mapstructure:"container_prefix"`
	SettleDelay     time.Duration   `mapstructure:"settle_delay"`
	AdminPassword   string          `mapstructure:"admin_password"`
	ServerLogLevel  string          `mapstructure:"server_log_level"`
	Ports           PortsConfig     `mapstructure:"ports"`
	Postgres        PostgresConfig  `mapstructure:"postgres"`
	Redis           RedisConfig     `mapstructure:"redis"`
	MinIO           MinIOConfig     `mapstructure:"minio"`
	Readiness       ReadinessConfig `mapstructure:"readiness"`
}

type PortsConfig struct {
	Postgres     int `mapstructure:"postgres"`
	Redis        int `mapstructure:"redis"`
	MinIO        int `mapstructure:"minio"`
	MinIOConsole int `mapstructure:"minio_console"`
	WebServer    int `mapstructure:"web_server"`
	WebClient    int `mapstructure:"web_client"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MinIOConfig struct {
	Host      string `mapstructure:"host"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
}

type ReadinessConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Attempts int           `mapstructure:"attempts"`
}

type StatusConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the BOOTSTRAPPER_ prefix
// (e.g. BOOTSTRAPPER_STACK_DATA_DIR). Values persisted in the stack's .env
// file are applied on top of the built-in defaults, below both of those.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BOOTSTRAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	envFile := v.GetString("stack.env_file")
	if envFile == "" {
		envFile = filepath.Join(filepath.Dir(v.GetString("stack.compose_file")), ".env")
		v.SetDefault("stack.env_file", envFile)
	}
	if err := applyEnvFile(v, envFile); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if cfg.Stack.DataDir == "" {
		cfg.Stack.DataDir = filepath.Join(filepath.Dir(filepath.Dir(cfg.Stack.ComposeFile)), "nkrypt-xyz-data")
	}
	if cfg.History.Path == "" {
		cfg.History.Path = defaultHistoryPath()
	}

	return &cfg, nil
}

// Validate reports configuration that would make every operation fail.
func (s StackConfig) Validate() error {
	if strings.TrimSpace(s.DataDir) == "" {
		return ErrDataDirUnset
	}
	if s.ComposeFile == "" {
		return errors.New("compose file is not set")
	}

	seen := make(map[int]string, 6)
	for name, port := range s.Ports.byName() {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("port %s out of range: %d", name, port)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("port %d assigned to both %s and %s", port, other, name)
		}
		seen[port] = name
	}
	return nil
}

// ComposeDir is the working directory for every compose invocation.
func (s StackConfig) ComposeDir() string {
	return filepath.Dir(s.ComposeFile)
}

// ContainerName returns the engine-level name of a compose service.
func (s StackConfig) ContainerName(service string) string {
	return s.ContainerPrefix + "-" + service
}

func (p PortsConfig) byName() map[string]int {
	return map[string]int{
		"postgres":      p.Postgres,
		"redis":         p.Redis,
		"minio":         p.MinIO,
		"minio_console": p.MinIOConsole,
		"web_server":    p.WebServer,
		"web_client":    p.WebClient,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9206)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "nkrypt-bootstrapper")
	v.SetDefault("telemetry.log_level", "warn")
	v.SetDefault("telemetry.log_file", "")

	v.SetDefault("stack.compose_file", filepath.Join("desktop-bootstrapper", "docker-compose.yml"))
	v.SetDefault("stack.env_file", "")
	v.SetDefault("stack.migrations_dir", filepath.Join("web-server", "migrations"))
	v.SetDefault("stack.data_dir", "")
	v.SetDefault("stack.engine", "")
	v.SetDefault("stack.container_prefix", "nkrypt-desktop")
	v.SetDefault("stack.settle_delay", 2*time.Second)
	v.SetDefault("stack.admin_password", "")
	v.SetDefault("stack.server_log_level", "info")

	v.SetDefault("stack.ports.postgres", 9200)
	v.SetDefault("stack.ports.redis", 9201)
	v.SetDefault("stack.ports.minio", 9202)
	v.SetDefault("stack.ports.minio_console", 9203)
	v.SetDefault("stack.ports.web_server", 9204)
	v.SetDefault("stack.ports.web_client", 9205)

	v.SetDefault("stack.postgres.host", "127.0.0.1")
	v.SetDefault("stack.postgres.user", "nkrypt")
	v.SetDefault("stack.postgres.password", "nkrypt_password")
	v.SetDefault("stack.postgres.db", "nkrypt")
	v.SetDefault("stack.postgres.ssl_mode", "disable")
	v.SetDefault("stack.postgres.max_conns", 2)

	v.SetDefault("stack.redis.host", "127.0.0.1")
	v.SetDefault("stack.redis.db", 0)

	v.SetDefault("stack.minio.host", "127.0.0.1")
	v.SetDefault("stack.minio.access_key", "minioadmin")
	v.SetDefault("stack.minio.secret_key", "minioadmin")
	v.SetDefault("stack.minio.bucket", "nkrypt-blobs")

	v.SetDefault("stack.readiness.interval", 2*time.Second)
	v.SetDefault("stack.readiness.attempts", 60)

	v.SetDefault("status.refresh_interval", 10*time.Second)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "nkrypt-desktop", "history.db")
}
