package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envFileKeys maps the .env keys the bootstrapper reads back into viper keys.
// Derived values such as NK_DATABASE_URL are written but never read.
var envFileKeys = map[string]string{
	"DATA_DIR":                      "stack.data_dir",
	"POSTGRES_PORT":                 "stack.ports.postgres",
	"REDIS_PORT":                    "stack.ports.redis",
	"MINIO_PORT":                    "stack.ports.minio",
	"MINIO_CONSOLE_PORT":            "stack.ports.minio_console",
	"WEB_SERVER_PORT":               "stack.ports.web_server",
	"WEB_CLIENT_PORT":               "stack.ports.web_client",
	"NK_IAM_DEFAULT_ADMIN_PASSWORD": "stack.admin_password",
	"NK_LOG_LEVEL":                  "stack.server_log_level",
	"POSTGRES_PASSWORD":             "stack.postgres.password",
	"MINIO_ACCESS_KEY":              "stack.minio.access_key",
	"MINIO_SECRET_KEY":              "stack.minio.secret_key",
}

func applyEnvFile(v *viper.Viper, path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading env file %s: %w", path, err)
	}

	for envKey, key := range envFileKeys {
		val, ok := values[envKey]
		if !ok || val == "" {
			continue
		}
		v.SetDefault(key, val)
	}
	return nil
}

// DatabaseURL is the host-side connection string for the stack database.
func (s StackConfig) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.Postgres.User, s.Postgres.Password, s.Postgres.Host, s.Ports.Postgres, s.Postgres.DB, s.Postgres.SSLMode)
}

// ServerURL is the address the web client uses to reach the web server.
func (s StackConfig) ServerURL() string {
	return "http://localhost:" + strconv.Itoa(s.Ports.WebServer)
}

// Environment returns the fixed key/value map injected into every compose
// phase. These values override anything inherited from the process or
// persisted in the .env file.
func (s StackConfig) Environment() map[string]string {
	return map[string]string{
		"DATA_DIR":                      s.DataDir,
		"POSTGRES_PASSWORD":             s.Postgres.Password,
		"POSTGRES_PORT":                 strconv.Itoa(s.Ports.Postgres),
		"REDIS_PORT":                    strconv.Itoa(s.Ports.Redis),
		"MINIO_PORT":                    strconv.Itoa(s.Ports.MinIO),
		"MINIO_CONSOLE_PORT":            strconv.Itoa(s.Ports.MinIOConsole),
		"WEB_SERVER_PORT":               strconv.Itoa(s.Ports.WebServer),
		"WEB_CLIENT_PORT":               strconv.Itoa(s.Ports.WebClient),
		"NK_DATABASE_URL":               s.DatabaseURL(),
		"NK_IAM_DEFAULT_ADMIN_PASSWORD": s.AdminPassword,
		"VITE_DEFAULT_SERVER_URL":       s.ServerURL(),
		"NK_LOG_LEVEL":                  s.ServerLogLevel,
	}
}

// EnvFileValues is Environment plus the static values compose reads only
// from the .env file.
func (s StackConfig) EnvFileValues() map[string]string {
	values := s.Environment()
	values["MINIO_ACCESS_KEY"] = s.MinIO.AccessKey
	values["MINIO_SECRET_KEY"] = s.MinIO.SecretKey
	values["VITE_CLIENT_APPLICATION_NAME"] = "nkrypt-web-client"
	values["NK_LOG_FORMAT"] = "json"
	return values
}

// SaveEnvFile persists the snapshot to the stack's .env file so that compose
// invocations outside the bootstrapper (systemd, manual) see the same values.
func SaveEnvFile(s StackConfig) error {
	if s.DataDir == "" {
		return ErrDataDirUnset
	}
	if err := os.MkdirAll(filepath.Dir(s.EnvFile), 0o755); err != nil {
		return fmt.Errorf("creating env file directory: %w", err)
	}
	if err := godotenv.Write(s.EnvFileValues(), s.EnvFile); err != nil {
		return fmt.Errorf("writing env file %s: %w", s.EnvFile, err)
	}
	return nil
}
