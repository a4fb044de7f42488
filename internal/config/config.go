package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	EnvConfigFile    = "HELLOMONGO_CONFIG"
	EnvPort          = "PORT"
	EnvMongoUser     = "MONGO_USER"
	EnvMongoPassword = "MONGO_PASSWORD"
	EnvMongoHost     = "MONGO_HOST"
	EnvStartupPolicy = "DB_STARTUP_POLICY"
	EnvLogLevel      = "LOG_LEVEL"
	EnvLogFormat     = "LOG_FORMAT"
	EnvAdminPort     = "ADMIN_PORT"
	EnvAdminToken    = "ADMIN_TOKEN"
)

// Defaults applied before the config file and environment are read.
const (
	DefaultPort       = 3000
	DefaultAdminPort  = 9091
	DefaultMongoHost  = "mongodb-service:27017"
	DefaultScheme     = "mongodb"
	DefaultAuthSource = "admin"
	DefaultAppName    = "hellomongo"
)

// Startup policies for the database connect attempt.
const (
	// StartupServeAnyway starts serving immediately and connects in the background.
	StartupServeAnyway = "serve_anyway"
	// StartupRequireDatabase blocks serving until the connect attempt succeeds.
	StartupRequireDatabase = "require_database"
)

// Config represents the main configuration structure for hellomongo
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Logging  LoggingConfig  `yaml:"logging"`
	AdminAPI AdminAPIConfig `yaml:"admin_api"`
}

// ServerConfig holds the public listener configuration
type ServerConfig struct {
	Port     int            `yaml:"port"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig holds listener timeouts in seconds. Zero means use the default.
type TimeoutsConfig struct {
	Read     int `yaml:"read"`
	Write    int `yaml:"write"`
	Idle     int `yaml:"idle"`
	Shutdown int `yaml:"shutdown"`
}

// MongoConfig describes the single outbound database connection.
type MongoConfig struct {
	Scheme     string `yaml:"scheme"`
	Host       string `yaml:"host"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	AuthSource string `yaml:"auth_source"`
	AppName    string `yaml:"app_name"`
	// ConnectTimeout bounds the connect attempt in seconds. Zero leaves it to the driver.
	ConnectTimeout int    `yaml:"connect_timeout"`
	Startup        string `yaml:"startup"`
}

// LoggingConfig controls the zerolog base logger and request identifiers.
type LoggingConfig struct {
	Level         string          `yaml:"level"`
	Format        string          `yaml:"format"`
	IncludeCaller bool            `yaml:"include_caller"`
	RequestID     RequestIDConfig `yaml:"request_id"`
	Trace         TraceConfig     `yaml:"trace"`
}

// RequestIDConfig controls request ID propagation.
type RequestIDConfig struct {
	Enabled bool   `yaml:"enabled"`
	Header  string `yaml:"header"`
}

// TraceConfig controls trace ID propagation.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Header  string `yaml:"header"`
}

// AdminAPIConfig holds the operations listener configuration
type AdminAPIConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Port      int      `yaml:"port"`
	AuthToken string   `yaml:"auth_token"`
	AllowList []string `yaml:"allow_list"`
	DenyList  []string `yaml:"deny_list"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: DefaultPort},
		Mongo: MongoConfig{
			Scheme:     DefaultScheme,
			Host:       DefaultMongoHost,
			AuthSource: DefaultAuthSource,
			AppName:    DefaultAppName,
			Startup:    StartupServeAnyway,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			RequestID: RequestIDConfig{Enabled: true},
		},
		AdminAPI: AdminAPIConfig{Port: DefaultAdminPort},
	}
}

// Load reads the optional file named by HELLOMONGO_CONFIG and applies the
// process environment on top of it.
func Load() (*Config, error) {
	return LoadConfig(os.Getenv(EnvConfigFile), os.Getenv)
}

// LoadConfig builds a Config from defaults, the YAML file at filePath (skipped
// when empty) and the variables returned by getenv. An empty variable counts
// as unset.
func LoadConfig(filePath string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		return nil
	}

	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvPort, v, err)
		}
		cfg.Server.Port = port
	}

	// Credentials go into the connection string untouched.
	if v := getenv(EnvMongoUser); v != "" {
		cfg.Mongo.User = v
	}
	if v := getenv(EnvMongoPassword); v != "" {
		cfg.Mongo.Password = v
	}
	if v := getenv(EnvMongoHost); v != "" {
		cfg.Mongo.Host = v
	}
	if v := getenv(EnvStartupPolicy); v != "" {
		cfg.Mongo.Startup = v
	}

	if v := getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}

	if v := getenv(EnvAdminPort); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvAdminPort, v, err)
		}
		cfg.AdminAPI.Port = port
		cfg.AdminAPI.Enabled = true
	}
	if v := getenv(EnvAdminToken); v != "" {
		cfg.AdminAPI.AuthToken = v
	}
	return nil
}

// ConnectionString assembles the MongoDB URI. Missing parts are not checked;
// a malformed result surfaces later as a connection error.
func (m MongoConfig) ConnectionString() string {
	return fmt.Sprintf("%s://%s:%s@%s/?authSource=%s",
		m.Scheme, m.User, m.Password, m.Host, m.AuthSource)
}

// RequireDatabase reports whether serving must wait for the connect attempt.
func (m MongoConfig) RequireDatabase() bool {
	return strings.EqualFold(strings.TrimSpace(m.Startup), StartupRequireDatabase)
}
