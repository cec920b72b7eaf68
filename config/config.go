package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"tunesync-backend/internal/apperr"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Logger    LoggerConfig    `yaml:"logger"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Signaling SignalingConfig `yaml:"signaling"`
}

type ServerConfig struct {
	Port         string `yaml:"port"`
	Host         string `yaml:"host"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
	AllowOrigins string `yaml:"allowOrigins"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres or sqlite
	Path         string `yaml:"path"`   // sqlite only
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxLifetime  int    `yaml:"maxLifetime"` // in minutes
	LogLevel     string `yaml:"logLevel"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwtSecret"`
	TokenDuration int    `yaml:"tokenDuration"` // in hours
}

type LoggerConfig struct {
	Level      string `yaml:"level"`
	OutputPath string `yaml:"outputPath"`
}

type RoomsConfig struct {
	DefaultMaxParticipants int `yaml:"defaultMaxParticipants"`
	CodeAttempts           int `yaml:"codeAttempts"`
}

type CleanupConfig struct {
	WindowSeconds    int `yaml:"windowSeconds"`
	HostGraceSeconds int `yaml:"hostGraceSeconds"`
	MaxAgeHours      int `yaml:"maxAgeHours"`
	TimeoutSeconds   int `yaml:"timeoutSeconds"`
}

type RealtimeConfig struct {
	Driver        string `yaml:"driver"` // memory or redis
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
	KeyPrefix     string `yaml:"keyPrefix"`
	BufferSize    int    `yaml:"bufferSize"`
}

type SignalingConfig struct {
	RateLimit        int `yaml:"rateLimit"`
	RateIntervalMsec int `yaml:"rateIntervalMsec"`
}

var (
	config *Config
	once   sync.Once
)

// Load reads the configuration file and returns a Config struct
func Load(configPath string) (*Config, error) {
	var loadErr error
	once.Do(func() {
		cfg := Default()

		data, err := os.ReadFile(configPath)
		if err != nil {
			loadErr = err
			return
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			loadErr = err
			return
		}

		applyEnv(cfg)
		config = cfg
	})
	if loadErr != nil {
		// allow a later call with a fixed path
		once = sync.Once{}
		return nil, loadErr
	}

	return config, nil
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8090",
			Host:         "0.0.0.0",
			ReadTimeout:  10,
			WriteTimeout: 10,
			AllowOrigins: "http://localhost:5173,http://127.0.0.1:5173",
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			SSLMode:      "disable",
			MaxIdleConns: 5,
			MaxOpenConns: 20,
			MaxLifetime:  30,
			LogLevel:     "warn",
		},
		Auth: AuthConfig{
			TokenDuration: 24,
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Rooms: RoomsConfig{
			DefaultMaxParticipants: 20,
			CodeAttempts:           10,
		},
		Cleanup: CleanupConfig{
			WindowSeconds:    120,
			HostGraceSeconds: 60,
			MaxAgeHours:      6,
			TimeoutSeconds:   30,
		},
		Realtime: RealtimeConfig{
			Driver:     "memory",
			KeyPrefix:  "tunesync:",
			BufferSize: 64,
		},
		Signaling: SignalingConfig{
			RateLimit:        50,
			RateIntervalMsec: 1000,
		},
	}
}

func applyEnv(cfg *Config) {
	if envPort := os.Getenv("SERVER_PORT"); envPort != "" {
		cfg.Server.Port = envPort
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		cfg.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("DB_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.DBName = dbName
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		cfg.Auth.JWTSecret = jwtSecret
	}
	if driver := os.Getenv("REALTIME_DRIVER"); driver != "" {
		cfg.Realtime.Driver = driver
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.Realtime.RedisAddr = redisAddr
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		cfg.Realtime.RedisPassword = redisPass
	}
	if window := os.Getenv("CLEANUP_WINDOW_SECONDS"); window != "" {
		if v, err := strconv.Atoi(window); err == nil {
			cfg.Cleanup.WindowSeconds = v
		}
	}
	if grace := os.Getenv("CLEANUP_HOST_GRACE_SECONDS"); grace != "" {
		if v, err := strconv.Atoi(grace); err == nil {
			cfg.Cleanup.HostGraceSeconds = v
		}
	}
}

// Get returns the loaded configuration
func Get() *Config {
	if config == nil {
		panic("Config not loaded")
	}
	return config
}

// Validate reports missing credentials for external services.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return apperr.Configuration("auth.jwtSecret is not set")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return apperr.Configuration("database credentials are incomplete")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return apperr.Configuration("database.path is required for sqlite")
		}
	default:
		return apperr.Configuration("unsupported database driver " + c.Database.Driver)
	}
	if c.Realtime.Driver == "redis" && c.Realtime.RedisAddr == "" {
		return apperr.Configuration("realtime.redisAddr is required for the redis driver")
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.Host,
		c.User,
		c.Password,
		c.DBName,
		c.Port,
		c.SSLMode,
	)
}

func (c *CleanupConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

func (c *CleanupConfig) HostGrace() time.Duration {
	return time.Duration(c.HostGraceSeconds) * time.Second
}

func (c *CleanupConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

func (c *CleanupConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *SignalingConfig) RateInterval() time.Duration {
	return time.Duration(c.RateIntervalMsec) * time.Millisecond
}
