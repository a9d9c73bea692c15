package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort string `yaml:"port"`
	Debug      bool   `yaml:"debug"`

	// Database（可选，用于同步记录）
	DatabaseURL string `yaml:"database_url"`

	// Redis（可选，跨进程同步锁）
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	LockTTL       time.Duration `yaml:"lock_ttl"`

	Smartcar SmartcarConfig `yaml:"smartcar"`
	Fleetio  FleetioConfig  `yaml:"fleetio"`

	// HTTP 单次请求超时
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// 交互授权最长等待，需小于 LockTTL
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// serve 模式下定时同步间隔，0 表示只手动触发
	SyncInterval time.Duration `yaml:"sync_interval"`

	// Token 存储路径（.env 或 .json）
	CredentialFile string `yaml:"credential_file"`
}

// SmartcarConfig Smartcar API 配置
type SmartcarConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	APIHost      string `yaml:"api_host"`
}

// FleetioConfig Fleetio API 配置
type FleetioConfig struct {
	APIHost      string  `yaml:"api_host"`
	APIToken     string  `yaml:"api_token"`
	AccountToken string  `yaml:"account_token"`
	RateLimit    float64 `yaml:"rate_limit"` // 每秒请求数，0 表示不限
}

// Load 加载配置：YAML 文件（可选）→ .env（可选）→ 环境变量
func Load(configFile string) (*Config, error) {
	// 尝试加载 .env 文件（可选）
	_ = godotenv.Load()

	cfg := defaults()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	cfg.ServerPort = getEnv("PORT", cfg.ServerPort)
	cfg.Debug = getEnvBool("DEBUG", cfg.Debug)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.LockTTL = getEnvDuration("LOCK_TTL", cfg.LockTTL)
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.AuthTimeout = getEnvDuration("AUTH_TIMEOUT", cfg.AuthTimeout)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", cfg.SyncInterval)
	cfg.CredentialFile = getEnv("CREDENTIAL_FILE", cfg.CredentialFile)

	cfg.Smartcar.ClientID = getEnv("SMARTCAR_CLIENT_ID", cfg.Smartcar.ClientID)
	cfg.Smartcar.ClientSecret = getEnv("SMARTCAR_CLIENT_SECRET", cfg.Smartcar.ClientSecret)
	cfg.Smartcar.RedirectURI = getEnv("REDIRECT_URI", cfg.Smartcar.RedirectURI)
	cfg.Smartcar.AuthURL = getEnv("SMARTCAR_AUTH_URL", cfg.Smartcar.AuthURL)
	cfg.Smartcar.TokenURL = getEnv("SMARTCAR_TOKEN_URL", cfg.Smartcar.TokenURL)
	cfg.Smartcar.APIHost = getEnv("SMARTCAR_API_HOST", cfg.Smartcar.APIHost)

	cfg.Fleetio.APIHost = getEnv("FLEETIO_API_HOST", cfg.Fleetio.APIHost)
	cfg.Fleetio.APIToken = getEnv("FLEETIO_API_TOKEN", cfg.Fleetio.APIToken)
	cfg.Fleetio.AccountToken = getEnv("FLEETIO_ACCOUNT_TOKEN", cfg.Fleetio.AccountToken)
	cfg.Fleetio.RateLimit = getEnvFloat("FLEETIO_RATE_LIMIT", cfg.Fleetio.RateLimit)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerPort:     "4000",
		LockTTL:        30 * time.Minute,
		HTTPTimeout:    30 * time.Second,
		AuthTimeout:    10 * time.Minute,
		SyncInterval:   24 * time.Hour,
		CredentialFile: ".env",
		Smartcar: SmartcarConfig{
			AuthURL:  "https://connect.smartcar.com/oauth/authorize",
			TokenURL: "https://auth.smartcar.com/oauth/token",
			APIHost:  "https://api.smartcar.com/v1.0",
		},
		Fleetio: FleetioConfig{
			APIHost:   "https://secure.fleetio.com/api/v1",
			RateLimit: 5,
		},
	}
}

// Validate 检查必填配置
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Smartcar.ClientID) == "" {
		missing = append(missing, "SMARTCAR_CLIENT_ID")
	}
	if strings.TrimSpace(c.Smartcar.ClientSecret) == "" {
		missing = append(missing, "SMARTCAR_CLIENT_SECRET")
	}
	if strings.TrimSpace(c.Smartcar.RedirectURI) == "" {
		missing = append(missing, "REDIRECT_URI")
	}
	if strings.TrimSpace(c.Fleetio.APIToken) == "" {
		missing = append(missing, "FLEETIO_API_TOKEN")
	}
	if strings.TrimSpace(c.Fleetio.AccountToken) == "" {
		missing = append(missing, "FLEETIO_ACCOUNT_TOKEN")
	}
	if len(missing) > 0 {
		return errors.New("missing required config: " + strings.Join(missing, ", "))
	}
	if c.AuthTimeout <= 0 {
		return errors.New("AUTH_TIMEOUT must be positive")
	}
	if c.RedisAddr != "" && c.AuthTimeout >= c.LockTTL {
		return fmt.Errorf("AUTH_TIMEOUT (%s) must be shorter than LOCK_TTL (%s)", c.AuthTimeout, c.LockTTL)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
