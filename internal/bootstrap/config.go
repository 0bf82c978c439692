package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// 存储后端
const (
	StoreBackendMySQL = "mysql"
	StoreBackendRedis = "redis"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	AppEnv     string // development / production
	LogLevel   string
	ServerPort string

	StoreBackend string // mysql / redis
	StoreTimeout time.Duration

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	ReconcileSchedule string
	RateLimitMax      int
	RateLimitWindow   time.Duration
	CORSAllowedOrigin string
}

// LoadConfig 从环境变量加载配置，.env 文件存在时先加载它。
// 非法值回退到默认值并记录警告。
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:            envOr("APP_ENV", "development"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		ServerPort:        envOr("SERVER_PORT", "8080"),
		StoreBackend:      envOr("STORE_BACKEND", StoreBackendMySQL),
		StoreTimeout:      envDuration("STORE_TIMEOUT", 5*time.Second),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            os.Getenv("DB_PORT"),
		DBName:            os.Getenv("DB_NAME"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		KeyPrefix:         envOr("REDIS_KEY_PREFIX", "wb:"),
		ReconcileSchedule: envOr("RECONCILE_SCHEDULE", "@every 5m"),
		RateLimitMax:      envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Second),
		CORSAllowedOrigin: envOr("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	switch cfg.StoreBackend {
	case StoreBackendMySQL:
		if cfg.DBUser == "" {
			return nil, fmt.Errorf("environment variable DB_USER must be set when STORE_BACKEND=%s", StoreBackendMySQL)
		}
	case StoreBackendRedis:
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q (want %s or %s)", cfg.StoreBackend, StoreBackendMySQL, StoreBackendRedis)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitMax <= 0 {
		logrus.Warnf("Invalid RATE_LIMIT_MAX %d, using default 100", cfg.RateLimitMax)
		cfg.RateLimitMax = 100
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logrus.Warnf("Invalid %s '%s', using default %s", key, v, def)
		return def
	}
	return d
}
