package config

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const defaultSecret = "your-secret-key-change-in-production"

// 存储类型
const (
	StorageLocal    = "localstorage"
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config 应用配置
type Config struct {
	Env       string
	AppSecret string
	Port      string
	SiteName  string
	SiteUrl   string
	JWTExpiry time.Duration

	// 站长凭据，仅来自环境变量
	OwnerUsername string
	AuthPassword  string

	StorageType string
	RedisURL    string
	DatabaseURL string

	SourcesFile    string
	CacheTime      time.Duration
	MaxSearchPages int
	SearchTimeout  time.Duration

	EnableRegister       bool
	LegacyBearerUsername bool
	LoginRatePerMin      int
}

// Load 加载配置（环境变量优先，其次默认值）
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		v.GetString("DB_USER"), v.GetString("DB_PASSWORD"), v.GetString("DB_HOST"),
		v.GetString("DB_PORT"), v.GetString("DB_NAME"), v.GetString("DB_SSLMODE"))
	if url := v.GetString("DATABASE_URL"); url != "" {
		dbURL = url
	}

	appSecret := v.GetString("APP_SECRET")
	if v.GetString("APP_ENV") == "production" && appSecret == defaultSecret {
		log.Warn("【严重警告】生产环境正在使用默认密钥！请立即设置 APP_SECRET 环境变量。")
	}

	cfg := &Config{
		Env:                  v.GetString("APP_ENV"),
		AppSecret:            appSecret,
		Port:                 v.GetString("PORT"),
		SiteName:             v.GetString("SITE_NAME"),
		SiteUrl:              v.GetString("SITE_URL"),
		JWTExpiry:            time.Duration(v.GetInt("JWT_EXPIRY_HOURS")) * time.Hour,
		OwnerUsername:        v.GetString("USERNAME"),
		AuthPassword:         v.GetString("AUTH_PASSWORD"),
		StorageType:          strings.ToLower(v.GetString("STORAGE_TYPE")),
		RedisURL:             v.GetString("REDIS_URL"),
		DatabaseURL:          dbURL,
		SourcesFile:          v.GetString("SOURCES_FILE"),
		CacheTime:            time.Duration(v.GetInt("CACHE_TIME")) * time.Second,
		MaxSearchPages:       v.GetInt("MAX_SEARCH_PAGES"),
		SearchTimeout:        v.GetDuration("SEARCH_TIMEOUT"),
		EnableRegister:       v.GetBool("ENABLE_REGISTER"),
		LegacyBearerUsername: v.GetBool("LEGACY_BEARER_USERNAME"),
		LoginRatePerMin:      v.GetInt("LOGIN_RATE_PER_MIN"),
	}

	switch cfg.StorageType {
	case StorageLocal, StorageMemory, StorageRedis, StoragePostgres:
	default:
		log.Warnf("[Config] 未知的 STORAGE_TYPE=%q，回退为 %s", cfg.StorageType, StorageLocal)
		cfg.StorageType = StorageLocal
	}
	if cfg.MaxSearchPages < 1 {
		cfg.MaxSearchPages = 1
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_SECRET", defaultSecret)
	v.SetDefault("PORT", "3000")
	v.SetDefault("SITE_NAME", "KatelyaTV")
	v.SetDefault("SITE_URL", "http://localhost:3000")
	v.SetDefault("JWT_EXPIRY_HOURS", 168)

	v.SetDefault("USERNAME", "")
	v.SetDefault("AUTH_PASSWORD", "")

	v.SetDefault("STORAGE_TYPE", StorageLocal)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "katelyatv")
	v.SetDefault("DB_SSLMODE", "disable")

	v.SetDefault("SOURCES_FILE", "config.json")
	v.SetDefault("CACHE_TIME", 7200)
	v.SetDefault("MAX_SEARCH_PAGES", 5)
	v.SetDefault("SEARCH_TIMEOUT", "10s")

	v.SetDefault("ENABLE_REGISTER", false)
	v.SetDefault("LEGACY_BEARER_USERNAME", true)
	v.SetDefault("LOGIN_RATE_PER_MIN", 10)
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasServerAccounts 是否启用服务端账户体系（localstorage 模式仅校验访问密码）
func (c *Config) HasServerAccounts() bool {
	return c.StorageType != StorageLocal
}
