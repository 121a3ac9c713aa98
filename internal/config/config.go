package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// セッションストアのバックエンド。
const (
	SessionBackendMemory   = "memory"
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort        string
	CORSAllowedOrigin string
	TrustProxyHeaders bool
	LogLevel          string

	// Session store
	SessionBackend         string
	RedisURL               string
	DatabaseURL            string
	SessionCleanupInterval time.Duration

	// NEAR
	NearRPCURL               string
	NearVerificationContract string
	NearRPCTimeout           time.Duration

	// Celo / Self
	CeloRPCURLs     []string
	SelfHubAddress  string
	ZKVerifyTimeout time.Duration

	// Signature
	SignatureCheckKeyOwnership bool
	SignatureRecipient         string

	// Listing
	ListingCacheTTL       time.Duration
	ListingCacheSize      int
	ListingMaxConcurrency int

	// Rate Limit（req/min/IP）
	RateLimitStatus   int
	RateLimitSession  int
	RateLimitAccounts int

	// Auth
	WebhookSecret string
	AdminAPIKey   string

	// Events
	NATSURL string

	// Sanitizing
	MaxMessageLength int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定のものをまとめてエラーで返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string

	cfg.NearVerificationContract = os.Getenv("NEAR_VERIFICATION_CONTRACT")
	if cfg.NearVerificationContract == "" {
		missing = append(missing, "NEAR_VERIFICATION_CONTRACT")
	}

	cfg.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	if cfg.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}

	cfg.SessionBackend = strings.ToLower(getEnvString("SESSION_BACKEND", SessionBackendRedis))
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	switch cfg.SessionBackend {
	case SessionBackendRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case SessionBackendPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case SessionBackendMemory:
	default:
		return nil, fmt.Errorf("SESSION_BACKEND must be one of memory, redis, postgres: %q", cfg.SessionBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)

	cfg.NearRPCURL = getEnvString("NEAR_RPC_URL", "https://rpc.mainnet.near.org")
	cfg.NearRPCTimeout = getEnvDuration("NEAR_RPC_TIMEOUT", 10*time.Second)

	cfg.CeloRPCURLs = getEnvList("CELO_RPC_URLS", nil)
	cfg.SelfHubAddress = getEnvString("SELF_HUB_ADDRESS", "")
	cfg.ZKVerifyTimeout = getEnvDuration("ZK_VERIFY_TIMEOUT", 10*time.Second)

	cfg.SignatureCheckKeyOwnership = getEnvBool("SIGNATURE_CHECK_KEY_OWNERSHIP", false)
	cfg.SignatureRecipient = getEnvString("SIGNATURE_RECIPIENT", cfg.NearVerificationContract)

	cfg.ListingCacheTTL = getEnvDuration("LISTING_CACHE_TTL", 60*time.Second)
	cfg.ListingCacheSize = getEnvInt("LISTING_CACHE_SIZE", 256)
	cfg.ListingMaxConcurrency = getEnvInt("LISTING_MAX_CONCURRENCY", 8)

	cfg.RateLimitStatus = getEnvInt("RATE_LIMIT_STATUS", 60)
	cfg.RateLimitSession = getEnvInt("RATE_LIMIT_SESSION", 10)
	cfg.RateLimitAccounts = getEnvInt("RATE_LIMIT_ACCOUNTS", 30)

	cfg.AdminAPIKey = getEnvString("ADMIN_API_KEY", "")
	cfg.NATSURL = getEnvString("NATS_URL", "")
	cfg.MaxMessageLength = getEnvInt("MAX_MESSAGE_LENGTH", 256)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を読む。空要素は捨てる。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
