package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hitoshi/campusboard/internal/masking"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Masking
	// MaskingKey は内部IDを外部トークンに変換する鍵。MASKING_KEY（16進32文字）から生成する。
	MaskingKey *masking.Key

	// Content limits
	PostsPageSize   int
	PostMaxSize     int
	CommentMaxSize  int
	CommentMaxDepth int

	// Transaction retry
	PostCreateMaxAttempts int
	TxMaxAttempts         int

	// Thread sampling
	ThreadPageSize        int
	ThreadMaxPerExpansion int
	ThreadMinGuaranteed   int
	ThreadSamplingK       float64
	ThreadMaxExpanded     int

	// Rate Limit
	RateLimitVote int // 1ユーザーあたりの投票数/分

	// Audit
	AuditInterval  time.Duration
	AuditBatchSize int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、またはMASKING_KEYが不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	rawKey := os.Getenv("MASKING_KEY")
	if rawKey == "" {
		missing = append(missing, "MASKING_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	key, err := masking.ParseHexKey(rawKey)
	if err != nil {
		return nil, fmt.Errorf("invalid MASKING_KEY: %w", err)
	}
	cfg.MaskingKey = key

	// Optional fields with defaults
	cfg.PostsPageSize = getEnvInt("POSTS_PAGE_SIZE", 5)
	cfg.PostMaxSize = getEnvInt("POST_MAX_SIZE", 1000)
	cfg.CommentMaxSize = getEnvInt("COMMENT_MAX_SIZE", 500)
	cfg.CommentMaxDepth = getEnvInt("COMMENT_MAX_DEPTH", 8)
	cfg.PostCreateMaxAttempts = getEnvInt("POST_CREATE_MAX_ATTEMPTS", 100)
	cfg.TxMaxAttempts = getEnvInt("TX_MAX_ATTEMPTS", 8)
	cfg.ThreadPageSize = getEnvInt("THREAD_PAGE_SIZE", 5)
	cfg.ThreadMaxPerExpansion = getEnvInt("THREAD_MAX_PER_EXPANSION", 5)
	cfg.ThreadMinGuaranteed = getEnvInt("THREAD_MIN_GUARANTEED", 3)
	cfg.ThreadSamplingK = getEnvFloat("THREAD_SAMPLING_K", 2)
	cfg.ThreadMaxExpanded = getEnvInt("THREAD_MAX_EXPANDED", 30)
	cfg.RateLimitVote = getEnvInt("RATE_LIMIT_VOTE", 30)
	cfg.AuditInterval = getEnvDuration("AUDIT_INTERVAL", time.Hour)
	cfg.AuditBatchSize = getEnvInt("AUDIT_BATCH_SIZE", 100)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
