// Package config provides configuration management for the verification service.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultUserAgents is the pool a browser session draws its user agent from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Config holds all configuration for the verification service.
type Config struct {
	// Server settings
	Port           int
	LogLevel       string
	IPRateLimit    int // requests per minute per client IP, 0 disables
	HandlerTimeout time.Duration
	IdleTimeout    time.Duration // 0 disables idle shutdown

	// Admission control
	RateLimitPerMinute    int
	RateLimitPerHour      int
	MaxConcurrentRequests int

	// Browser settings
	ChromePath      string
	UserAgents      []string
	Headless        bool
	RequestTimeout  time.Duration
	PageLoadTimeout time.Duration
	RetryCount      int
	RetryDelay      time.Duration
	SettleDelay     time.Duration
	RandomDelayMin  time.Duration
	RandomDelayMax  time.Duration

	// Reply collection
	CommentScrollAttempts int
	CommentScrollPause    time.Duration

	// Target platform
	BaseURL  string
	LoginURL string

	// Credentials and session persistence
	CookieFilePath    string
	SessionValidity   time.Duration
	AutoLoginEnabled  bool
	AccountUsername   string
	AccountPassword   string
	LoginMaxAttempts  int
	LoginRetryBackoff time.Duration
	LoginSettleDelay  time.Duration

	// Authentication
	APIKey               string
	APIKeysFile          string
	APIKeysS3Key         string
	JWTSecret            string
	AllowUnauthenticated bool

	// S3 (API key list)
	S3Bucket          string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string

	// Audit history
	AuditDBPath    string
	AuditRetention time.Duration
}

// Load creates a Config from environment variables with sensible defaults.
func Load() *Config {
	cookieFile := getEnv("COOKIE_FILE_PATH", filepath.Join("data", "cookies", "x_cookies.enc"))

	return &Config{
		Port:           getEnvInt("PORT", 5000),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		IPRateLimit:    getEnvInt("IP_RATE_LIMIT", 120),
		HandlerTimeout: getEnvDuration("HANDLER_TIMEOUT", 3*time.Minute),
		IdleTimeout:    getEnvDuration("IDLE_TIMEOUT", 0),

		RateLimitPerMinute:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		RateLimitPerHour:      getEnvInt("RATE_LIMIT_PER_HOUR", 1000),
		MaxConcurrentRequests: getEnvInt("MAX_CONCURRENT_REQUESTS", 5),

		ChromePath:      getEnv("CHROME_PATH", ""),
		UserAgents:      getEnvList("USER_AGENTS", DefaultUserAgents),
		Headless:        getEnvBool("HEADLESS", true),
		RequestTimeout:  getEnvSeconds("REQUEST_TIMEOUT", 10*time.Second),
		PageLoadTimeout: getEnvSeconds("PAGE_LOAD_TIMEOUT", 15*time.Second),
		RetryCount:      getEnvInt("RETRY_COUNT", 3),
		RetryDelay:      getEnvSeconds("RETRY_DELAY", 2*time.Second),
		SettleDelay:     getEnvDuration("SETTLE_DELAY", 2*time.Second),
		RandomDelayMin:  getEnvDuration("RANDOM_DELAY_MIN", 2*time.Second),
		RandomDelayMax:  getEnvDuration("RANDOM_DELAY_MAX", 4*time.Second),

		CommentScrollAttempts: getEnvInt("COMMENT_SCROLL_ATTEMPTS", 5),
		CommentScrollPause:    getEnvDuration("COMMENT_SCROLL_PAUSE", 2*time.Second),

		BaseURL:  strings.TrimSuffix(getEnv("X_BASE_URL", "https://x.com"), "/"),
		LoginURL: getEnv("X_LOGIN_URL", "https://x.com/i/flow/login"),

		CookieFilePath:    cookieFile,
		SessionValidity:   time.Duration(getEnvInt("SESSION_VALIDITY_HOURS", 24)) * time.Hour,
		AutoLoginEnabled:  getEnvBool("AUTO_LOGIN_ENABLED", false),
		AccountUsername:   getEnv("X_USERNAME", ""),
		AccountPassword:   getSecret("X_PASSWORD"),
		LoginMaxAttempts:  getEnvInt("LOGIN_MAX_ATTEMPTS", 2),
		LoginRetryBackoff: getEnvDuration("LOGIN_RETRY_BACKOFF", 10*time.Second),
		LoginSettleDelay:  getEnvDuration("LOGIN_SETTLE_DELAY", 5*time.Second),

		APIKey:               getEnv("API_KEY", ""),
		APIKeysFile:          getEnv("API_KEYS_FILE", filepath.Join(filepath.Dir(cookieFile), "api_keys.txt")),
		APIKeysS3Key:         getEnv("API_KEYS_S3_KEY", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		AllowUnauthenticated: getEnvBool("ALLOW_UNAUTHENTICATED", false),

		S3Bucket:          getEnv("BUCKET_NAME", ""),
		S3Endpoint:        getEnv("AWS_ENDPOINT_URL_S3", ""),
		S3Region:          getEnv("AWS_REGION", "auto"),
		S3AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		AuditDBPath:    getEnv("AUDIT_DB_PATH", ""),
		AuditRetention: getEnvDuration("AUDIT_RETENTION", 7*24*time.Hour),
	}
}

// CanAutoLogin reports whether the automatic login sub-protocol may run.
func (c *Config) CanAutoLogin() bool {
	return c.AutoLoginEnabled && c.AccountUsername != "" && c.AccountPassword != ""
}

// KeyFilePath returns the cookie encryption key location, beside the cookie file.
func (c *Config) KeyFilePath() string {
	return filepath.Join(filepath.Dir(c.CookieFilePath), "encryption.key")
}

// ValidityFilePath returns the session validity sidecar location.
func (c *Config) ValidityFilePath() string {
	return filepath.Join(filepath.Dir(c.CookieFilePath), "session_validity.json")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getSecret reads KEY, falling back to the file named by KEY_FILE.
func getSecret(key string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvSeconds accepts either a Go duration or a bare number of seconds.
func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
