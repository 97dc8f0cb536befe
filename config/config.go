package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"sjsage522/cardledger/pkg/errors"
)

// DefaultUserAgent is sent when CM_USER_AGENT is not set. The marketplace may bind a
// cookie to the browser that created it, so users supplying a cookie should set their own.
const DefaultUserAgent = "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36"

// Config represents the application configuration
type Config struct {
	// Credentials, tried in this order
	Cookie    string
	SessionID string
	Username  string
	Password  string
	LoginCSRF bool

	// Marketplace
	UserAgent     string
	BaseURL       string
	HomePath      string
	PurchasesPath string
	SalesPath     string
	SessionMarker string

	// Run selection, normally set from CLI flags
	Year             int
	IncludePurchases bool
	IncludeSales     bool

	// Crawler configuration
	PageDelay         time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	DebugDumpFile     string

	// Storage
	LedgerFile string
	HistoryDB  string

	// Memcache configuration
	MemcacheAddr string
	BlockTime    time.Duration

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Environment
	Environment string

	// invalid holds the numeric settings that failed to parse
	invalid []error
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() *Config {
	var invalid []error
	redisDB := envInt("REDIS_DB", 0, &invalid)
	redisStreamCount := envInt("REDIS_STREAM_COUNT", 1, &invalid)
	redisStreamMaxLength := envInt("REDIS_STREAM_MAX_LENGTH", 1000, &invalid)
	pageDelay := envFloat("PAGE_DELAY_SECONDS", 2, &invalid)
	requestTimeout := envInt("REQUEST_TIMEOUT_SECONDS", 15, &invalid)
	requestsPerSecond := envFloat("REQUESTS_PER_SECOND", 0, &invalid)
	blockSeconds := envInt("BLOCK_SECONDS", 900, &invalid)
	loginCSRF, err := strconv.ParseBool(getEnv("CM_LOGIN_CSRF", "true"))
	if err != nil {
		loginCSRF = true
	}

	return &Config{
		Cookie:               strings.TrimSpace(os.Getenv("CM_COOKIE")),
		SessionID:            strings.TrimSpace(os.Getenv("CM_PHPSESSID")),
		Username:             strings.TrimSpace(os.Getenv("CM_USERNAME")),
		Password:             os.Getenv("CM_PASSWORD"),
		LoginCSRF:            loginCSRF,
		UserAgent:            getEnv("CM_USER_AGENT", DefaultUserAgent),
		BaseURL:              strings.TrimRight(getEnv("CM_BASE_URL", "https://www.cardmarket.com"), "/"),
		HomePath:             getEnv("CM_HOME_PATH", "/en/Magic"),
		PurchasesPath:        getEnv("CM_PURCHASES_PATH", "/en/Magic/Orders/Received"),
		SalesPath:            getEnv("CM_SALES_PATH", "/en/Magic/Sales/Sent"),
		SessionMarker:        getEnv("CM_SESSION_MARKER", "Logout"),
		PageDelay:            time.Duration(pageDelay * float64(time.Second)),
		RequestTimeout:       time.Duration(requestTimeout) * time.Second,
		RequestsPerSecond:    requestsPerSecond,
		DebugDumpFile:        lookupEnv("DEBUG_DUMP_FILE", "debug_fail.html"),
		LedgerFile:           getEnv("LEDGER_FILE", "cardmarket_export.csv"),
		HistoryDB:            lookupEnv("HISTORY_DB", "cardledger_history.db"),
		MemcacheAddr:         os.Getenv("MEMCACHE_ADDR"),
		BlockTime:            time.Duration(blockSeconds) * time.Second,
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisDB:              redisDB,
		RedisStream:          getEnv("REDIS_STREAM", "cardledger:orders"),
		RedisStreamCount:     redisStreamCount,
		RedisStreamMaxLength: redisStreamMaxLength,
		Environment:          getEnv("CARDLEDGER_ENVIRONMENT", "development"),
		invalid:              invalid,
	}
}

// Validate checks that a run can be attempted with this configuration
func (c *Config) Validate() error {
	if len(c.invalid) > 0 {
		return errors.NewConfiguration("invalid numeric setting", c.invalid[0])
	}
	if c.Cookie == "" && c.SessionID == "" && (c.Username == "" || c.Password == "") {
		return errors.NewConfiguration("no credentials: set CM_COOKIE, CM_PHPSESSID or CM_USERNAME and CM_PASSWORD", nil)
	}
	if !c.IncludePurchases && !c.IncludeSales {
		return errors.NewConfiguration("no section selected: use --include-purchases and/or --include-sales", nil)
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return errors.NewConfiguration("invalid CM_BASE_URL", err)
	}
	if c.RequestTimeout <= 0 {
		return errors.NewConfiguration("REQUEST_TIMEOUT_SECONDS must be positive", nil)
	}
	if c.PageDelay < 0 {
		return errors.NewConfiguration("PAGE_DELAY_SECONDS must not be negative", nil)
	}
	if c.Year != 0 && (c.Year < 2000 || c.Year > 2999) {
		return errors.NewConfiguration(fmt.Sprintf("year %d out of range", c.Year), nil)
	}
	if c.LedgerFile == "" {
		return errors.NewConfiguration("LEDGER_FILE must not be empty", nil)
	}
	if c.RequestsPerSecond < 0 {
		return errors.NewConfiguration("REQUESTS_PER_SECOND must not be negative", nil)
	}
	if c.BlockTime < 0 {
		return errors.NewConfiguration("BLOCK_SECONDS must not be negative", nil)
	}
	if c.RedisAddr != "" && c.RedisStreamCount < 1 {
		return errors.NewConfiguration("REDIS_STREAM_COUNT must be at least 1", nil)
	}
	return nil
}

// Cutoff returns the start of the configured year, or the zero time when no year is set.
func (c *Config) Cutoff() time.Time {
	if c.Year == 0 {
		return time.Time{}
	}
	return time.Date(c.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// HomeURL is the landing page used as Referer and for the liveness probe
func (c *Config) HomeURL() string {
	return c.BaseURL + c.HomePath
}

// PurchasesURL is the listing of received orders
func (c *Config) PurchasesURL() string {
	return c.BaseURL + c.PurchasesPath
}

// SalesURL is the listing of sent orders
func (c *Config) SalesURL() string {
	return c.BaseURL + c.SalesPath
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// envInt parses an integer variable. A malformed value is recorded in invalid
// and the default is used.
func envInt(key string, defaultValue int, invalid *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		*invalid = append(*invalid, fmt.Errorf("%s=%q is not an integer", key, value))
		return defaultValue
	}
	return n
}

// envFloat is envInt for decimal values
func envFloat(key string, defaultValue float64, invalid *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		*invalid = append(*invalid, fmt.Errorf("%s=%q is not a number", key, value))
		return defaultValue
	}
	return f
}

// lookupEnv is like getEnv but keeps an explicitly empty value, which disables the feature
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
