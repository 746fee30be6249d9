package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the token market.
type Config struct {
	Port               int
	LogLevel           string
	ExpirationInterval time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration

	// DatabaseURL selects the PostgreSQL store; empty keeps everything in
	// memory.
	DatabaseURL string

	// LedgerURL selects the HTTP ledger gateway; empty runs the in-process
	// simulator, which hands every new account LedgerSimBalance of each asset.
	LedgerURL        string
	LedgerTimeout    time.Duration
	LedgerSimBalance decimal.Decimal
	CheckHoldings    bool

	PlatformAccount     string
	PlatformFeeRate     decimal.Decimal
	BuyerFeeShare       decimal.Decimal
	MinFee              decimal.Decimal
	MaxFee              decimal.Decimal // zero means uncapped
	SupportedCurrencies []string
	CASRetries          int
	// OperatorAccounts may execute trades they are not a party to.
	OperatorAccounts []string

	StatsTTL       time.Duration
	StatsCacheSize int
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	expirationInterval, err := getPositiveDuration("EXPIRATION_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, err
	}
	readTimeout, err := getPositiveDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := getPositiveDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	idleTimeout, err := getPositiveDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := getPositiveDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	ledgerTimeout, err := getPositiveDuration("LEDGER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	statsTTL, err := getPositiveDuration("STATS_TTL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	simBalance, err := getDecimal("LEDGER_SIM_BALANCE", decimal.NewFromInt(1_000_000))
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_SIM_BALANCE: %w", err)
	}
	if simBalance.IsNegative() {
		return nil, fmt.Errorf("invalid LEDGER_SIM_BALANCE: must be >= 0")
	}

	checkHoldings, err := getBool("CHECK_HOLDINGS", true)
	if err != nil {
		return nil, fmt.Errorf("invalid CHECK_HOLDINGS: %w", err)
	}

	platformAccount := strings.TrimSpace(getStr("PLATFORM_ACCOUNT", "platform"))
	if platformAccount == "" {
		return nil, fmt.Errorf("invalid PLATFORM_ACCOUNT: must not be blank")
	}

	feeRate, err := getDecimal("PLATFORM_FEE_RATE", decimal.RequireFromString("0.025"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLATFORM_FEE_RATE: %w", err)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invalid PLATFORM_FEE_RATE: %s, must be in [0, 1)", feeRate)
	}

	buyerShare, err := getDecimal("BUYER_FEE_SHARE", decimal.RequireFromString("0.5"))
	if err != nil {
		return nil, fmt.Errorf("invalid BUYER_FEE_SHARE: %w", err)
	}
	if buyerShare.IsNegative() || buyerShare.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("invalid BUYER_FEE_SHARE: %s, must be in [0, 1]", buyerShare)
	}

	minFee, err := getDecimal("MIN_FEE", decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_FEE: %w", err)
	}
	maxFee, err := getDecimal("MAX_FEE", decimal.Zero)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_FEE: %w", err)
	}
	if minFee.IsNegative() || maxFee.IsNegative() {
		return nil, fmt.Errorf("invalid fee bounds: MIN_FEE and MAX_FEE must be >= 0")
	}
	if !maxFee.IsZero() && maxFee.LessThan(minFee) {
		return nil, fmt.Errorf("invalid fee bounds: MAX_FEE %s is below MIN_FEE %s", maxFee, minFee)
	}

	currencies := getList("SUPPORTED_CURRENCIES", []string{"USD", "EUR", "GBP", "USDC"})
	for i, c := range currencies {
		currencies[i] = strings.ToUpper(c)
	}
	if len(currencies) == 0 {
		return nil, fmt.Errorf("invalid SUPPORTED_CURRENCIES: at least one currency is required")
	}

	casRetries, err := getInt("CAS_RETRIES", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid CAS_RETRIES: %w", err)
	}
	if casRetries < 1 {
		return nil, fmt.Errorf("invalid CAS_RETRIES: %d, must be >= 1", casRetries)
	}

	statsCacheSize, err := getInt("STATS_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_CACHE_SIZE: %w", err)
	}
	if statsCacheSize < 1 {
		return nil, fmt.Errorf("invalid STATS_CACHE_SIZE: %d, must be >= 1", statsCacheSize)
	}

	return &Config{
		Port:                port,
		LogLevel:            logLevel,
		ExpirationInterval:  expirationInterval,
		ReadTimeout:         readTimeout,
		WriteTimeout:        writeTimeout,
		IdleTimeout:         idleTimeout,
		ShutdownTimeout:     shutdownTimeout,
		DatabaseURL:         getStr("DATABASE_URL", ""),
		LedgerURL:           getStr("LEDGER_URL", ""),
		LedgerTimeout:       ledgerTimeout,
		LedgerSimBalance:    simBalance,
		CheckHoldings:       checkHoldings,
		PlatformAccount:     platformAccount,
		PlatformFeeRate:     feeRate,
		BuyerFeeShare:       buyerShare,
		MinFee:              minFee,
		MaxFee:              maxFee,
		SupportedCurrencies: currencies,
		CASRetries:          casRetries,
		OperatorAccounts:    getList("OPERATOR_ACCOUNTS", nil),
		StatsTTL:            statsTTL,
		StatsCacheSize:      statsCacheSize,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: %s, must be positive", key, d)
	}
	return d, nil
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	return decimal.NewFromString(v)
}

// getList splits a comma-separated value, dropping empty items.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
