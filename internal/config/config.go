// Package config provides configuration management functionality.
//
// Configuration is loaded once at process start from environment variables
// (optionally seeded by a .env file); there is no settings-database override
// layer here — every operator-tunable knob is an environment variable with
// a documented default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aristath/oracle-arb/internal/utils"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// VenueCredential holds per-venue API credentials. String masks the secret
// so credentials never appear verbatim in logs.
type VenueCredential struct {
	APIKey    string
	APISecret string
}

func (c VenueCredential) String() string {
	key := c.APIKey
	if len(key) > 4 {
		key = key[:4] + "…"
	} else if key != "" {
		key = "…"
	}
	secretSet := "unset"
	if c.APISecret != "" {
		secretSet = "set"
	}
	return fmt.Sprintf("VenueCredential{key=%s, secret=%s}", key, secretSet)
}

// Config holds application configuration.
type Config struct {
	DataDir  string // base directory for the SQLite database file
	DBPath   string // resolved path to the bus/persistence database
	LogLevel string // debug, info, warn, error
	DevMode  bool   // pretty console logging when true
	HTTPPort int    // dashboard snapshot API port

	PaperTrading bool // when false, the live executor path is used

	InitialBankroll     decimal.Decimal
	PositionLimitPct    decimal.Decimal
	PlatformLimitPct    decimal.Decimal
	DailyLossLimitPct   decimal.Decimal
	DrawdownLimitPct    decimal.Decimal
	MinProfitThreshold  decimal.Decimal
	MinEdgePct          decimal.Decimal
	MinSignalStrength   decimal.Decimal

	MinAllocationPct        decimal.Decimal
	MaxAllocationPct        decimal.Decimal
	RebalanceIntervalTrades int

	// CircuitBreakerFloorPct disables execution when current_value falls
	// below this fraction of initial_bankroll, independent of drawdown halt.
	CircuitBreakerFloorPct decimal.Decimal

	ActiveVenues  []string
	ActiveOracles []string
	Credentials   map[string]VenueCredential

	BackupEnabled  bool
	BackupBucket   string
	BackupEndpoint string
	BackupInterval int // minutes
}

// Load reads configuration from environment variables.
//
// dataDirOverride optionally overrides ORACLE_ARB_DATA_DIR (e.g. a CLI flag).
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("ORACLE_ARB_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		DBPath:   filepath.Join(absDataDir, "oracle-arb.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		HTTPPort: getEnvAsInt("HTTP_PORT", 8090),

		PaperTrading: getEnvAsBool("PAPER_TRADING", true),

		InitialBankroll:    getEnvAsDecimal("INITIAL_BANKROLL", decimal.NewFromInt(500)),
		PositionLimitPct:   getEnvAsDecimal("POSITION_LIMIT_PCT", decimal.NewFromFloat(0.10)),
		PlatformLimitPct:   getEnvAsDecimal("PLATFORM_LIMIT_PCT", decimal.NewFromFloat(0.50)),
		DailyLossLimitPct:  getEnvAsDecimal("DAILY_LOSS_LIMIT_PCT", decimal.NewFromFloat(0.10)),
		DrawdownLimitPct:   getEnvAsDecimal("DRAWDOWN_LIMIT_PCT", decimal.NewFromFloat(0.20)),
		MinProfitThreshold: getEnvAsDecimal("MIN_PROFIT_THRESHOLD", decimal.NewFromFloat(0.05)),
		MinEdgePct:         getEnvAsDecimal("MIN_EDGE_PCT", decimal.NewFromFloat(0.02)),
		MinSignalStrength:  getEnvAsDecimal("MIN_SIGNAL_STRENGTH", decimal.NewFromFloat(0.50)),

		MinAllocationPct:        getEnvAsDecimal("MIN_ALLOCATION_PCT", decimal.NewFromFloat(0.05)),
		MaxAllocationPct:        getEnvAsDecimal("MAX_ALLOCATION_PCT", decimal.NewFromFloat(0.60)),
		RebalanceIntervalTrades: getEnvAsInt("REBALANCE_INTERVAL_TRADES", 10),

		CircuitBreakerFloorPct: getEnvAsDecimal("CIRCUIT_BREAKER_FLOOR_PCT", decimal.NewFromFloat(0.25)),

		ActiveVenues:  utils.ParseCSV(getEnv("ACTIVE_VENUES", "polymarket,kalshi")),
		ActiveOracles: utils.ParseCSV(getEnv("ACTIVE_ORACLES", "binance,fred")),
		Credentials:   loadCredentials(),

		BackupEnabled:  getEnvAsBool("BACKUP_ENABLED", false),
		BackupBucket:   getEnv("BACKUP_BUCKET", ""),
		BackupEndpoint: getEnv("BACKUP_ENDPOINT", ""),
		BackupInterval: getEnvAsInt("BACKUP_INTERVAL_MINUTES", 60),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks basic configuration sanity.
func (c *Config) Validate() error {
	if c.InitialBankroll.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("initial bankroll must be positive, got %s", c.InitialBankroll)
	}
	if c.MinAllocationPct.GreaterThan(c.MaxAllocationPct) {
		return fmt.Errorf("min_allocation_pct (%s) cannot exceed max_allocation_pct (%s)", c.MinAllocationPct, c.MaxAllocationPct)
	}
	return nil
}

// loadCredentials builds per-venue credential bundles from
// `{VENUE}_API_KEY` / `{VENUE}_API_SECRET` environment variables, e.g.
// POLYMARKET_API_KEY, KALSHI_API_SECRET.
func loadCredentials() map[string]VenueCredential {
	creds := make(map[string]VenueCredential)
	for _, venue := range []string{"polymarket", "kalshi"} {
		prefix := fmt.Sprintf("%s_", venue)
		key := getEnv(envName(prefix+"api_key"), "")
		secret := getEnv(envName(prefix+"api_secret"), "")
		if key != "" || secret != "" {
			creds[venue] = VenueCredential{APIKey: key, APISecret: secret}
		}
	}
	return creds
}

func envName(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b >= 'a' && b <= 'z' {
			b = b - 'a' + 'A'
		}
		out = append(out, b)
	}
	return string(out)
}

// ==========================================
// Helper Functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
