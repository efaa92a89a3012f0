package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Ledger  LedgerConfig
	Session SessionConfig
	Request RequestConfig
	Server  ServerConfig
	Alert   AlertConfig
	Log     LogConfig
}

type LedgerConfig struct {
	RPCURL          string
	ContractAddress string
	UserAddress     string
	StartBlock      int64
	RPCRateLimit    float64
	RPCRateBurst    int

	// SignerURL points at the external wallet sidecar that signs outbound
	// transactions. Empty runs the session read-only.
	SignerURL string
}

type SessionConfig struct {
	// ConversationReadsEnabled selects the merge strategy: authoritative
	// conversation snapshots when true, event-sourced otherwise.
	ConversationReadsEnabled bool

	PollInterval time.Duration

	// ConfirmSettleDelay is how long a confirmed pending message stays
	// visible after confirmation, giving the authoritative refresh time to
	// land before the optimistic entry disappears.
	ConfirmSettleDelay time.Duration

	// BalanceOverrideTTL is how long an optimistic balance override holds
	// before deferring to the authoritative value again.
	BalanceOverrideTTL time.Duration
}

type RequestConfig struct {
	Model             string
	MaxHistoryEntries int
	MaxEntryLength    int
}

type ServerConfig struct {
	MetricsPort int
}

type AlertConfig struct {
	WebhookURL string
	Cooldown   time.Duration
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Ledger: LedgerConfig{
			RPCURL:          getEnv("LEDGER_RPC_URL", "https://evmrpc-testnet.0g.ai"),
			ContractAddress: getEnv("CHAT_ORACLE_ADDRESS", ""),
			UserAddress:     getEnv("USER_ADDRESS", ""),
			StartBlock:      int64(getEnvInt("LEDGER_START_BLOCK", 0)),
			RPCRateLimit:    getEnvFloat("RPC_RATE_LIMIT", 10),
			RPCRateBurst:    getEnvInt("RPC_RATE_BURST", 20),
			SignerURL:       getEnv("SIGNER_URL", ""),
		},
		Session: SessionConfig{
			ConversationReadsEnabled: getEnvBool("CONVERSATION_READS_ENABLED", true),
			PollInterval:             time.Duration(getEnvInt("RESPONSE_POLL_INTERVAL_MS", 5000)) * time.Millisecond,
			ConfirmSettleDelay:       time.Duration(getEnvInt("CONFIRM_SETTLE_DELAY_MS", 2000)) * time.Millisecond,
			BalanceOverrideTTL:       time.Duration(getEnvInt("BALANCE_OVERRIDE_TTL_MS", 5000)) * time.Millisecond,
		},
		Request: RequestConfig{
			Model:             getEnv("AI_MODEL", "gpt-4o-search-preview"),
			MaxHistoryEntries: getEnvInt("MAX_HISTORY_ENTRIES", 20),
			MaxEntryLength:    getEnvInt("MAX_ENTRY_LENGTH", 4000),
		},
		Server: ServerConfig{
			MetricsPort: getEnvInt("METRICS_PORT", 9090),
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:   time.Duration(getEnvInt("ALERT_COOLDOWN_MS", 60000)) * time.Millisecond,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("LEDGER_RPC_URL is required")
	}
	if c.Ledger.ContractAddress == "" {
		return fmt.Errorf("CHAT_ORACLE_ADDRESS is required")
	}
	if c.Ledger.UserAddress == "" {
		return fmt.Errorf("USER_ADDRESS is required")
	}
	if c.Session.PollInterval <= 0 {
		return fmt.Errorf("RESPONSE_POLL_INTERVAL_MS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
