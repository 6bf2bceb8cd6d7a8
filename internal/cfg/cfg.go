package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ServiceName           string
	ClaudeAPIKey          string
	ClaudeModel           string
	LLMTimeoutSeconds     int
	DatabaseURL           string
	DBMaxConns            int
	SlackWebhookURL       string
	APIToken              string
	CORSOrigins           string
	LokiEndpoint          string
	LokiTenantID          string
	LokiLabel             string
	LokiLookbackHours     int
	AnalyzeRate           float64
	AnalyzeBurst          int
	HistorySize           int
	SeedFile              string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ServiceName, "service-name", "casewise", "service name reported by health and stats endpoints")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 60, "per-call timeout for LLM requests (1..600)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for tickets (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 10, "maximum PostgreSQL pool connections (1..100)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for ticket analysis notifications")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (empty = no auth)")
	fs.StringVar(&c.CORSOrigins, "cors-origins", "http://localhost:3000", "comma-separated origins allowed by CORS (empty = CORS disabled)")
	fs.StringVar(&c.LokiEndpoint, "loki-endpoint", "", "Loki endpoint for account log lookups (empty = seeded logs)")
	fs.StringVar(&c.LokiTenantID, "loki-tenant-id", "", "Loki tenant ID for multi-tenant setups")
	fs.StringVar(&c.LokiLabel, "loki-label", "account_id", "Loki stream label holding the account identifier")
	fs.IntVar(&c.LokiLookbackHours, "loki-lookback-hours", 168, "how far back account log lookups search (1..8760)")
	fs.Float64Var(&c.AnalyzeRate, "analyze-rate", 2, "sustained analysis requests per second (0 = unlimited)")
	fs.IntVar(&c.AnalyzeBurst, "analyze-burst", 5, "analysis request burst size")
	fs.IntVar(&c.HistorySize, "history-size", 100, "number of analysis requests kept in history (1..10000)")
	fs.StringVar(&c.SeedFile, "seed-file", "", "YAML file with accounts and KB articles (empty = embedded seed)")
}

// Origins returns the configured CORS origins, trimmed and without empties.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if strings.TrimSpace(c.ServiceName) == "" {
		errs = append(errs, errors.New("SERVICE_NAME is required"))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.LLMTimeoutSeconds <= 0 || c.LLMTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..600)", c.LLMTimeoutSeconds))
	}

	if c.DBMaxConns <= 0 || c.DBMaxConns > 100 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 1..100)", c.DBMaxConns))
	}

	if c.LokiEndpoint != "" {
		if u, err := url.Parse(c.LokiEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid LOKI_ENDPOINT %q (must be an absolute URL)", c.LokiEndpoint))
		}
	}
	if c.LokiLookbackHours <= 0 || c.LokiLookbackHours > 8760 {
		errs = append(errs, fmt.Errorf("invalid LOKI_LOOKBACK_HOURS %d (must be 1..8760)", c.LokiLookbackHours))
	}

	// A zero rate disables limiting; a positive rate needs a usable burst.
	if c.AnalyzeRate < 0 || c.AnalyzeRate != c.AnalyzeRate {
		errs = append(errs, fmt.Errorf("invalid ANALYZE_RATE %v (must be >= 0)", c.AnalyzeRate))
	}
	if c.AnalyzeRate > 0 && c.AnalyzeBurst <= 0 {
		errs = append(errs, fmt.Errorf("invalid ANALYZE_BURST %d (must be >= 1 when ANALYZE_RATE is set)", c.AnalyzeBurst))
	}

	if c.HistorySize <= 0 || c.HistorySize > 10000 {
		errs = append(errs, fmt.Errorf("invalid HISTORY_SIZE %d (must be 1..10000)", c.HistorySize))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
