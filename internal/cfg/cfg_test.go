package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		ServiceName:           "casewise",
		ClaudeAPIKey:          "sk-test-key",
		ClaudeModel:           "claude-sonnet-4-20250514",
		LLMTimeoutSeconds:     60,
		DBMaxConns:            10,
		LokiLookbackHours:     168,
		AnalyzeRate:           2,
		AnalyzeBurst:          5,
		HistorySize:           100,
	}
}

func with(mut func(*Config)) Config {
	c := validBase()
	mut(&c)
	return c
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	want := validBase()
	want.ClaudeAPIKey = ""
	want.CORSOrigins = "http://localhost:3000"
	want.LokiLabel = "account_id"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-claude-api-key", "sk-override",
		"-claude-model", "claude-opus-4-20250514",
		"-llm-timeout-seconds", "15",
		"-api-token", "tok",
		"-cors-origins", "https://a.example, https://b.example",
		"-loki-endpoint", "http://loki:3100",
		"-analyze-rate", "0.5",
		"-history-size", "250",
		"-seed-file", "/etc/casewise/seed.yaml",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 || c.ShutdownBudgetSeconds != 120 || c.APIPort != 9090 {
		t.Errorf("budgets/port = %d/%d/%d", c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort)
	}
	if c.ClaudeAPIKey != "sk-override" || c.ClaudeModel != "claude-opus-4-20250514" {
		t.Errorf("claude = %q/%q", c.ClaudeAPIKey, c.ClaudeModel)
	}
	if c.LLMTimeoutSeconds != 15 {
		t.Errorf("LLMTimeoutSeconds = %d, want 15", c.LLMTimeoutSeconds)
	}
	if c.APIToken != "tok" {
		t.Errorf("APIToken = %q", c.APIToken)
	}
	if c.LokiEndpoint != "http://loki:3100" {
		t.Errorf("LokiEndpoint = %q", c.LokiEndpoint)
	}
	if c.AnalyzeRate != 0.5 || c.HistorySize != 250 {
		t.Errorf("rate/history = %v/%d", c.AnalyzeRate, c.HistorySize)
	}
	if c.SeedFile != "/etc/casewise/seed.yaml" {
		t.Errorf("SeedFile = %q", c.SeedFile)
	}
	if diff := cmp.Diff([]string{"https://a.example", "https://b.example"}, c.Origins()); diff != "" {
		t.Errorf("Origins mismatch (-want +got):\n%s", diff)
	}
}

func TestOrigins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" , ", nil},
		{"http://localhost:3000", []string{"http://localhost:3000"}},
		{"*", []string{"*"}},
		{"a, ,b,", []string{"a", "b"}},
	}
	for _, tt := range tests {
		c := Config{CORSOrigins: tt.in}
		if diff := cmp.Diff(tt.want, c.Origins()); diff != "" {
			t.Errorf("Origins(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.LLMTimeoutSeconds, c.DBMaxConns, c.LokiLookbackHours, c.HistorySize = 1, 1, 1, 1
			}),
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.LLMTimeoutSeconds, c.DBMaxConns, c.LokiLookbackHours, c.HistorySize = 600, 100, 8760, 10000
			}),
			wantErr: false,
		},
		{
			name:    "rate limiting disabled",
			cfg:     with(func(c *Config) { c.AnalyzeRate, c.AnalyzeBurst = 0, 0 }),
			wantErr: false,
		},
		{
			name:    "loki endpoint set",
			cfg:     with(func(c *Config) { c.LokiEndpoint = "https://loki.internal:3100" }),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		// Cross-field: budget vs drain
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		{
			name:    "budget is drain plus one",
			cfg:     with(func(c *Config) { c.ShutdownBudgetSeconds = 61 }),
			wantErr: false,
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// String fields
		{
			name:      "blank service name",
			cfg:       with(func(c *Config) { c.ServiceName = "  " }),
			wantErr:   true,
			errSubstr: []string{"SERVICE_NAME"},
		},
		{
			name:      "empty claude api key",
			cfg:       with(func(c *Config) { c.ClaudeAPIKey = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_API_KEY"},
		},
		{
			name:      "empty claude model",
			cfg:       with(func(c *Config) { c.ClaudeModel = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "relative loki endpoint",
			cfg:       with(func(c *Config) { c.LokiEndpoint = "loki:3100/x" }),
			wantErr:   true,
			errSubstr: []string{"LOKI_ENDPOINT"},
		},
		// Numeric ranges
		{
			name:      "llm timeout zero",
			cfg:       with(func(c *Config) { c.LLMTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"LLM_TIMEOUT_SECONDS"},
		},
		{
			name:      "db max conns above max",
			cfg:       with(func(c *Config) { c.DBMaxConns = 101 }),
			wantErr:   true,
			errSubstr: []string{"DB_MAX_CONNS"},
		},
		{
			name:      "loki lookback zero",
			cfg:       with(func(c *Config) { c.LokiLookbackHours = 0 }),
			wantErr:   true,
			errSubstr: []string{"LOKI_LOOKBACK_HOURS"},
		},
		{
			name:      "negative rate",
			cfg:       with(func(c *Config) { c.AnalyzeRate = -1 }),
			wantErr:   true,
			errSubstr: []string{"ANALYZE_RATE"},
		},
		{
			name:      "NaN rate",
			cfg:       with(func(c *Config) { c.AnalyzeRate = math.NaN() }),
			wantErr:   true,
			errSubstr: []string{"ANALYZE_RATE"},
		},
		{
			name:      "rate without burst",
			cfg:       with(func(c *Config) { c.AnalyzeBurst = 0 }),
			wantErr:   true,
			errSubstr: []string{"ANALYZE_BURST"},
		},
		{
			name:      "history size zero",
			cfg:       with(func(c *Config) { c.HistorySize = 0 }),
			wantErr:   true,
			errSubstr: []string{"HISTORY_SIZE"},
		},
		// Error accumulation: all fields invalid
		{
			name:    "all fields invalid",
			cfg:     Config{AnalyzeRate: -1},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "SERVICE_NAME",
				"CLAUDE_API_KEY", "CLAUDE_MODEL", "LLM_TIMEOUT_SECONDS", "DB_MAX_CONNS",
				"LOKI_LOOKBACK_HOURS", "ANALYZE_RATE", "HISTORY_SIZE",
			},
		},
		// Extreme values
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, history int
		key, model                   string
	}{
		{60, 90, 8080, 100, "sk-test", "claude-sonnet"},
		{1, 2, 1, 1, "k", "m"},
		{299, 300, 65535, 10000, "k", "m"},
		{0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, "", ""},
		{300, 300, 65535, 10001, "k", "m"},
		{150, 100, 8080, 100, "k", "m"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.history, s.key, s.model)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, history int, key, model string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.HistorySize = history
		c.ClaudeAPIKey = key
		c.ClaudeModel = model
		err := c.Validate()

		drainOK := drain >= 1 && drain <= 300
		budgetOK := budget >= 1 && budget <= 300
		portOK := port >= 1 && port <= 65535
		historyOK := history >= 1 && history <= 10000
		crossOK := budget > drain
		keyOK := key != ""
		modelOK := model != ""

		allValid := drainOK && budgetOK && portOK && historyOK && crossOK && keyOK && modelOK

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
