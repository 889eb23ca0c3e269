package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	UserHeader            string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	SQLitePath            string
	Product               string
	ReviewURL             string
	CatalogFile           string
	SlackWebhookURL       string
	SlackAllReasons       bool
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests")
	fs.StringVar(&c.UserHeader, "user-header", "X-User-Id", "request header carrying the acting user ID")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (takes precedence over redis and sqlite)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address host:port (used when no database-url is set)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis logical database (0..15)")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "", "SQLite database file (used when neither postgres nor redis is set; empty = in-memory store)")
	fs.StringVar(&c.Product, "product", "", "product name shown in prompt messages")
	fs.StringVar(&c.ReviewURL, "review-url", "", "URL the prompt links to")
	fs.StringVar(&c.CatalogFile, "catalog-file", "", "YAML file with additional trigger groups")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for dismissal notifications")
	fs.BoolVar(&c.SlackAllReasons, "slack-all-reasons", false, "also notify Slack about maybe_later dismissals")
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

	// API token guards every prompt endpoint
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	if strings.TrimSpace(c.UserHeader) == "" {
		errs = append(errs, errors.New("USER_HEADER is required"))
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be 0..15)", c.RedisDB))
	}

	if c.ReviewURL != "" && !isHTTPURL(c.ReviewURL) {
		errs = append(errs, fmt.Errorf("invalid REVIEW_URL %q (must be an absolute http(s) URL)", c.ReviewURL))
	}
	if c.SlackWebhookURL != "" && !isHTTPURL(c.SlackWebhookURL) {
		errs = append(errs, errors.New("invalid SLACK_WEBHOOK_URL (must be an absolute http(s) URL)"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
