package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// MaxUploadLimit is the largest accepted max-upload-bytes value.
const MaxUploadLimit = 64 << 20

// Config holds the application flags. Logging, tracing and profiling
// flags are registered by their own packages.
type Config struct {
	DrainSeconds           int
	ShutdownBudgetSeconds  int
	APIPort                int
	ClassifierURL          string
	ClassifyTimeoutSeconds int
	MaxInFlight            int
	StageDelayMS           int
	StageTailMS            int
	MaxUploadBytes         int64
	DatabaseURL            string
	SlackWebhookURL        string
	ClaudeAPIKey           string
	ClaudeModel            string
	APIToken               string
	TextColumn             string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 10, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 30, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClassifierURL, "classifier-url", "", "base URL of the classification service; also hosts the report, email and Slack actions")
	fs.IntVar(&c.ClassifyTimeoutSeconds, "classify-timeout-seconds", 30, "per-request classification timeout (1..300)")
	fs.IntVar(&c.MaxInFlight, "max-in-flight", 8, "maximum concurrent classification requests per batch (1..256)")
	fs.IntVar(&c.StageDelayMS, "stage-delay-ms", 1500, "milliseconds between workflow stages (0..60000, 0 = default)")
	fs.IntVar(&c.StageTailMS, "stage-tail-ms", 500, "milliseconds after the last stage before the workflow may complete (0..60000, 0 = default)")
	fs.Int64Var(&c.MaxUploadBytes, "max-upload-bytes", 4<<20, "maximum CSV upload size in bytes (1..64MiB)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory archive)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for urgent feedback digests (empty = disabled)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for local insight generation (empty = use the remote insights action)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model used for insights")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on action endpoints (empty = no auth)")
	fs.StringVar(&c.TextColumn, "text-column", "", "CSV header used as feedback text (empty = auto-detect)")
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

	if c.ClassifierURL == "" {
		errs = append(errs, errors.New("CLASSIFIER_URL is required"))
	} else if err := checkHTTPURL(c.ClassifierURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid CLASSIFIER_URL: %w", err))
	}
	if c.SlackWebhookURL != "" {
		if err := checkHTTPURL(c.SlackWebhookURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid SLACK_WEBHOOK_URL: %w", err))
		}
	}

	if c.ClassifyTimeoutSeconds <= 0 || c.ClassifyTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid CLASSIFY_TIMEOUT_SECONDS %d (must be 1..300)", c.ClassifyTimeoutSeconds))
	}
	if c.MaxInFlight <= 0 || c.MaxInFlight > 256 {
		errs = append(errs, fmt.Errorf("invalid MAX_IN_FLIGHT %d (must be 1..256)", c.MaxInFlight))
	}
	if c.StageDelayMS < 0 || c.StageDelayMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid STAGE_DELAY_MS %d (must be 0..60000)", c.StageDelayMS))
	}
	if c.StageTailMS < 0 || c.StageTailMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid STAGE_TAIL_MS %d (must be 0..60000)", c.StageTailMS))
	}
	if c.MaxUploadBytes <= 0 || c.MaxUploadBytes > MaxUploadLimit {
		errs = append(errs, fmt.Errorf("invalid MAX_UPLOAD_BYTES %d (must be 1..%d)", c.MaxUploadBytes, MaxUploadLimit))
	}

	// A key without a model cannot be used
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
