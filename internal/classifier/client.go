// Package classifier calls the remote classification API and normalizes its
// responses into feedback.Result values.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/feedforward/internal/feedback"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxInFlight = 8

	// maxResponseBytes caps how much of a classify response is read.
	maxResponseBytes = 1 << 20
)

// Hooks receives per-call observations. Nil fields are skipped.
type Hooks struct {
	OnCall     func(outcome string, duration float64)
	OnInFlight func(delta int)
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each classify request. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxInFlight bounds concurrent requests in ClassifyBatch. Zero means
	// DefaultMaxInFlight.
	MaxInFlight int

	// HTTPClient overrides the default otelhttp-instrumented client.
	HTTPClient *http.Client

	// Preprocess rewrites text before it is sent. Results always carry the
	// original text. An empty rewrite falls back to the original.
	Preprocess func(string) string

	Logger log.Logger
	Hooks  Hooks
}

// Client classifies feedback text against GET {base}/classify?text=.
type Client struct {
	base        *url.URL
	httpClient  *http.Client
	timeout     time.Duration
	maxInFlight int
	logger      log.Logger
	hooks       Hooks
	preprocess  func(string) string
}

// New creates a Client for the classification API rooted at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid classifier url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid classifier url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		base:        u,
		httpClient:  opts.HTTPClient,
		timeout:     opts.Timeout,
		maxInFlight: opts.MaxInFlight,
		logger:      opts.Logger,
		hooks:       opts.Hooks,
		preprocess:  opts.Preprocess,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxInFlight <= 0 {
		c.maxInFlight = DefaultMaxInFlight
	}
	if c.logger == nil {
		c.logger = log.Nop()
	}
	return c, nil
}

// response is the wire shape of the classify endpoint.
type response struct {
	Feedback       string          `json:"feedback"`
	Classification *classification `json:"classification"`
	Error          string          `json:"error"`
}

type classification struct {
	Urgency string `json:"urgency"`
	Impact  string `json:"impact"`
	Summary string `json:"summary"`
	Reason  string `json:"reason"`
	Error   string `json:"error"`
}

// Classify sends text to the classification API. Empty text is rejected
// with a feedback.ValidationError before any request. Any failure after
// that returns the sentinel result for text together with an error
// wrapping feedback.ErrNetwork, so callers that only need a result can
// ignore the error.
func (c *Client) Classify(ctx context.Context, text string) (feedback.Result, error) {
	if strings.TrimSpace(text) == "" {
		return feedback.Result{}, feedback.Invalid("please enter feedback")
	}

	start := time.Now()
	res, err := c.classify(ctx, text)
	outcome := "success"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		res = feedback.Sentinel(text)
		err = fmt.Errorf("%w: classify: %w", feedback.ErrNetwork, err)
	}
	if c.hooks.OnCall != nil {
		c.hooks.OnCall(outcome, time.Since(start).Seconds())
	}
	return res, err
}

func (c *Client) classify(ctx context.Context, text string) (feedback.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path = u.Path + "/classify"
	q := u.Query()
	q.Set("text", c.wireText(text))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return feedback.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // base url is from trusted config
	if err != nil {
		return feedback.Result{}, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return feedback.Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return feedback.Result{}, fmt.Errorf("classifier returned %d: %s", resp.StatusCode, snippet(body))
	}

	return decode(text, body)
}

// decode normalizes a classify response body for the given input text.
func decode(text string, body []byte) (feedback.Result, error) {
	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return feedback.Result{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Error != "" {
		return feedback.Result{}, fmt.Errorf("classifier error: %s", out.Error)
	}
	if out.Classification == nil {
		return feedback.Result{}, errors.New("response has no classification")
	}
	if out.Classification.Error != "" {
		return feedback.Result{}, fmt.Errorf("classifier error: %s", out.Classification.Error)
	}

	return feedback.Result{
		Feedback: text,
		Urgency:  category(out.Classification.Urgency),
		Impact:   category(out.Classification.Impact),
		Summary:  out.Classification.Summary,
		Reason:   out.Classification.Reason,
	}, nil
}

// category maps a wire value to a Category; missing or unknown values fall
// back to the default. A remote "error" label is not trusted as a sentinel.
func category(s string) feedback.Category {
	c, ok := feedback.ParseCategory(s)
	if !ok || c == feedback.Error {
		return feedback.DefaultCategory
	}
	return c
}

func (c *Client) wireText(text string) string {
	if c.preprocess == nil {
		return text
	}
	if p := c.preprocess(text); strings.TrimSpace(p) != "" {
		return p
	}
	return text
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
