package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/feedforward/internal/feedback"
)

const (
	remoteTimeout   = 30 * time.Second
	maxResponseBody = 1 << 20
)

// Remote is an action served by the backend at GET {base}/{name}, with its
// parameters passed in the query string.
type Remote struct {
	name       string
	desc       string
	params     []string
	base       string
	httpClient *http.Client
}

// NewRemote builds a Remote action. A nil client gets a default traced
// client with a 30s timeout.
func NewRemote(base, name, desc string, params []string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{
			Timeout:   remoteTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Remote{
		name:       name,
		desc:       desc,
		params:     params,
		base:       strings.TrimRight(base, "/"),
		httpClient: client,
	}
}

// GenerateReport asks the backend to write the weekly report.
func GenerateReport(base string, client *http.Client) *Remote {
	return NewRemote(base, "generate_report", "Generate the weekly feedback report on the backend.", nil, client)
}

// SendEmail asks the backend to email the report.
func SendEmail(base string, client *http.Client) *Remote {
	return NewRemote(base, "send_email", "Email the weekly report.",
		[]string{"sender_email", "sender_password", "recipient_email"}, client)
}

// SendSlack asks the backend to post the report to a Slack webhook.
func SendSlack(base string, client *http.Client) *Remote {
	return NewRemote(base, "send_slack", "Post the weekly report to Slack.", []string{"webhook_url"}, client)
}

// GenerateInsights asks the backend for an insight summary.
func GenerateInsights(base string, client *http.Client) *Remote {
	return NewRemote(base, "generate_insights", "Summarize themes across the current feedback.", nil, client)
}

func (r *Remote) Name() string        { return r.name }
func (r *Remote) Description() string { return r.desc }
func (r *Remote) Params() []string    { return r.params }

// Execute sends the declared params and decodes the reply. Undeclared
// params are not forwarded.
func (r *Remote) Execute(ctx context.Context, params map[string]string) (*Output, error) {
	if missing := Missing(r.params, params); len(missing) > 0 {
		return nil, feedback.Invalid(fmt.Sprintf("%s: missing %s", r.name, strings.Join(missing, ", ")))
	}

	u, err := url.Parse(r.base + "/" + r.name)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	for _, p := range r.params {
		q.Set(p, params[p])
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		// url.Error carries the query string, which can hold credentials.
		return nil, fmt.Errorf("%w: %s: request failed", feedback.ErrNetwork, r.name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read response: %w", feedback.ErrNetwork, r.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", feedback.ErrNetwork, r.name, resp.StatusCode, snippet(body))
	}

	var payload struct {
		Message string `json:"message"`
		File    string `json:"file"`
		Insight string `json:"insight"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %w", feedback.ErrNetwork, r.name, err)
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("%w: %s: %s", feedback.ErrNetwork, r.name, payload.Error)
	}

	return &Output{Message: payload.Message, File: payload.File, Insight: payload.Insight}, nil
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
