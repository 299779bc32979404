// Package apiclient implements the retrying HTTP client the agent uses to
// talk to the control service (spec component C2). The retry contract —
// indefinite retry on 502, capped-with-jitter retry on other failures,
// terminal stop on 401/403 — is ported from the teacher's api.Client,
// generalized from Buildkite's job-dispatch endpoints to the boxci
// endpoints in spec.md §6, and driven by github.com/buildkite/roko the
// same way agent/agent_worker.go drives its own heartbeat/job-acceptance
// retries.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/boxci-run/agent/internal/alog"
	"github.com/buildkite/roko"
)

const (
	defaultRetryPeriod     = 5 * time.Second
	defaultMaxRetries      = 10
	serviceDownRetryPeriod = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	Endpoint   string // base URL, e.g. https://control.boxci.example/v1
	ProjectID  string
	AccessKey  string
	HTTPClient *http.Client
	Logger     alog.Logger

	// OnConnecting/OnDoneConnecting are fired (once, idempotently) around a
	// retry cycle to drive a "reconnecting" UI indication.
	OnConnecting     func()
	OnDoneConnecting func()
}

// Client is a retrying JSON-over-HTTP client for the control service.
type Client struct {
	conf Config
	http *http.Client
}

// New returns a new Client.
func New(conf Config) *Client {
	if conf.HTTPClient == nil {
		conf.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{conf: conf, http: conf.HTTPClient}
}

// CallOptions overrides the default retry behaviour for a single call.
type CallOptions struct {
	RetryPeriod time.Duration
	MaxRetries  int
}

func (o CallOptions) withDefaults() CallOptions {
	if o.RetryPeriod <= 0 {
		o.RetryPeriod = defaultRetryPeriod
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

// Do POSTs body (JSON-encoded) to path and decodes the JSON response into
// out (which may be nil). It implements spec.md §4.2's retry contract.
func (c *Client) Do(ctx context.Context, path string, body any, out any, opts CallOptions) error {
	opts = opts.withDefaults()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("apiclient: marshal request for %s: %w", path, err)
	}

	connectingFired := false
	fireConnecting := func() {
		if !connectingFired && c.conf.OnConnecting != nil {
			c.conf.OnConnecting()
		}
		connectingFired = true
	}
	defer func() {
		if connectingFired && c.conf.OnDoneConnecting != nil {
			c.conf.OnDoneConnecting()
		}
	}()

	// 502s retry indefinitely and must never exhaust the retrier, so the
	// retrier itself is given an effectively unbounded attempt count; our
	// own retryCount enforces opts.MaxRetries for every other failure kind
	// by calling r.Break() once the budget is spent.
	retryCount := 0
	r := roko.NewRetrier(
		roko.WithMaxAttempts(1<<30),
		roko.WithStrategy(roko.Constant(opts.RetryPeriod)),
		roko.WithJitter(),
	)

	respBody, _, err := roko.DoFunc(ctx, r, func(r *roko.Retrier) ([]byte, int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Endpoint+path, bytes.NewReader(payload))
		if err != nil {
			r.Break()
			return nil, 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("project-id", c.conf.ProjectID)
		req.Header.Set("access-key", c.conf.AccessKey)
		req.Header.Set("retry-count", fmt.Sprintf("%d", retryCount))

		resp, err := c.http.Do(req)
		if err != nil {
			if !isRetryableError(err) {
				r.Break()
				return nil, 0, err
			}
			retryCount++
			if retryCount > opts.MaxRetries {
				r.Break()
			}
			c.logf("transient error calling %s, retrying: %v", path, err)
			fireConnecting()
			return nil, 0, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			retryCount++
			if retryCount > opts.MaxRetries {
				r.Break()
			}
			return nil, resp.StatusCode, err
		}

		switch {
		case resp.StatusCode < 400:
			return data, resp.StatusCode, nil

		case resp.StatusCode == http.StatusUnauthorized:
			r.Break()
			return nil, resp.StatusCode, &FatalAuthError{StatusCode: resp.StatusCode, Reason: "invalid-creds"}

		case resp.StatusCode == http.StatusForbidden:
			r.Break()
			return nil, resp.StatusCode, &FatalAuthError{StatusCode: resp.StatusCode, Reason: "invalid-config"}

		case resp.StatusCode == http.StatusBadGateway:
			// Indefinite retry at a slow, fixed cadence; does not consume
			// the call's ordinary retry budget.
			fireConnecting()
			c.logf("%s: service unavailable (502), reconnecting in %s", path, serviceDownRetryPeriod)
			r.SetNextInterval(serviceDownRetryPeriod)
			return nil, resp.StatusCode, errServiceDown

		default:
			retryCount++
			if retryCount > opts.MaxRetries {
				r.Break()
			}
			fireConnecting()
			c.logf("%s: unexpected status %d, retrying", path, resp.StatusCode)
			return nil, resp.StatusCode, fmt.Errorf("apiclient: unexpected status %d from %s", resp.StatusCode, path)
		}
	})

	if err != nil {
		var fatal *FatalAuthError
		if asFatalAuth(err, &fatal) {
			return fatal
		}
		return &TransportExhaustedError{Path: path, Last: err}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("apiclient: decode response from %s: %w", path, err)
		}
	}
	return nil
}

func (c *Client) logf(format string, v ...any) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn(format, v...)
	}
}

func asFatalAuth(err error, target **FatalAuthError) bool {
	fa, ok := err.(*FatalAuthError)
	if ok {
		*target = fa
	}
	return ok
}
