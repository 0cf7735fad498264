// Package client implements the resilient HTTP client of spec §4.8: a
// SPARQL 1.1 Protocol client with configurable timeout, retry-with-backoff
// and a circuit breaker, plus an in-memory test double (see package
// inmemory) implementing the same capability-set interface, per spec §9.
//
// Grounded on the teacher's sparql/base.go (queryDataset/updateDataset -
// POST bodies, Accept/Content-Type headers, basic-auth header
// construction, generalized here to the raw application/sparql-query and
// application/sparql-update content types spec §6 mandates rather than
// the teacher's form-encoded bodies) and internetofwater-nabu's
// internal/common/http_client.go RetryTransport (retry/backoff shape,
// generalized here into a context-aware, config-driven retry loop rather
// than a fixed RoundTripper).
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ulb-darmstadt/sparql-acl/aclconfig"
	"github.com/ulb-darmstadt/sparql-acl/errs"
)

// CallOptions carries the optional per-call overrides spec §6 names on
// select/construct/update: an explicit timeout (still bounded by
// cfg.Timeout.Max) and a caller-supplied trace id that, when set, is
// attached to the outbound request instead of a freshly minted one.
type CallOptions struct {
	Timeout time.Duration
	TraceID string
}

// RDFClient is the capability set the rest of the ACL depends on, per
// spec §9: select/construct/update against the store plus a health
// check. There are two implementations: HTTPClient (this package) and
// the in-memory fake in package inmemory, used by tests that do not want
// a live Fuseki.
type RDFClient interface {
	Select(ctx context.Context, query string, opts CallOptions) ([]byte, error)
	Construct(ctx context.Context, query string, opts CallOptions) ([]byte, error)
	Update(ctx context.Context, update string, opts CallOptions) error
	Health(ctx context.Context) error
}

// HTTPClient is the production RDFClient, talking SPARQL 1.1 Protocol
// over HTTP to a Fuseki-compatible store.
type HTTPClient struct {
	httpClient  *http.Client
	cfg         aclconfig.RDF
	traceHeader string
	breaker     *circuitBreaker
}

// New builds an HTTPClient from cfg. traceHeader names the request header
// a trace id is attached under (spec §6), typically cfg.Security.TraceHeader
// from the enclosing aclconfig.Config.
func New(cfg aclconfig.RDF, traceHeader string) *HTTPClient {
	timeout := cfg.Timeout.Default
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		httpClient:  &http.Client{Timeout: timeout},
		cfg:         cfg,
		traceHeader: traceHeader,
		breaker:     newCircuitBreaker(cfg.Breaker),
	}
}

func (c *HTTPClient) authHeader() string {
	if c.cfg.Auth == nil {
		return ""
	}
	raw := fmt.Sprintf("%s:%s", c.cfg.Auth.Username, c.cfg.Auth.Password)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Select issues a SPARQL SELECT query and returns the raw
// application/sparql-results+json response body, per spec §6.
func (c *HTTPClient) Select(ctx context.Context, query string, opts CallOptions) ([]byte, error) {
	return c.doWithResilience(ctx, c.datasetURL("query"), query, "application/sparql-query", "application/sparql-results+json", opts)
}

// Construct issues a SPARQL CONSTRUCT query and returns the raw Turtle
// response body, per spec §6.
func (c *HTTPClient) Construct(ctx context.Context, query string, opts CallOptions) ([]byte, error) {
	return c.doWithResilience(ctx, c.datasetURL("query"), query, "application/sparql-query", "text/turtle", opts)
}

// Update issues a SPARQL Update request, per spec §6.
func (c *HTTPClient) Update(ctx context.Context, update string, opts CallOptions) error {
	_, err := c.doWithResilience(ctx, c.datasetURL("update"), update, "application/sparql-update", "", opts)
	return err
}

// Health issues a cheap ASK query against the dataset, per spec §6's
// health-check convention (grounded on the teacher's own ASK-based
// checkGraphExists idiom in sparql/base.go).
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.Select(ctx, "ASK { ?s ?p ?o }", CallOptions{})
	return err
}

// datasetURL builds "{endpoint}/{dataset}/{suffix}", per spec §6's
// default dataset-endpoint path convention.
func (c *HTTPClient) datasetURL(suffix string) string {
	base := strings.TrimSuffix(c.cfg.Endpoint, "/")
	return fmt.Sprintf("%s/%s/%s", base, c.cfg.Dataset, suffix)
}

// effectiveTimeout resolves spec §6's "resolve effective timeout (<=
// max_timeout)": requested (if set) or the configured default, clamped to
// cfg.Timeout.Max when a ceiling is configured.
func (c *HTTPClient) effectiveTimeout(requested time.Duration) time.Duration {
	effective := c.cfg.Timeout.Default
	if effective <= 0 {
		effective = 10 * time.Second
	}
	if requested > 0 {
		effective = requested
	}
	if max := c.cfg.Timeout.Max; max > 0 && effective > max {
		effective = max
	}
	return effective
}

// doWithResilience applies the circuit breaker and retry-with-backoff
// policy of spec §4.8 around a single SPARQL Protocol POST, whose body is
// the raw query/update text under the given contentType (spec §6: no
// form-encoding, the whole request body is the SPARQL text). Each attempt
// runs under a fresh per-call timeout derived from opts and bounded by
// cfg.Timeout.Max, and carries opts.TraceID (or a freshly minted one) on
// the configured trace header.
func (c *HTTPClient) doWithResilience(ctx context.Context, endpoint, body, contentType, accept string, opts CallOptions) ([]byte, error) {
	traceID := opts.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	timeout := c.effectiveTimeout(opts.Timeout)

	policy := c.cfg.Retry
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !c.breaker.allow(time.Now()) {
			return nil, errs.New(errs.FusekiCircuitOpen, "circuit breaker open for %s", endpoint).WithTraceID(traceID)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		data, status, err := c.doOnce(attemptCtx, endpoint, body, contentType, accept, traceID)
		cancel()
		if err == nil && status >= 200 && status < 300 {
			c.breaker.recordSuccess()
			return data, nil
		}

		isTimeout := isTimeoutErr(err)
		c.breaker.recordFailure(time.Now(), isTimeout)

		if err != nil {
			lastErr = errs.Wrap(errs.FusekiConnectError, err, "request to %s failed", endpoint).WithTraceID(traceID)
		} else {
			lastErr = errs.FromHTTPStatus(status, string(data)).WithTraceID(traceID)
		}

		retryable := err != nil || isRetryableStatus(status, policy.RetryableStatusCodes)
		if !retryable || attempt == maxAttempts-1 {
			break
		}
		if sleepErr := sleepBackoff(ctx, policy, attempt); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) doOnce(ctx context.Context, endpoint, body, contentType, accept, traceID string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", contentType)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if auth := c.authHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if c.traceHeader != "" {
		req.Header.Set(c.traceHeader, traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return data, resp.StatusCode, nil
}

// sleepBackoff waits the configured exponential backoff (with jitter)
// before the next retry attempt, returning early if ctx is cancelled.
func sleepBackoff(ctx context.Context, policy aclconfig.RetryPolicy, attempt int) error {
	backoff := policy.BackoffSeconds * math.Pow(policy.BackoffMultiplier, float64(attempt))
	if policy.JitterSeconds > 0 {
		backoff += rand.Float64() * policy.JitterSeconds
	}
	timer := time.NewTimer(time.Duration(backoff * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.Unexpected, ctx.Err(), "request cancelled during retry backoff")
	case <-timer.C:
		return nil
	}
}

// isRetryableStatus reports whether status is retryable, per spec §4.8:
// the default set (429, 502, 503, 504) unless the retry policy overrides
// it with an explicit RetryableStatusCodes list.
func isRetryableStatus(status int, overrides []int) bool {
	if len(overrides) > 0 {
		for _, s := range overrides {
			if s == status {
				return true
			}
		}
		return false
	}
	return errs.IsRetryableStatus(status)
}

// isTimeoutErr mirrors internetofwater-nabu's RetryTransport timeout
// detection: a net.Error whose Timeout() reports true.
func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
