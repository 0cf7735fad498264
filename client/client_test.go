package client

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulb-darmstadt/sparql-acl/aclconfig"
	"github.com/ulb-darmstadt/sparql-acl/errs"
)

func newTestClient(retry aclconfig.RetryPolicy, breaker aclconfig.CircuitBreakerConfig) *HTTPClient {
	c := New(aclconfig.RDF{
		Endpoint: "http://fuseki.test",
		Dataset:  "ds",
		Auth:     &aclconfig.Auth{Username: "admin", Password: "secret"},
		Timeout:  aclconfig.Timeout{Default: 2 * time.Second},
		Retry:    retry,
		Breaker:  breaker,
	}, "X-Trace-Id")
	httpmock.ActivateNonDefault(c.httpClient)
	return c
}

func TestSelectSuccess(t *testing.T) {
	c := newTestClient(aclconfig.DefaultRetryPolicy(), aclconfig.DefaultCircuitBreakerConfig())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://fuseki.test/ds/query",
		httpmock.NewStringResponder(200, `{"head":{"vars":["s"]},"results":{"bindings":[]}}`))

	data, err := c.Select(context.Background(), "SELECT * WHERE { ?s ?p ?o }", CallOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(data), "bindings")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSelectRetriesOn503ThenSucceeds(t *testing.T) {
	c := newTestClient(aclconfig.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 0.01, BackoffMultiplier: 1}, aclconfig.DefaultCircuitBreakerConfig())
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, "http://fuseki.test/ds/query", func(req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return httpmock.NewStringResponse(503, "overloaded"), nil
		}
		return httpmock.NewStringResponse(200, `{"boolean":true}`), nil
	})

	data, err := c.Select(context.Background(), "ASK { ?s ?p ?o }", CallOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(data), "true")
	assert.Equal(t, 3, calls)
}

func TestSelectGivesUpAfterMaxAttempts(t *testing.T) {
	c := newTestClient(aclconfig.RetryPolicy{MaxAttempts: 2, BackoffSeconds: 0.01, BackoffMultiplier: 1}, aclconfig.DefaultCircuitBreakerConfig())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://fuseki.test/ds/query",
		httpmock.NewStringResponder(503, "overloaded"))

	_, err := c.Select(context.Background(), "ASK { ?s ?p ?o }", CallOptions{})
	require.Error(t, err)
	var aclErr *errs.Error
	require.ErrorAs(t, err, &aclErr)
	assert.Equal(t, errs.FusekiQueryError, aclErr.Kind)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestSelectDoesNotRetryOn400(t *testing.T) {
	c := newTestClient(aclconfig.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 0.01, BackoffMultiplier: 1}, aclconfig.DefaultCircuitBreakerConfig())
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://fuseki.test/ds/query",
		httpmock.NewStringResponder(400, "malformed query"))

	_, err := c.Select(context.Background(), "SELECT malformed", CallOptions{})
	require.Error(t, err)
	var aclErr *errs.Error
	require.ErrorAs(t, err, &aclErr)
	assert.Equal(t, errs.BadRequest, aclErr.Kind)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	c := newTestClient(
		aclconfig.RetryPolicy{MaxAttempts: 1, BackoffSeconds: 0.01, BackoffMultiplier: 1},
		aclconfig.CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour},
	)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "http://fuseki.test/ds/query",
		httpmock.NewStringResponder(503, "overloaded"))

	_, err := c.Select(context.Background(), "ASK { ?s ?p ?o }", CallOptions{})
	require.Error(t, err)
	_, err = c.Select(context.Background(), "ASK { ?s ?p ?o }", CallOptions{})
	require.Error(t, err)

	callsBeforeOpen := httpmock.GetTotalCallCount()
	_, err = c.Select(context.Background(), "ASK { ?s ?p ?o }", CallOptions{})
	require.Error(t, err)
	var aclErr *errs.Error
	require.ErrorAs(t, err, &aclErr)
	assert.Equal(t, errs.FusekiCircuitOpen, aclErr.Kind)
	assert.Equal(t, callsBeforeOpen, httpmock.GetTotalCallCount(), "breaker must short-circuit without hitting the transport")
}

func TestUpdateSendsBasicAuthAndTraceHeader(t *testing.T) {
	c := newTestClient(aclconfig.DefaultRetryPolicy(), aclconfig.DefaultCircuitBreakerConfig())
	defer httpmock.DeactivateAndReset()

	var gotAuth, gotTrace string
	httpmock.RegisterResponder(http.MethodPost, "http://fuseki.test/ds/update", func(req *http.Request) (*http.Response, error) {
		gotAuth = req.Header.Get("Authorization")
		gotTrace = req.Header.Get("X-Trace-Id")
		return httpmock.NewStringResponse(200, ""), nil
	})

	err := c.Update(context.Background(), "INSERT DATA { GRAPH <g> { <s> <p> <o> } }", CallOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Basic YWRtaW46c2VjcmV0", gotAuth)
	assert.NotEmpty(t, gotTrace)
}

func TestHealthUsesAskQuery(t *testing.T) {
	c := newTestClient(aclconfig.DefaultRetryPolicy(), aclconfig.DefaultCircuitBreakerConfig())
	defer httpmock.DeactivateAndReset()

	var gotBody, gotContentType string
	httpmock.RegisterResponder(http.MethodPost, "http://fuseki.test/ds/query", func(req *http.Request) (*http.Response, error) {
		body, _ := io.ReadAll(req.Body)
		gotBody = string(body)
		gotContentType = req.Header.Get("Content-Type")
		return httpmock.NewStringResponse(200, `{"boolean":true}`), nil
	})

	require.NoError(t, c.Health(context.Background()))
	assert.Contains(t, gotBody, "ASK")
	assert.Equal(t, "application/sparql-query", gotContentType)
}

func TestUpdateUsesCallerSuppliedTraceID(t *testing.T) {
	c := newTestClient(aclconfig.DefaultRetryPolicy(), aclconfig.DefaultCircuitBreakerConfig())
	defer httpmock.DeactivateAndReset()

	var gotTrace string
	httpmock.RegisterResponder(http.MethodPost, "http://fuseki.test/ds/update", func(req *http.Request) (*http.Response, error) {
		gotTrace = req.Header.Get("X-Trace-Id")
		return httpmock.NewStringResponse(200, ""), nil
	})

	err := c.Update(context.Background(), "INSERT DATA { GRAPH <g> { <s> <p> <o> } }", CallOptions{TraceID: "caller-trace-42"})
	require.NoError(t, err)
	assert.Equal(t, "caller-trace-42", gotTrace)
}

func TestEffectiveTimeoutClampsToConfiguredMax(t *testing.T) {
	c := New(aclconfig.RDF{
		Endpoint: "http://fuseki.test",
		Dataset:  "ds",
		Timeout:  aclconfig.Timeout{Default: 2 * time.Second, Max: 5 * time.Second},
		Retry:    aclconfig.DefaultRetryPolicy(),
		Breaker:  aclconfig.DefaultCircuitBreakerConfig(),
	}, "X-Trace-Id")

	assert.Equal(t, 5*time.Second, c.effectiveTimeout(30*time.Second))
	assert.Equal(t, 3*time.Second, c.effectiveTimeout(3*time.Second))
	assert.Equal(t, 2*time.Second, c.effectiveTimeout(0))
}
