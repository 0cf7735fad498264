package aclconfig

import "time"

// Auth holds optional HTTP Basic auth credentials for the store endpoint.
type Auth struct {
	Username string
	Password string
}

// Timeout bounds the per-call and the hard ceiling timeout, per spec §6.
type Timeout struct {
	Default time.Duration
	Max     time.Duration
}

// RetryPolicy configures the resilient HTTP client's retry loop, per spec §4.8.
type RetryPolicy struct {
	MaxAttempts          int
	BackoffSeconds       float64
	BackoffMultiplier    float64
	JitterSeconds        float64
	RetryableStatusCodes []int
}

// DefaultRetryPolicy matches the defaults named in spec §4.8.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffSeconds:    0.5,
		BackoffMultiplier: 2.0,
		JitterSeconds:     0.1,
	}
}

// CircuitBreakerConfig configures the breaker, per spec §3 and §4.8.
type CircuitBreakerConfig struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	RecordTimeoutOnly bool
}

// DefaultCircuitBreakerConfig is a conservative default.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// ProjectionProfile names a bundle of projection parameters, per spec §3/§4.6.
type ProjectionProfile struct {
	Limit           int
	IncludeLiterals bool
	Directed        bool
	EdgePredicates  []string
}

// GraphNaming configures the IRI templates used to resolve a GraphRef and
// to name snapshot graphs, per spec §3 (GraphRef) and §4.5 (snapshot).
type GraphNaming struct {
	// GraphIRITemplate is a text/template body rendered with a GraphRef,
	// e.g. `urn:{{.Namespace}}:{{.Model}}:{{.Version}}:{{.Env}}{{if .ScenarioID}}:{{.ScenarioID}}{{end}}`.
	GraphIRITemplate string
	// SnapshotFormat is a text/template body rendered with {Graph, Timestamp}
	// to produce a snapshot graph IRI, e.g. `{{.Graph}}:snapshot:{{.Timestamp}}`.
	SnapshotFormat string
}

// DefaultGraphNaming mirrors spec §3/§4.5's examples.
func DefaultGraphNaming() GraphNaming {
	return GraphNaming{
		GraphIRITemplate: "urn:{{.Namespace}}:{{.Model}}:{{.Version}}:{{.Env}}{{if .ScenarioID}}:{{.ScenarioID}}{{end}}",
		SnapshotFormat:   "{{.Graph}}:snapshot:{{.Timestamp}}",
	}
}

// Security holds cross-cutting HTTP concerns, per spec §6.
type Security struct {
	TraceHeader string
}

// RDF groups the store connection parameters, per spec §6.
type RDF struct {
	Endpoint string
	Dataset  string
	Auth     *Auth
	Timeout  Timeout
	Retry    RetryPolicy
	Breaker  CircuitBreakerConfig
}

// Config is the full configuration surface enumerated in spec §6. It is
// built once by the application and passed by value into constructors;
// there is no package-level singleton, matching spec §9.
type Config struct {
	RDF               RDF
	Security          Security
	ProjectionProfiles map[string]ProjectionProfile
	GraphNaming       GraphNaming
}

// FromEnv builds a Config from environment variables, mirroring the
// teacher's base/config.go pattern of building a Config literal from
// EnvVar calls with sensible defaults. Retry and breaker settings fall
// back to DefaultRetryPolicy/DefaultCircuitBreakerConfig but can each be
// overridden individually, matching spec §6's config surface.
func FromEnv() Config {
	return Config{
		RDF: RDF{
			Endpoint: EnvVar("RDF_ENDPOINT", "http://localhost:3030"),
			Dataset:  EnvVar("RDF_DATASET", "dataset"),
			Auth:     authFromEnv(),
			Timeout: Timeout{
				Default: EnvVarAsDuration("RDF_TIMEOUT_DEFAULT", 10*time.Second),
				Max:     EnvVarAsDuration("RDF_TIMEOUT_MAX", 60*time.Second),
			},
			Retry:   retryPolicyFromEnv(),
			Breaker: circuitBreakerConfigFromEnv(),
		},
		Security: Security{
			TraceHeader: EnvVar("SECURITY_TRACE_HEADER", "X-Trace-Id"),
		},
		ProjectionProfiles: map[string]ProjectionProfile{},
		GraphNaming:        DefaultGraphNaming(),
	}
}

func authFromEnv() *Auth {
	user := EnvVar("RDF_AUTH_USERNAME", "")
	pass := EnvVar("RDF_AUTH_PASSWORD", "")
	if user == "" && pass == "" {
		return nil
	}
	return &Auth{Username: user, Password: pass}
}

// retryPolicyFromEnv overrides DefaultRetryPolicy's fields individually so
// an operator can tune backoff without redeploying, per spec §6/§4.8.
func retryPolicyFromEnv() RetryPolicy {
	d := DefaultRetryPolicy()
	return RetryPolicy{
		MaxAttempts:          EnvVarAsInt("RDF_RETRY_MAX_ATTEMPTS", d.MaxAttempts),
		BackoffSeconds:       EnvVarAsFloat("RDF_RETRY_BACKOFF_SECONDS", d.BackoffSeconds),
		BackoffMultiplier:    EnvVarAsFloat("RDF_RETRY_BACKOFF_MULTIPLIER", d.BackoffMultiplier),
		JitterSeconds:        EnvVarAsFloat("RDF_RETRY_JITTER_SECONDS", d.JitterSeconds),
		RetryableStatusCodes: EnvVarAsIntSlice("RDF_RETRY_STATUS_CODES", d.RetryableStatusCodes),
	}
}

// circuitBreakerConfigFromEnv overrides DefaultCircuitBreakerConfig's
// fields individually, per spec §3/§4.8.
func circuitBreakerConfigFromEnv() CircuitBreakerConfig {
	d := DefaultCircuitBreakerConfig()
	return CircuitBreakerConfig{
		FailureThreshold:  EnvVarAsInt("RDF_BREAKER_FAILURE_THRESHOLD", d.FailureThreshold),
		RecoveryTimeout:   EnvVarAsDuration("RDF_BREAKER_RECOVERY_TIMEOUT", d.RecoveryTimeout),
		RecordTimeoutOnly: EnvVarAsBool("RDF_BREAKER_RECORD_TIMEOUT_ONLY", d.RecordTimeoutOnly),
	}
}
