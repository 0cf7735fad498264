// Package aclconfig holds the configuration surface enumerated in spec
// §6: endpoint/dataset/auth, timeouts, retry policy, circuit breaker,
// trace header and projection profiles. Every component takes a Config
// value (or a narrower slice of it) by constructor argument; nothing here
// is a package-level mutable singleton, per spec §9 ("eliminate
// configuration singletons"). EnvVar/EnvVarAsInt/EnvVarAsBool/
// EnvVarAsStringSlice keep the teacher's base/env.go bodies verbatim -
// they are untyped os.LookupEnv wrappers with no domain semantics to
// adapt. config.go's retryPolicyFromEnv/circuitBreakerConfigFromEnv read
// RetryPolicy/CircuitBreakerConfig field-by-field through EnvVarAsInt,
// EnvVarAsBool and EnvVarAsDuration, plus EnvVarAsFloat/EnvVarAsIntSlice
// below, additions the teacher never needed, for RetryPolicy's fractional
// backoff and status-code list. EnvVarAsStringSlice has no caller here.
package aclconfig

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvVar reads an environment variable and falls back to a default when unset.
func EnvVar(key string, defaultValue string) string {
	if val, present := os.LookupEnv(key); present {
		return val
	}
	return defaultValue
}

// EnvVarAsInt parses an environment variable into an integer with a fallback for invalid values.
func EnvVarAsInt(key string, defaultValue int) int {
	if val, present := os.LookupEnv(key); present {
		res, err := strconv.Atoi(val)
		if err != nil {
			log.Printf("warning: env var '%s' with value '%s' is not an integer. using default: %d\n", key, val, defaultValue)
			return defaultValue
		}
		return res
	}
	return defaultValue
}

// EnvVarAsBool parses an environment variable into a boolean with a fallback for invalid values.
func EnvVarAsBool(key string, defaultValue bool) bool {
	if val, present := os.LookupEnv(key); present {
		res, err := strconv.ParseBool(val)
		if err != nil {
			log.Printf("warning: env var '%s' with value '%s' is not a boolean. using default: %v\n", key, val, defaultValue)
			return defaultValue
		}
		return res
	}
	return defaultValue
}

// EnvVarAsDuration parses an environment variable as a Go duration string
// (e.g. "5s", "500ms") with a fallback for invalid values.
func EnvVarAsDuration(key string, defaultValue time.Duration) time.Duration {
	if val, present := os.LookupEnv(key); present {
		res, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("warning: env var '%s' with value '%s' is not a duration. using default: %v\n", key, val, defaultValue)
			return defaultValue
		}
		return res
	}
	return defaultValue
}

// EnvVarAsStringSlice splits a comma-separated environment variable into trimmed values.
func EnvVarAsStringSlice(key string) []string {
	var result []string
	if val, present := os.LookupEnv(key); present {
		for _, v := range strings.Split(val, ",") {
			value := strings.TrimSpace(v)
			if value != "" {
				result = append(result, value)
			}
		}
	}
	return result
}

// EnvVarAsFloat parses an environment variable into a float64 with a
// fallback for invalid values. Added for RetryPolicy's fractional
// backoff/jitter fields, which the teacher's config never needed.
func EnvVarAsFloat(key string, defaultValue float64) float64 {
	if val, present := os.LookupEnv(key); present {
		res, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Printf("warning: env var '%s' with value '%s' is not a float. using default: %v\n", key, val, defaultValue)
			return defaultValue
		}
		return res
	}
	return defaultValue
}

// EnvVarAsIntSlice splits a comma-separated environment variable into
// integers, skipping and warning on entries that don't parse. Used to load
// RetryPolicy.RetryableStatusCodes from the environment.
func EnvVarAsIntSlice(key string, defaultValue []int) []int {
	val, present := os.LookupEnv(key)
	if !present {
		return defaultValue
	}
	var result []int
	for _, v := range strings.Split(val, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("warning: env var '%s' entry '%s' is not an integer, skipping\n", key, v)
			continue
		}
		result = append(result, n)
	}
	if result == nil {
		return defaultValue
	}
	return result
}
