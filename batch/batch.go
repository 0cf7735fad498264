// Package batch implements the Batch Operator of spec §4.7: apply a
// parameterized triple template across many bindings in bounded-size
// chunks, falling back to per-item submission with retries when a chunk
// fails outright. It also supplies the scheduled batch compaction
// supplemented in SPEC_FULL.md §4.7a: an optional cron-driven re-run of a
// named template, grounded on the teacher's backend/sync.go
// startSyncProfiles.
package batch

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ulb-darmstadt/sparql-acl/client"
	"github.com/ulb-darmstadt/sparql-acl/errs"
)

// Template is the parameterized statement of spec §4.7: Pattern contains
// "{?var}" placeholders substituted verbatim against each binding map.
// Bindings must already be SPARQL-safe; this package performs no escaping
// of its own, matching spec §4.7's stated caller responsibility.
type Template struct {
	Pattern  string
	Bindings []map[string]string
}

// FailedItem records one binding that could not be applied, per spec
// §4.7's failed_items.
type FailedItem struct {
	Binding map[string]string
	Error   string
}

// Result is apply_template's output, per spec §4.7.
type Result struct {
	Total       int
	Success     int
	Failed      int
	FailedItems []FailedItem
	DurationMs  int64
	TraceID     string
}

// Options configures apply_template's chunking/retry behaviour, per spec
// §4.7.
type Options struct {
	BatchSize  int
	MaxRetries int
	// DryRun skips the destructive HTTP submission and reports as if every
	// binding succeeded; like namedgraph.ConditionalClear's dry run, it
	// never mutates the store.
	DryRun bool
}

const defaultBatchSize = 1000

// ApplyTemplate realizes spec §4.7's apply_template(template, graph_iri,
// trace_id, dry_run?). traceID is attached to every INSERT DATA statement
// this run issues, chunked or per-item.
func ApplyTemplate(ctx context.Context, rdf client.RDFClient, tmpl Template, graphIRI, traceID string, opts Options) (Result, error) {
	start := time.Now()
	result := Result{Total: len(tmpl.Bindings), TraceID: traceID}

	if opts.DryRun {
		result.Success = len(tmpl.Bindings)
		result.DurationMs = time.Since(start).Milliseconds()
		return result, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	callOpts := client.CallOptions{TraceID: traceID}
	for i := 0; i < len(tmpl.Bindings); i += batchSize {
		end := i + batchSize
		if end > len(tmpl.Bindings) {
			end = len(tmpl.Bindings)
		}
		chunk := tmpl.Bindings[i:end]

		update, err := renderChunk(tmpl.Pattern, chunk, graphIRI)
		if err != nil {
			return Result{}, err
		}
		if err := rdf.Update(ctx, update, callOpts); err == nil {
			result.Success += len(chunk)
			continue
		}

		// Chunk submission failed outright: fall back to per-item
		// submission with retries, per spec §4.7.
		for _, binding := range chunk {
			if err := applyWithRetry(ctx, rdf, tmpl.Pattern, binding, graphIRI, traceID, opts.MaxRetries); err != nil {
				result.Failed++
				result.FailedItems = append(result.FailedItems, FailedItem{Binding: binding, Error: err.Error()})
				continue
			}
			result.Success++
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

func applyWithRetry(ctx context.Context, rdf client.RDFClient, pattern string, binding map[string]string, graphIRI, traceID string, maxRetries int) error {
	update, err := renderChunk(pattern, []map[string]string{binding}, graphIRI)
	if err != nil {
		return err
	}
	callOpts := client.CallOptions{TraceID: traceID}

	var lastErr error
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if err := rdf.Update(ctx, update, callOpts); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == attempts-1 {
			break
		}
		if sleepErr := sleepRetryBackoff(ctx, attempt); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}

// sleepRetryBackoff waits 0.5s * 2^attempt before the next per-item
// retry, per spec §4.7, returning early if ctx is cancelled - mirroring
// package client's sleepBackoff idiom.
func sleepRetryBackoff(ctx context.Context, attempt int) error {
	backoff := 0.5 * math.Pow(2, float64(attempt))
	timer := time.NewTimer(time.Duration(backoff * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.Unexpected, ctx.Err(), "batch submission cancelled during retry backoff")
	case <-timer.C:
		return nil
	}
}

func renderChunk(pattern string, bindings []map[string]string, graphIRI string) (string, error) {
	var lines []string
	for _, binding := range bindings {
		lines = append(lines, substitute(pattern, binding))
	}
	return "INSERT DATA { GRAPH <" + graphIRI + "> { " + strings.Join(lines, "\n") + " } }", nil
}

func substitute(pattern string, binding map[string]string) string {
	out := pattern
	for k, v := range binding {
		out = strings.ReplaceAll(out, "{?"+k+"}", v)
	}
	return out
}

// ScheduleConfig configures BatchScheduler, per SPEC_FULL.md §4.7a.
type ScheduleConfig struct {
	Expr string
}

// BatchScheduler periodically re-submits a named template via
// ApplyTemplate, grounded one-to-one on the teacher's startSyncProfiles:
// a cron.Cron registered with AddFunc, started, plus an immediate run
// when there is no schedule or the store is empty.
type BatchScheduler struct {
	cron *cron.Cron
}

// StartBatchScheduler realizes SPEC_FULL.md §4.7a: register run against
// cfg.Expr (if set), start the scheduler, and perform run immediately
// when cfg.Expr is empty or graphIsEmpty reports true - exactly the
// teacher's `len(base.SyncSchedule) == 0 || len(profiles) == 0`
// condition.
func StartBatchScheduler(cfg ScheduleConfig, graphIsEmpty bool, run func()) (*BatchScheduler, error) {
	s := &BatchScheduler{cron: cron.New()}

	if cfg.Expr != "" {
		if _, err := s.cron.AddFunc(cfg.Expr, run); err != nil {
			return nil, errs.Wrap(errs.InvalidConfig, err, "invalid batch schedule expression %q", cfg.Expr)
		}
		s.cron.Start()
		slog.Info("started scheduled batch compaction", "cron", cfg.Expr, "entries", s.cron.Entries())
	}

	if cfg.Expr == "" || graphIsEmpty {
		run()
	}
	return s, nil
}

// Stop halts the scheduler, waiting for any in-flight run to finish.
func (s *BatchScheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
