// Package executor implements the Transaction Executor of spec §4.4: it
// turns an UpsertRequest into a plan via package planner, optionally
// captures a pre-image snapshot, detects ignore-strategy conflicts,
// executes the plan's statements in order, and attempts a best-effort
// rollback on failure when a snapshot was captured.
//
// Grounded on the teacher's sparql/base.go statement-execution sequencing
// (queryDataset/updateDataset called in a fixed order per request) and
// rdf/label.go's ASK-based existence-check idiom, reused here for
// conflict detection.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ulb-darmstadt/sparql-acl/client"
	"github.com/ulb-darmstadt/sparql-acl/dsl"
	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/mapper"
	"github.com/ulb-darmstadt/sparql-acl/namedgraph"
	"github.com/ulb-darmstadt/sparql-acl/planner"
	"github.com/ulb-darmstadt/sparql-acl/term"
)

// State names the upsert transaction's lifecycle, per spec §4.4.
type State string

const (
	StatePlanned    State = "Planned"
	StateExecuting  State = "Executing"
	StateSucceeded  State = "Succeeded"
	StateRolledBack State = "RolledBack"
	StateFailed     State = "Failed"
)

// Conflict records an ignore-strategy key whose target already held a
// matching triple, per spec §4.4's conflict model. It is informational:
// the ignore statement still executes.
type Conflict struct {
	Key     string
	Triples []term.Triple
}

// Options controls executor behaviour that spec §4.4 calls
// "implementation-configurable".
type Options struct {
	// CaptureSnapshot, when true, issues a graph snapshot before running
	// any statement with RequiresSnapshot, enabling best-effort rollback
	// on failure.
	CaptureSnapshot bool
	Actor           string
}

// Result is the executor's output, per spec §4.4 step 5.
type Result struct {
	Graph      string
	Applied    int
	Statements []planner.UpsertStatement
	Conflicts  []Conflict
	TxID       string
	TraceID    string
	DurationMs int64
	AuditID    string
	State      State
}

// Executor runs upsert transactions against an RDFClient, per spec §4.4.
type Executor struct {
	rdf    client.RDFClient
	graphs *namedgraph.Manager

	graphTemplate string
}

// New builds an Executor. graphTemplate resolves planner.UpsertRequest's
// GraphRef, mirroring dsl.GraphRef.Resolve's template convention.
func New(rdf client.RDFClient, graphs *namedgraph.Manager, graphTemplate string) *Executor {
	return &Executor{rdf: rdf, graphs: graphs, graphTemplate: graphTemplate}
}

// Upsert realizes spec §4.4's upsert(request, trace_id, actor?). traceID
// is attached to the conflict checks and statement executions this
// transaction issues and to any error it returns. The snapshot and
// rollback calls go through namedgraph.Manager, which sends them without
// traceID.
func (e *Executor) Upsert(ctx context.Context, request planner.UpsertRequest, traceID string, opts Options) (Result, error) {
	start := time.Now()
	txID := uuid.NewString()

	plan, err := planner.Plan(request, e.graphTemplate)
	if err != nil {
		return Result{TxID: txID, TraceID: traceID, State: StateFailed}, withTraceID(err, traceID)
	}

	result := Result{
		Graph:      plan.GraphIRI,
		Statements: plan.Statements,
		TxID:       txID,
		TraceID:    traceID,
		State:      StatePlanned,
	}

	conflicts, err := e.detectConflicts(ctx, plan, traceID)
	if err != nil {
		result.State = StateFailed
		return result, withTraceID(err, traceID)
	}
	result.Conflicts = conflicts

	var snapshotIRI string
	if opts.CaptureSnapshot && planRequiresSnapshot(plan) {
		snapshotIRI, err = e.graphs.Snapshot(ctx, dsl.GraphRef{Name: plan.GraphIRI})
		if err != nil {
			result.State = StateFailed
			return result, withTraceID(err, traceID)
		}
	}

	result.State = StateExecuting
	applied, execErr := e.executeStatements(ctx, plan, traceID)
	result.Applied = applied

	if execErr != nil {
		if snapshotIRI != "" {
			if rollbackErr := e.graphs.RestoreFromSnapshot(ctx, plan.GraphIRI, snapshotIRI); rollbackErr == nil {
				result.State = StateRolledBack
				result.DurationMs = time.Since(start).Milliseconds()
				return result, withTraceID(execErr, traceID)
			}
		}
		result.State = StateFailed
		result.DurationMs = time.Since(start).Milliseconds()
		return result, withTraceID(execErr, traceID)
	}

	result.State = StateSucceeded
	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// withTraceID attaches traceID to err if it is an *errs.Error, so a
// caller can correlate a failed transaction with the trace they supplied.
func withTraceID(err error, traceID string) error {
	if aclErr, ok := err.(*errs.Error); ok {
		return aclErr.WithTraceID(traceID)
	}
	return err
}

func planRequiresSnapshot(plan planner.UpsertPlan) bool {
	for _, stmt := range plan.Statements {
		if stmt.RequiresSnapshot {
			return true
		}
	}
	return false
}

// detectConflicts realizes spec §4.4 step 2: for every ignore-strategy
// statement, ASK whether the store already holds a matching triple
// before that statement runs; matches are recorded as conflicts but do
// not block execution.
func (e *Executor) detectConflicts(ctx context.Context, plan planner.UpsertPlan, traceID string) ([]Conflict, error) {
	var conflicts []Conflict
	for _, stmt := range plan.Statements {
		if stmt.Strategy != planner.StrategyIgnore {
			continue
		}
		exists, err := e.existingMatch(ctx, plan.GraphIRI, stmt.Triples, traceID)
		if err != nil {
			return nil, err
		}
		if exists {
			conflicts = append(conflicts, Conflict{Key: stmt.Key, Triples: stmt.Triples})
		}
	}
	return conflicts, nil
}

func (e *Executor) existingMatch(ctx context.Context, graphIRI string, triples []term.Triple, traceID string) (bool, error) {
	pattern, err := renderAskPattern(triples)
	if err != nil {
		return false, err
	}
	query := "ASK { GRAPH <" + graphIRI + "> { " + pattern + " } }"
	data, err := e.rdf.Select(ctx, query, client.CallOptions{TraceID: traceID})
	if err != nil {
		return false, err
	}
	return mapper.ParseAsk(data)
}

func renderAskPattern(triples []term.Triple) (string, error) {
	var lines []string
	for _, t := range triples {
		s, err := term.FormatTerm(t.S, nil)
		if err != nil {
			return "", err
		}
		p, err := term.FormatTerm(t.P, nil)
		if err != nil {
			return "", err
		}
		o, err := term.FormatTerm(t.O, nil)
		if err != nil {
			return "", err
		}
		lines = append(lines, s+" "+p+" "+o+" .")
	}
	return strings.Join(lines, "\n"), nil
}

// executeStatements runs a plan's statements in declaration order, per
// spec §4.4 step 4/§5's ordering guarantee ("no concurrent submission").
func (e *Executor) executeStatements(ctx context.Context, plan planner.UpsertPlan, traceID string) (int, error) {
	applied := 0
	for _, stmt := range plan.Statements {
		if err := e.rdf.Update(ctx, stmt.SPARQL, client.CallOptions{TraceID: traceID}); err != nil {
			return applied, errs.Wrap(errs.FusekiQueryError, err, "upsert statement failed for key %q", stmt.Key).WithTraceID(traceID)
		}
		applied++
	}
	return applied, nil
}
