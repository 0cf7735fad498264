package namedgraph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulb-darmstadt/sparql-acl/aclconfig"
	"github.com/ulb-darmstadt/sparql-acl/client"
	"github.com/ulb-darmstadt/sparql-acl/dsl"
	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/inmemory"
)

func newTestManager() (*Manager, *inmemory.Store) {
	store := inmemory.NewStore()
	rdf := inmemory.NewClient(store)
	return New(rdf, aclconfig.DefaultGraphNaming()), store
}

func TestCreateReportsCreatedThenExists(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	ref := dsl.GraphRef{Name: "http://example.org/g"}

	status, err := m.Create(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, status)

	store.Graph("http://example.org/g")
	_, err = m.Create(ctx, ref)
	require.NoError(t, err)

	status2, err := m.Create(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, status2, "an empty graph still reports created on repeat probes since it carries no triples")
}

func TestClearEmptiesGraph(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	ref := dsl.GraphRef{Name: "http://example.org/g"}

	require.NoError(t, m.rdf.Update(ctx, `INSERT DATA { GRAPH <http://example.org/g> { <http://example.org/s> <http://example.org/p> "v" . } }`, client.CallOptions{}))
	require.Len(t, store.Graph("http://example.org/g"), 1)

	require.NoError(t, m.Clear(ctx, ref))
	assert.Empty(t, store.Graph("http://example.org/g"))
}

func TestMergeCopiesSourceIntoTarget(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	src := dsl.GraphRef{Name: "http://example.org/src"}
	tgt := dsl.GraphRef{Name: "http://example.org/tgt"}

	require.NoError(t, m.rdf.Update(ctx, `INSERT DATA { GRAPH <http://example.org/src> { <http://example.org/s> <http://example.org/p> "v" . } }`, client.CallOptions{}))
	require.NoError(t, m.Merge(ctx, src, tgt))
	assert.Len(t, store.Graph("http://example.org/tgt"), 1)
}

func TestSnapshotNamesGraphWithUTCTimestamp(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	ref := dsl.GraphRef{Name: "http://example.org/g"}

	require.NoError(t, m.rdf.Update(ctx, `INSERT DATA { GRAPH <http://example.org/g> { <http://example.org/s> <http://example.org/p> "v" . } }`, client.CallOptions{}))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snapshotIRI, err := m.SnapshotAt(ctx, ref, at)
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/g:snapshot:20260102T030405Z", snapshotIRI)
	assert.Len(t, store.Graph(snapshotIRI), 1)
}

func TestRestoreFromSnapshotReplacesWorkingGraph(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.rdf.Update(ctx, `INSERT DATA { GRAPH <http://example.org/g> { <http://example.org/s> <http://example.org/p> "before" . } }`, client.CallOptions{}))
	snapshotIRI, err := m.SnapshotAt(ctx, dsl.GraphRef{Name: "http://example.org/g"}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.NoError(t, m.rdf.Update(ctx, `INSERT DATA { GRAPH <http://example.org/g> { <http://example.org/s> <http://example.org/p> "after" . } }`, client.CallOptions{}))
	require.Len(t, store.Graph("http://example.org/g"), 2)

	require.NoError(t, m.RestoreFromSnapshot(ctx, "http://example.org/g", snapshotIRI))
	triples := store.Graph("http://example.org/g")
	require.Len(t, triples, 1)
	assert.Equal(t, "before", triples[0].O.Value)
}

// TestConditionalClearDryRunIssuesNoDelete mirrors spec §8 property 5:
// dry_run=true never issues the destructive DELETE.
func TestConditionalClearDryRunIssuesNoDelete(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.rdf.Update(ctx, `INSERT DATA { GRAPH <http://example.org/g> { <http://example.org/s> <http://example.org/p> "v" . } }`, client.CallOptions{}))

	result, err := m.ConditionalClear(ctx, ConditionalClearRequest{
		Graph:      dsl.GraphRef{Name: "http://example.org/g"},
		Patterns:   []TriplePattern{{}},
		DryRun:     true,
		MaxDeletes: 10,
	})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.EstimatedDeletes)
	assert.GreaterOrEqual(t, result.EstimateMs, int64(0))
	assert.False(t, result.Executed)
	assert.Len(t, store.Graph("http://example.org/g"), 1, "dry run must not delete anything")
}

// TestConditionalClearScenarioS4Ceiling mirrors spec §8 S4: an estimate
// above max_deletes fails closed with no DELETE issued.
func TestConditionalClearScenarioS4Ceiling(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, m.rdf.Update(ctx,
			`INSERT DATA { GRAPH <http://example.org/g> { <http://example.org/s`+string(rune('a'+i))+`> <http://example.org/p> "v" . } }`, client.CallOptions{}))
	}

	_, err := m.ConditionalClear(ctx, ConditionalClearRequest{
		Graph:      dsl.GraphRef{Name: "http://example.org/g"},
		Patterns:   []TriplePattern{{}},
		DryRun:     false,
		MaxDeletes: 2,
	})
	require.Error(t, err)
	var aclErr *errs.Error
	require.ErrorAs(t, err, &aclErr)
	assert.Equal(t, errs.DeleteCeilingExceeded, aclErr.Kind)
	assert.Len(t, store.Graph("http://example.org/g"), 5, "ceiling breach must not delete anything")
}

func TestConditionalClearExecutesUnderCeiling(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.rdf.Update(ctx, `INSERT DATA { GRAPH <http://example.org/g> { <http://example.org/s> <http://example.org/p> "v" . } }`, client.CallOptions{}))

	result, err := m.ConditionalClear(ctx, ConditionalClearRequest{
		Graph:      dsl.GraphRef{Name: "http://example.org/g"},
		Patterns:   []TriplePattern{{}},
		DryRun:     false,
		MaxDeletes: 10,
	})
	require.NoError(t, err)
	assert.True(t, result.Executed)
	assert.Equal(t, 1, result.DeletedCount)
	assert.Empty(t, store.Graph("http://example.org/g"))
}

func TestConditionalClearHonoursSubjectPrefix(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.rdf.Update(ctx, `INSERT DATA { GRAPH <http://example.org/g> {
<http://example.org/keep/1> <http://example.org/p> "v" .
<http://example.org/drop/1> <http://example.org/p> "v" .
} }`, client.CallOptions{}))

	result, err := m.ConditionalClear(ctx, ConditionalClearRequest{
		Graph:         dsl.GraphRef{Name: "http://example.org/g"},
		Patterns:      []TriplePattern{{}},
		SubjectPrefix: "http://example.org/drop",
		DryRun:        false,
		MaxDeletes:    10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedCount)

	remaining := store.Graph("http://example.org/g")
	require.Len(t, remaining, 1)
	assert.Equal(t, "http://example.org/keep/1", remaining[0].S.Value)
}
