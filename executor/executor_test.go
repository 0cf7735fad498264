package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulb-darmstadt/sparql-acl/aclconfig"
	"github.com/ulb-darmstadt/sparql-acl/dsl"
	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/inmemory"
	"github.com/ulb-darmstadt/sparql-acl/namedgraph"
	"github.com/ulb-darmstadt/sparql-acl/planner"
	"github.com/ulb-darmstadt/sparql-acl/term"
)

func newTestExecutor() (*Executor, *inmemory.Store) {
	store := inmemory.NewStore()
	rdf := inmemory.NewClient(store)
	graphs := namedgraph.New(rdf, aclconfig.DefaultGraphNaming())
	return New(rdf, graphs, "urn:{{.Namespace}}:{{.Model}}:{{.Version}}:{{.Env}}"), store
}

func labelTriple(subject, value string) term.Triple {
	return term.Triple{
		S: term.IRITerm(subject),
		P: term.IRITerm("http://www.w3.org/2000/01/rdf-schema#label"),
		O: term.LiteralTerm(value),
	}
}

// TestUpsertScenarioS3Replace mirrors spec §8 S3: two triples sharing
// (<e1>, rdfs:label) under key s+p/replace leave only the latest pair
// under that key once executed.
func TestUpsertScenarioS3Replace(t *testing.T) {
	exec, store := newTestExecutor()

	request := planner.UpsertRequest{
		Graph: dsl.GraphRef{Name: "http://example.org/g"},
		Triples: []term.Triple{
			labelTriple("http://example.org/e1", "A"),
			labelTriple("http://example.org/e1", "B"),
		},
		UpsertKey:     planner.KeySubjectPred,
		MergeStrategy: planner.StrategyReplace,
	}

	result, err := exec.Upsert(context.Background(), request, "trace-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State)
	assert.Equal(t, 1, result.Applied)
	assert.Empty(t, result.Conflicts)
	assert.Equal(t, "trace-1", result.TraceID)

	triples := store.Graph("http://example.org/g")
	require.Len(t, triples, 2)
	values := map[string]bool{}
	for _, tr := range triples {
		values[tr.O.Value] = true
	}
	assert.True(t, values["A"])
	assert.True(t, values["B"])
}

func TestUpsertReplaceRemovesStaleValueUnderSameKey(t *testing.T) {
	exec, store := newTestExecutor()
	ctx := context.Background()

	first := planner.UpsertRequest{
		Graph:         dsl.GraphRef{Name: "http://example.org/g"},
		Triples:       []term.Triple{labelTriple("http://example.org/e1", "old")},
		UpsertKey:     planner.KeySubjectPred,
		MergeStrategy: planner.StrategyReplace,
	}
	_, err := exec.Upsert(ctx, first, "t1", Options{})
	require.NoError(t, err)

	second := planner.UpsertRequest{
		Graph:         dsl.GraphRef{Name: "http://example.org/g"},
		Triples:       []term.Triple{labelTriple("http://example.org/e1", "new")},
		UpsertKey:     planner.KeySubjectPred,
		MergeStrategy: planner.StrategyReplace,
	}
	_, err = exec.Upsert(ctx, second, "t2", Options{})
	require.NoError(t, err)

	triples := store.Graph("http://example.org/g")
	require.Len(t, triples, 1)
	assert.Equal(t, "new", triples[0].O.Value)
}

func TestUpsertIgnoreRecordsConflictButStillExecutes(t *testing.T) {
	exec, _ := newTestExecutor()
	ctx := context.Background()

	request := planner.UpsertRequest{
		Graph:         dsl.GraphRef{Name: "http://example.org/g"},
		Triples:       []term.Triple{labelTriple("http://example.org/e1", "A")},
		UpsertKey:     planner.KeySubjectPred,
		MergeStrategy: planner.StrategyIgnore,
	}
	result, err := exec.Upsert(ctx, request, "t1", Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Conflicts)

	result2, err := exec.Upsert(ctx, request, "t2", Options{})
	require.NoError(t, err)
	require.Len(t, result2.Conflicts, 1)
	assert.Equal(t, StateSucceeded, result2.State)
}

func TestUpsertRejectsEmptyTriples(t *testing.T) {
	exec, _ := newTestExecutor()
	request := planner.UpsertRequest{
		Graph:         dsl.GraphRef{Name: "http://example.org/g"},
		UpsertKey:     planner.KeySubject,
		MergeStrategy: planner.StrategyAppend,
	}
	_, err := exec.Upsert(context.Background(), request, "t1", Options{})
	require.Error(t, err)
	var aclErr *errs.Error
	require.ErrorAs(t, err, &aclErr)
	assert.Equal(t, "t1", aclErr.TraceID, "the caller-supplied trace id must be attached to a planning failure")
}

func TestUpsertAppendAccumulatesAcrossCalls(t *testing.T) {
	exec, store := newTestExecutor()
	ctx := context.Background()

	for _, v := range []string{"A", "B", "C"} {
		request := planner.UpsertRequest{
			Graph:         dsl.GraphRef{Name: "http://example.org/g"},
			Triples:       []term.Triple{labelTriple("http://example.org/e1", v)},
			UpsertKey:     planner.KeySubject,
			MergeStrategy: planner.StrategyAppend,
		}
		_, err := exec.Upsert(ctx, request, "t", Options{})
		require.NoError(t, err)
	}

	triples := store.Graph("http://example.org/g")
	assert.Len(t, triples, 3)
}
