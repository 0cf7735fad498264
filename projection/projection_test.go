package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulb-darmstadt/sparql-acl/aclconfig"
	"github.com/ulb-darmstadt/sparql-acl/client"
	"github.com/ulb-darmstadt/sparql-acl/dsl"
	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/inmemory"
)

const graphIRI = "http://example.org/g"

func seedGraph(t *testing.T, store *inmemory.Store) {
	t.Helper()
	rdf := inmemory.NewClient(store)
	require.NoError(t, rdf.Update(context.Background(), `INSERT DATA { GRAPH <`+graphIRI+`> {
<http://example.org/alice> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://example.org/Person> .
<http://example.org/alice> <http://example.org/knows> <http://example.org/bob> .
<http://example.org/alice> <http://example.org/age> "33"^^<http://www.w3.org/2001/XMLSchema#integer> .
<http://example.org/alice> <http://example.org/worksAt> <http://example.org/acme> .
} }`, client.CallOptions{}))
}

func TestProjectEmitsNodesAndEdgesExcludingLiterals(t *testing.T) {
	store := inmemory.NewStore()
	seedGraph(t, store)
	rdf := inmemory.NewClient(store)

	profile := aclconfig.ProjectionProfile{
		Limit:           100,
		IncludeLiterals: false,
		EdgePredicates:  []string{"http://example.org/knows", "http://example.org/worksAt"},
	}
	source := Source{Graph: &dsl.GraphRef{Name: graphIRI}}

	result, err := Project(context.Background(), rdf, source, profile, Config{}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.EdgeCount)
	assert.Equal(t, 3, result.Stats.NodeCount, "alice, bob and acme but not a separate Person type node")

	var aliceType string
	for _, n := range result.Nodes {
		if n.ID == "http://example.org/alice" {
			aliceType = n.Type
		}
	}
	assert.Equal(t, "http://example.org/Person", aliceType)

	for _, e := range result.Edges {
		assert.NotEqual(t, "http://www.w3.org/1999/02/22-rdf-syntax-ns#type", e.Predicate)
	}
}

func TestProjectIncludesLiteralsAsNodeProperties(t *testing.T) {
	store := inmemory.NewStore()
	seedGraph(t, store)
	rdf := inmemory.NewClient(store)

	profile := aclconfig.ProjectionProfile{
		Limit:           100,
		IncludeLiterals: true,
		EdgePredicates:  []string{"http://example.org/knows", "http://example.org/worksAt", "http://example.org/age"},
	}
	source := Source{Graph: &dsl.GraphRef{Name: graphIRI}}

	result, err := Project(context.Background(), rdf, source, profile, Config{}, "")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.EdgeCount, "age stays a property, not an edge")

	var alice *Node
	for i, n := range result.Nodes {
		if n.ID == "http://example.org/alice" {
			alice = &result.Nodes[i]
		}
	}
	require.NotNil(t, alice)
	assert.Equal(t, []string{"33"}, alice.Properties["http://example.org/age"])

	for _, e := range result.Edges {
		assert.NotEqual(t, "http://example.org/age", e.Predicate)
	}
}

func TestProjectRejectsConfigLimitAtOrAboveProfileLimit(t *testing.T) {
	store := inmemory.NewStore()
	seedGraph(t, store)
	rdf := inmemory.NewClient(store)

	profile := aclconfig.ProjectionProfile{Limit: 10, EdgePredicates: []string{"http://example.org/knows"}}
	source := Source{Graph: &dsl.GraphRef{Name: graphIRI}}

	_, err := Project(context.Background(), rdf, source, profile, Config{Limit: 10}, "")
	require.Error(t, err)
	var aclErr *errs.Error
	require.ErrorAs(t, err, &aclErr)
	assert.Equal(t, errs.LimitExceedsProfile, aclErr.Kind)
}

func TestProjectAllowsConfigLimitBelowProfileLimit(t *testing.T) {
	store := inmemory.NewStore()
	seedGraph(t, store)
	rdf := inmemory.NewClient(store)

	profile := aclconfig.ProjectionProfile{Limit: 10, EdgePredicates: []string{"http://example.org/knows", "http://example.org/worksAt"}}
	source := Source{Graph: &dsl.GraphRef{Name: graphIRI}}

	result, err := Project(context.Background(), rdf, source, profile, Config{Limit: 5}, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, result.Stats.EdgeCount, 5)
}

func TestProjectRequiresGraphSource(t *testing.T) {
	store := inmemory.NewStore()
	rdf := inmemory.NewClient(store)
	profile := aclconfig.ProjectionProfile{Limit: 10}

	_, err := Project(context.Background(), rdf, Source{}, profile, Config{}, "")
	require.Error(t, err)
}
