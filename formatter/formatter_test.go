package formatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTurtle = `
@prefix rdf: <http://www.w3.org/1999/02/22-rdf-syntax-ns#> .
@prefix rdfs: <http://www.w3.org/2000/01/rdf-schema#> .
@prefix ex: <http://example.org/> .

ex:alice rdf:type ex:Person ;
  rdfs:label "Alice"@en ;
  ex:age "42"^^<http://www.w3.org/2001/XMLSchema#integer> ;
  ex:knows ex:bob .

ex:bob rdfs:label "Bob"@en .
`

func TestFormatGraphTurtleIsIdentity(t *testing.T) {
	out, err := FormatGraph(sampleTurtle, FormatTurtle, nil)
	require.NoError(t, err)
	assert.Equal(t, sampleTurtle, out)
}

func TestFormatGraphUnknownFormatFails(t *testing.T) {
	_, err := FormatGraph(sampleTurtle, Format("yaml"), nil)
	require.Error(t, err)
}

func TestFormatGraphSimplifiedJSONExtractsLabelAndType(t *testing.T) {
	out, err := FormatGraph(sampleTurtle, FormatSimplifiedJSON, nil)
	require.NoError(t, err)
	graph, ok := out.(SimplifiedGraph)
	require.True(t, ok)

	var alice, bob *Node
	for i := range graph.Nodes {
		switch graph.Nodes[i].ID {
		case "http://example.org/alice":
			alice = &graph.Nodes[i]
		case "http://example.org/bob":
			bob = &graph.Nodes[i]
		}
	}
	require.NotNil(t, alice)
	require.NotNil(t, bob)

	assert.Equal(t, "http://example.org/Person", alice.Type)
	assert.Equal(t, "Alice", alice.Label)
	assert.Equal(t, "Alice", alice.Labels["en"])
	assert.Equal(t, "Bob", bob.Label)

	require.Contains(t, alice.Properties, "http://example.org/age")
	ageValues := alice.Properties["http://example.org/age"]
	require.Len(t, ageValues, 1)
	assert.Equal(t, "42", ageValues[0].Value)
	assert.Equal(t, "http://www.w3.org/2001/XMLSchema#integer", ageValues[0].Datatype)
}

func TestFormatGraphSimplifiedJSONEmitsEdgeNotPropertyForIRIObject(t *testing.T) {
	out, err := FormatGraph(sampleTurtle, FormatSimplifiedJSON, nil)
	require.NoError(t, err)
	graph := out.(SimplifiedGraph)

	var found bool
	for _, e := range graph.Edges {
		if e.Source == "http://example.org/alice" && e.Target == "http://example.org/bob" && e.Predicate == "http://example.org/knows" {
			found = true
		}
	}
	assert.True(t, found, "ex:knows must be an edge, not a property")

	for _, e := range graph.Edges {
		assert.NotEqual(t, "http://www.w3.org/1999/02/22-rdf-syntax-ns#type", e.Predicate, "rdf:type must never be emitted as an edge")
	}
}

func TestFormatGraphSimplifiedJSONRejectsBadTurtle(t *testing.T) {
	_, err := FormatGraph("this is not turtle {{{", FormatSimplifiedJSON, nil)
	require.Error(t, err)
}

func TestFormatGraphJSONLDInjectsContext(t *testing.T) {
	context := map[string]any{"ex": "http://example.org/"}
	out, err := FormatGraph(sampleTurtle, FormatJSONLD, context)
	require.NoError(t, err)

	asMap, ok := out.(map[string]any)
	require.True(t, ok, "json-ld output must be a JSON object once a context is injected")
	assert.Equal(t, context, asMap["@context"])
}
