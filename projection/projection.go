// Package projection implements the Graph Projection of spec §4.6: render
// a named graph (or an arbitrary QueryDSL source) as a directed property
// graph of nodes and edges, bounded by a named ProjectionProfile's limit
// and predicate whitelist.
//
// Grounded on the query-assembly idiom of package builder (BuildConstruct,
// reused here verbatim for the CONSTRUCT text) and the Turtle-to-graph
// walk of package formatter's toSimplifiedJSON, generalized to the
// nodes/edges/stats shape this operation returns instead of formatter's
// properties-bearing simplified JSON.
package projection

import (
	"context"
	"strings"

	"github.com/deiu/rdf2go"

	"github.com/ulb-darmstadt/sparql-acl/aclconfig"
	"github.com/ulb-darmstadt/sparql-acl/builder"
	"github.com/ulb-darmstadt/sparql-acl/client"
	"github.com/ulb-darmstadt/sparql-acl/dsl"
	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/term"
)

const rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// Source names the projection's input, per spec §4.6: either a named
// graph directly, or an arbitrary QueryDSL evaluated against one.
type Source struct {
	Graph *dsl.GraphRef
	Query *dsl.QueryDSL
}

// Config is the caller-supplied override of spec §4.6 step 1; Limit is
// validated against the profile and must never reach or exceed it.
type Config struct {
	Limit int
}

// Node is one projected graph vertex. Type comes from any rdf:type triple
// encountered for the subject IRI; per spec §4.6 step 4 it is never
// emitted as a node or edge of its own. Properties holds literal-object
// triples and is only ever populated when the profile's IncludeLiterals
// is set - a literal has no identity to hang an Edge off of.
type Node struct {
	ID         string
	Type       string
	Properties map[string][]string
}

// Edge is one non-rdf:type, non-literal-object triple.
type Edge struct {
	Source    string
	Target    string
	Predicate string
}

// Stats summarizes the projected graph's size.
type Stats struct {
	NodeCount int
	EdgeCount int
}

// Result is project's output, per spec §4.6 step 4.
type Result struct {
	Nodes []Node
	Edges []Edge
	Stats Stats
}

// Project realizes spec §4.6's project(source, profile, config?).
func Project(ctx context.Context, rdf client.RDFClient, source Source, profile aclconfig.ProjectionProfile, config Config, graphTemplate string) (Result, error) {
	limit := profile.Limit
	if config.Limit > 0 {
		if config.Limit >= profile.Limit {
			return Result{}, errs.New(errs.LimitExceedsProfile,
				"requested limit %d meets or exceeds profile limit %d", config.Limit, profile.Limit)
		}
		limit = config.Limit
	}

	if source.Graph == nil {
		return Result{}, errs.New(errs.InvalidConfig, "projection source requires a graph reference")
	}
	graphIRI, err := source.Graph.Resolve(graphTemplate)
	if err != nil {
		return Result{}, err
	}

	d := dsl.QueryDSL{Type: dsl.TypeRaw}
	if source.Query != nil {
		d = *source.Query
	}
	if len(profile.EdgePredicates) > 0 {
		values := make([]string, 0, len(profile.EdgePredicates))
		for _, p := range profile.EdgePredicates {
			values = append(values, "<"+p+">")
		}
		// rdf:type is always admitted so Node.Type can be filled; it never
		// becomes an edge.
		values = append(values, "<"+rdfType+">")
		d.Filters = append(d.Filters, term.Filter{Field: "?p", Operator: term.OpIn, Value: values})
	}
	if !profile.IncludeLiterals {
		d.Type = dsl.TypeRelation
	}
	d.Page = &dsl.Page{Size: limit}

	query, err := builder.BuildConstruct(d, &graphIRI)
	if err != nil {
		return Result{}, err
	}

	data, err := rdf.Construct(ctx, query, client.CallOptions{})
	if err != nil {
		return Result{}, err
	}

	return parseProjection(string(data), profile.IncludeLiterals)
}

func parseProjection(turtle string, includeLiterals bool) (Result, error) {
	graph := rdf2go.NewGraph("")
	if err := graph.Parse(strings.NewReader(turtle), "text/turtle"); err != nil {
		return Result{}, errs.Wrap(errs.Unexpected, err, "projection could not parse construct response")
	}

	nodes := map[string]*Node{}
	var order []string
	ensureNode := func(id string) *Node {
		if n, ok := nodes[id]; ok {
			return n
		}
		n := &Node{ID: id}
		nodes[id] = n
		order = append(order, id)
		return n
	}

	var edges []Edge
	for triple := range graph.IterTriples() {
		subj, ok := triple.Subject.(*rdf2go.Resource)
		if !ok {
			continue
		}
		s := ensureNode(subj.RawValue())

		pred, ok := triple.Predicate.(*rdf2go.Resource)
		if !ok {
			continue
		}
		predIRI := pred.RawValue()

		if predIRI == rdfType {
			if obj, ok := triple.Object.(*rdf2go.Resource); ok {
				s.Type = obj.RawValue()
			}
			continue
		}

		switch obj := triple.Object.(type) {
		case *rdf2go.Literal:
			// Defensive: the store may not honour FILTER(isIRI(?o)), per
			// spec §4.6 step 3.
			if !includeLiterals {
				continue
			}
			if s.Properties == nil {
				s.Properties = map[string][]string{}
			}
			s.Properties[predIRI] = append(s.Properties[predIRI], obj.Value)
		case *rdf2go.Resource:
			ensureNode(obj.RawValue())
			edges = append(edges, Edge{Source: s.ID, Target: obj.RawValue(), Predicate: predIRI})
		case *rdf2go.BlankNode:
			ensureNode(obj.RawValue())
			edges = append(edges, Edge{Source: s.ID, Target: obj.RawValue(), Predicate: predIRI})
		}
	}

	result := Result{Edges: edges}
	for _, id := range order {
		result.Nodes = append(result.Nodes, *nodes[id])
	}
	result.Stats = Stats{NodeCount: len(result.Nodes), EdgeCount: len(result.Edges)}
	return result, nil
}
