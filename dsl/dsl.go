// Package dsl holds the domain-specific query description types of spec
// §3: QueryDSL, Aggregation, GraphRef, CursorPage. These are immutable
// value types; they carry no behavior beyond validation and graph-IRI
// resolution.
package dsl

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/term"
)

// Type enumerates the DSL query shapes of spec §3.
type Type string

const (
	TypeEntity   Type = "entity"
	TypeRelation Type = "relation"
	TypeEvent    Type = "event"
	TypeRaw      Type = "raw"
)

// TimeWindow bounds a query by a convention variable ?t, per spec §4.2.
type TimeWindow struct {
	From string // RFC3339 timestamp
	To   string // RFC3339 timestamp
}

// Page is an offset/limit pagination request.
type Page struct {
	Size   int
	Offset int
}

// Sort names an explicit ORDER BY clause; emitted only when set, per spec §4.2 step 5.
type Sort struct {
	Variable   string
	Descending bool
}

// AggregationFunc enumerates the functions of spec §3.
type AggregationFunc string

const (
	FuncCount       AggregationFunc = "COUNT"
	FuncSum         AggregationFunc = "SUM"
	FuncAvg         AggregationFunc = "AVG"
	FuncMin         AggregationFunc = "MIN"
	FuncMax         AggregationFunc = "MAX"
	FuncGroupConcat AggregationFunc = "GROUP_CONCAT"
)

// Aggregation is a single SELECT-head aggregation, per spec §3.
type Aggregation struct {
	Function  AggregationFunc
	Variable  string
	Alias     string
	Distinct  bool
	Separator string // only meaningful when Function == FuncGroupConcat
}

// QueryDSL is the top-level query description of spec §3.
type QueryDSL struct {
	Type          Type
	Filters       []term.Filter
	Expand        []string // predicate CURIEs/IRIs
	TimeWindow    *TimeWindow
	Participants  []string
	Page          *Page
	Sort          *Sort
	Prefixes      map[string]string
	Aggregations  []Aggregation
	GroupBy       []string
	Having        []string
}

// Validate enforces the invariants of spec §3: when Aggregations is
// non-empty, every non-aggregated selected variable must appear in
// GroupBy, and Having may only reference aggregate aliases or group vars.
func (q QueryDSL) Validate() error {
	if len(q.Aggregations) == 0 {
		return nil
	}
	groupSet := make(map[string]bool, len(q.GroupBy))
	for _, g := range q.GroupBy {
		groupSet[g] = true
	}
	aliasSet := make(map[string]bool, len(q.Aggregations))
	for _, a := range q.Aggregations {
		if a.Alias != "" {
			aliasSet[a.Alias] = true
		}
	}
	for _, h := range q.Having {
		if !referencesOnly(h, aliasSet, groupSet) {
			return errs.New(errs.ConstraintViolation, "having clause %q references a variable not in group_by or an aggregate alias", h)
		}
	}
	return nil
}

// referencesOnly is a conservative token-level check: every "?var" or
// bare alias token appearing in expr must be a known group var or alias,
// with or without its leading "?"; numeric literals are skipped.
// It does not attempt to parse full SPARQL boolean expressions.
func referencesOnly(expr string, aliases, groups map[string]bool) bool {
	tokens := tokenizeIdentifiers(expr)
	if len(tokens) == 0 {
		return true
	}
	for _, tok := range tokens {
		if tok[0] >= '0' && tok[0] <= '9' {
			continue
		}
		name := strings.TrimPrefix(tok, "?")
		if aliases[name] || aliases["?"+name] || groups[name] || groups["?"+name] {
			continue
		}
		return false
	}
	return true
}

func tokenizeIdentifiers(expr string) []string {
	var tokens []string
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, string(cur))
			cur = cur[:0]
		}
	}
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case c == '?':
			flush()
			cur = append(cur, '?')
		case isIdentByte(c):
			cur = append(cur, c)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func isIdentByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// GraphRef identifies a named graph either directly by IRI or by
// resolving a model/version/env/scenario tuple through a template, per
// spec §3.
type GraphRef struct {
	Name string

	Namespace  string
	Model      string
	Version    string
	Env        string
	ScenarioID string
}

// Resolve renders the GraphRef to a canonical IRI. When Name is set it is
// used verbatim; otherwise the supplied template (spec §3's
// "urn:{ns}:{model}:{version}:{env}[:{scenario_id}]" example) is rendered
// against the ref's fields.
func (g GraphRef) Resolve(tmpl string) (string, error) {
	if g.Name != "" {
		return g.Name, nil
	}
	if g.Model == "" || g.Version == "" || g.Env == "" {
		return "", errs.New(errs.InvalidConfig, "graph ref requires model, version and env when name is not set")
	}
	t, err := template.New("graph-iri").Parse(tmpl)
	if err != nil {
		return "", errs.Wrap(errs.InvalidConfig, err, "invalid graph iri template")
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, g); err != nil {
		return "", errs.Wrap(errs.InvalidConfig, err, "failed rendering graph iri template")
	}
	return buf.String(), nil
}

// CursorPage is the pagination request of spec §3/§6: an opaque cursor
// and a page size.
type CursorPage struct {
	Cursor string
	Size   int
}
