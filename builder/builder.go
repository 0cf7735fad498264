// Package builder implements the DSL → SPARQL compiler of spec §4.2: a
// pure function set turning a QueryDSL into SELECT/CONSTRUCT query text,
// plus the cursor-stable pagination query of build_select_with_cursor.
//
// Grounded on the teacher's query-assembly style in sparql/resources.go
// (fmt.Sprintf-based SPARQL string construction) and rdf/label.go (the
// text/template-based VALUES-clause assembly, echoed here in the cursor
// query's FILTER construction). Triple terms, filter values, expand
// predicates, participants, cursor values and GROUP_CONCAT separators go
// through the term package's sanitizer. The graph IRI, aggregation and
// sort variables, GROUP BY entries, HAVING expressions, "?"-prefixed
// filter fields and filter values that already start with a double quote
// are written into the query as given.
package builder

import (
	"fmt"
	"strings"

	"github.com/ulb-darmstadt/sparql-acl/dsl"
	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/term"
)

// compiled holds the intermediate pieces of a query under construction.
type compiled struct {
	prefixes map[string]string
	bindings []string
	filters  []string
}

// BuildSelect renders dsl as a SELECT query, per spec §4.2. graph, when
// non-nil, wraps the WHERE body in GRAPH <graph> { ... }.
func BuildSelect(d dsl.QueryDSL, graph *string) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	prefixes, err := mergePrefixes(d.Prefixes)
	if err != nil {
		return "", err
	}
	c := &compiled{prefixes: prefixes}
	if err := c.renderPattern(d); err != nil {
		return "", err
	}

	var out strings.Builder
	out.WriteString(renderPrefixHeader(prefixes))
	out.WriteString(renderSelectHead(d))
	out.WriteString("\nWHERE {\n")
	out.WriteString(indentBody(c.body(), graph))
	out.WriteString("}\n")
	appendGroupHavingOrderLimit(&out, d)
	return out.String(), nil
}

// BuildConstruct renders dsl as a CONSTRUCT ?s ?p ?o query, per spec §4.2.
func BuildConstruct(d dsl.QueryDSL, graph *string) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	prefixes, err := mergePrefixes(d.Prefixes)
	if err != nil {
		return "", err
	}
	c := &compiled{prefixes: prefixes}
	if err := c.renderPattern(d); err != nil {
		return "", err
	}

	var out strings.Builder
	out.WriteString(renderPrefixHeader(prefixes))
	out.WriteString("CONSTRUCT { ?s ?p ?o }")
	out.WriteString("\nWHERE {\n")
	out.WriteString(indentBody(c.body(), graph))
	out.WriteString("}\n")
	appendGroupHavingOrderLimit(&out, d)
	return out.String(), nil
}

// BuildSelectWithCursor renders the cursor-stable pagination query of
// spec §4.2: SELECT DISTINCT {sortKey}, a cursor FILTER comparing against
// page.Cursor's decoded value, ORDER BY {sortKey}, and LIMIT size+1 (the
// extra row is the has_more probe, discarded by the caller).
func BuildSelectWithCursor(d dsl.QueryDSL, page dsl.CursorPage, sortKey string, graph *string) (string, error) {
	if sortKey == "" {
		sortKey = "?s"
	}
	if page.Size <= 0 {
		return "", errs.New(errs.InvalidConfig, "cursor page size must be positive")
	}
	prefixes, err := mergePrefixes(d.Prefixes)
	if err != nil {
		return "", err
	}
	c := &compiled{prefixes: prefixes}
	if err := c.renderPattern(d); err != nil {
		return "", err
	}

	if page.Cursor != "" {
		cv, err := dsl.DecodeCursor(page.Cursor)
		if err != nil {
			return "", err
		}
		switch cv.Type {
		case dsl.CursorURI:
			c.filters = append(c.filters, fmt.Sprintf(`FILTER(STR(%s) > %s)`, sortKey, term.EscapeLiteral(cv.Value, "")))
		case dsl.CursorLiteral:
			c.filters = append(c.filters, fmt.Sprintf(`FILTER(%s > %s)`, sortKey, term.EscapeLiteral(cv.Value, "")))
		default:
			return "", errs.New(errs.InvalidCursor, "unsupported cursor type %q", cv.Type)
		}
	}

	var out strings.Builder
	out.WriteString(renderPrefixHeader(prefixes))
	out.WriteString(fmt.Sprintf("SELECT DISTINCT %s", sortKey))
	out.WriteString("\nWHERE {\n")
	out.WriteString(indentBody(c.body(), graph))
	out.WriteString("}\n")
	out.WriteString(fmt.Sprintf("ORDER BY %s\n", sortKey))
	out.WriteString(fmt.Sprintf("LIMIT %d\n", page.Size+1))
	return out.String(), nil
}

// renderPattern builds the WHERE-body bindings/filters for d, per spec
// §4.2 step 3: type-specific core pattern, expand OPTIONALs, declared
// filters (in order) and the time-window filter.
func (c *compiled) renderPattern(d dsl.QueryDSL) error {
	switch d.Type {
	case dsl.TypeEntity:
		c.bindings = append(c.bindings, "?s ?p ?o .")
	case dsl.TypeRelation:
		c.bindings = append(c.bindings, "?s ?p ?o .", "FILTER(isIRI(?o))")
	case dsl.TypeEvent:
		c.bindings = append(c.bindings, "?s ?p ?o .")
		for _, participant := range d.Participants {
			rendered, err := term.FormatIRIOrCURIE(participant, c.prefixes)
			if err != nil {
				return errs.Wrap(errs.InvalidIri, err, "invalid participant")
			}
			c.bindings = append(c.bindings, fmt.Sprintf("?s <http://www.w3.org/ns/prov#wasAssociatedWith> %s .", rendered))
		}
	case dsl.TypeRaw, "":
		c.bindings = append(c.bindings, "?s ?p ?o .")
	default:
		return errs.New(errs.ConstraintViolation, "unknown query type %q", d.Type)
	}

	for _, predicate := range d.Expand {
		rendered, err := term.FormatIRIOrCURIE(predicate, c.prefixes)
		if err != nil {
			return errs.Wrap(errs.InvalidIri, err, "invalid expand predicate %q", predicate)
		}
		alias := fieldVariable(predicate)
		c.bindings = append(c.bindings, fmt.Sprintf("OPTIONAL { ?s %s %s }", rendered, alias))
	}

	for _, f := range d.Filters {
		binding, clause, err := renderFilter(f, "?s", c.prefixes)
		if err != nil {
			return err
		}
		if binding != "" {
			c.bindings = append(c.bindings, binding)
		}
		c.filters = append(c.filters, clause)
	}

	if tw := renderTimeWindow(d.TimeWindow); tw != "" {
		c.filters = append(c.filters, tw)
	}
	return nil
}

func (c *compiled) body() string {
	var lines []string
	lines = append(lines, c.bindings...)
	lines = append(lines, c.filters...)
	return strings.Join(lines, "\n")
}

// indentBody wraps body in GRAPH <graph> { ... } when graph is non-nil.
func indentBody(body string, graph *string) string {
	if graph == nil {
		return body + "\n"
	}
	return fmt.Sprintf("GRAPH <%s> {\n%s\n}\n", *graph, body)
}

// renderSelectHead renders the SELECT head, per spec §4.2 step 2: plain
// "SELECT *" when there are no aggregations, otherwise one projection per
// aggregation followed by the group variables.
func renderSelectHead(d dsl.QueryDSL) string {
	if len(d.Aggregations) == 0 {
		return "SELECT *"
	}
	var parts []string
	for _, a := range d.Aggregations {
		parts = append(parts, renderAggregation(a))
	}
	parts = append(parts, d.GroupBy...)
	return "SELECT " + strings.Join(parts, " ")
}

func renderAggregation(a dsl.Aggregation) string {
	var inner strings.Builder
	inner.WriteString(string(a.Function))
	inner.WriteString("(")
	if a.Distinct {
		inner.WriteString("DISTINCT ")
	}
	inner.WriteString(a.Variable)
	if a.Function == dsl.FuncGroupConcat && a.Separator != "" {
		inner.WriteString(fmt.Sprintf("; SEPARATOR=%s", term.EscapeLiteral(a.Separator, "")))
	}
	inner.WriteString(")")
	alias := a.Alias
	if alias == "" {
		alias = "agg"
	}
	return fmt.Sprintf("(%s AS ?%s)", inner.String(), strings.TrimPrefix(alias, "?"))
}

// appendGroupHavingOrderLimit appends GROUP BY/HAVING, ORDER BY (only
// when explicit) and LIMIT/OFFSET, per spec §4.2 steps 4-6.
func appendGroupHavingOrderLimit(out *strings.Builder, d dsl.QueryDSL) {
	if len(d.GroupBy) > 0 {
		out.WriteString("GROUP BY " + strings.Join(d.GroupBy, " ") + "\n")
	}
	if len(d.Having) > 0 {
		out.WriteString("HAVING(" + strings.Join(d.Having, " && ") + ")\n")
	}
	// No implicit ORDER BY ?s is ever added when aggregations are present
	// (spec §4.2 step 5) - only render when the DSL explicitly asked for one.
	if d.Sort != nil {
		dir := ""
		if d.Sort.Descending {
			dir = " DESC"
		}
		out.WriteString(fmt.Sprintf("ORDER BY %s%s\n", d.Sort.Variable, dir))
	}
	if d.Page != nil {
		if d.Page.Size > 0 {
			out.WriteString(fmt.Sprintf("LIMIT %d\n", d.Page.Size))
		}
		if d.Page.Offset > 0 {
			out.WriteString(fmt.Sprintf("OFFSET %d\n", d.Page.Offset))
		}
	}
}
