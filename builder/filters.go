package builder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ulb-darmstadt/sparql-acl/dsl"
	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/term"
)

// fieldVariable derives the FILTER/binding variable for a DSL filter
// field. A field already given as "?x" references a variable already
// bound by the main WHERE pattern (spec §4.2's convention variables like
// ?s/?p/?o/?t); any other field is treated as a predicate CURIE/IRI whose
// object is bound to a freshly generated variable name.
func fieldVariable(field string) string {
	if strings.HasPrefix(field, "?") {
		return field
	}
	var b strings.Builder
	b.WriteByte('?')
	for _, c := range field {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// isFieldVariable reports whether field is already a bound variable
// reference rather than a predicate needing a fresh binding.
func isFieldVariable(field string) bool {
	return strings.HasPrefix(field, "?")
}

// renderFilterValue renders a filter's comparison value. Already-wrapped
// IRIs ("<...>") and already-quoted literals ('"...') are passed through
// and (for IRIs) validated; bare numeric strings are rendered unquoted so
// numeric comparisons (<, <=, >, >=) work; anything else is escaped as a
// plain string literal. Per spec §9's open question, this builder never
// auto-wraps bare IRI-shaped values — callers must pass "<iri>" themselves.
func renderFilterValue(v string) (string, error) {
	if strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">") {
		inner := v[1 : len(v)-1]
		if _, err := term.EscapeIRI(inner); err != nil {
			return "", err
		}
		return v, nil
	}
	if strings.HasPrefix(v, `"`) {
		return v, nil
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v, nil
	}
	return term.EscapeLiteral(v, ""), nil
}

// renderFilter renders one FILTER clause (plus any binding triple it
// requires) for the given filter, per spec §4.2's operator mapping table.
// subjectVar lets callers control which subject a generated binding
// triple hangs off of (the raw/entity/relation patterns all bind
// fresh filter variables off ?s).
func renderFilter(f term.Filter, subjectVar string, prefixes map[string]string) (binding string, filterClause string, err error) {
	varName := fieldVariable(f.Field)

	needsBinding := !isFieldVariable(f.Field)
	renderBindingTriple := func(optional bool) (string, error) {
		predTerm, err := term.FormatIRIOrCURIE(f.Field, prefixes)
		if err != nil {
			return "", errs.Wrap(errs.InvalidIri, err, "invalid filter field %q", f.Field)
		}
		triple := fmt.Sprintf("%s %s %s .", subjectVar, predTerm, varName)
		if optional {
			return "OPTIONAL { " + triple + " }", nil
		}
		return triple, nil
	}

	switch f.Operator {
	case term.OpExists, term.OpIsNull:
		if needsBinding {
			binding, err = renderBindingTriple(true)
			if err != nil {
				return "", "", err
			}
		}
		if f.Operator == term.OpExists {
			return binding, fmt.Sprintf("FILTER(BOUND(%s))", varName), nil
		}
		return binding, fmt.Sprintf("FILTER(!BOUND(%s))", varName), nil
	}

	if needsBinding {
		binding, err = renderBindingTriple(false)
		if err != nil {
			return "", "", err
		}
	}

	switch f.Operator {
	case term.OpEq, term.OpNeq, term.OpLt, term.OpLte, term.OpGt, term.OpGte:
		val, ok := f.Value.(string)
		if !ok {
			return "", "", errs.New(errs.ConstraintViolation, "filter operator %q requires a string value", f.Operator)
		}
		rendered, err := renderFilterValue(val)
		if err != nil {
			return "", "", err
		}
		return binding, fmt.Sprintf("FILTER(%s %s %s)", varName, string(f.Operator), rendered), nil

	case term.OpIn:
		values, ok := f.Value.([]string)
		if !ok {
			return "", "", errs.New(errs.ConstraintViolation, "filter operator \"in\" requires a []string value")
		}
		rendered := make([]string, 0, len(values))
		for _, v := range values {
			r, err := renderFilterValue(v)
			if err != nil {
				return "", "", err
			}
			rendered = append(rendered, r)
		}
		return binding, fmt.Sprintf("FILTER(%s IN (%s))", varName, strings.Join(rendered, ", ")), nil

	case term.OpRange:
		rv, ok := f.Value.(term.RangeValue)
		if !ok {
			return "", "", errs.New(errs.ConstraintViolation, "filter operator \"range\" requires a RangeValue value")
		}
		var parts []string
		if rv.Gte != nil {
			rendered, err := renderFilterValue(*rv.Gte)
			if err != nil {
				return "", "", err
			}
			parts = append(parts, fmt.Sprintf("%s >= %s", varName, rendered))
		}
		if rv.Lte != nil {
			rendered, err := renderFilterValue(*rv.Lte)
			if err != nil {
				return "", "", err
			}
			parts = append(parts, fmt.Sprintf("%s <= %s", varName, rendered))
		}
		if len(parts) == 0 {
			return "", "", errs.New(errs.ConstraintViolation, "range filter requires at least one of gte/lte")
		}
		return binding, fmt.Sprintf("FILTER(%s)", strings.Join(parts, " && ")), nil

	case term.OpContains:
		val, ok := f.Value.(string)
		if !ok {
			return "", "", errs.New(errs.ConstraintViolation, "filter operator \"contains\" requires a string value")
		}
		return binding, fmt.Sprintf("FILTER(CONTAINS(STR(%s), %s))", varName, term.EscapeLiteral(val, "")), nil

	case term.OpRegex:
		val, ok := f.Value.(string)
		if !ok {
			return "", "", errs.New(errs.ConstraintViolation, "filter operator \"regex\" requires a string value")
		}
		return binding, fmt.Sprintf("FILTER(REGEX(STR(%s), %s))", varName, term.EscapeLiteral(val, "")), nil

	default:
		return "", "", errs.New(errs.ConstraintViolation, "unknown filter operator %q", f.Operator)
	}
}

// renderTimeWindow renders the time-window FILTER against the convention
// variable ?t, per spec §4.2.
func renderTimeWindow(tw *dsl.TimeWindow) string {
	if tw == nil {
		return ""
	}
	from := term.EscapeLiteral(tw.From, "http://www.w3.org/2001/XMLSchema#dateTime")
	to := term.EscapeLiteral(tw.To, "http://www.w3.org/2001/XMLSchema#dateTime")
	return fmt.Sprintf("FILTER(?t >= %s && ?t <= %s)", from, to)
}
