// Package term implements the data model primitives of spec §3 (Term,
// Triple, Filter) and the sanitizer of spec §4.1. Other packages render
// triple terms, filter values and predicates through it; graph IRIs and
// some query fragments (see package builder) are interpolated by those
// packages without passing through it.
//
// Grounded on the teacher's own injection guards (rdf/util.go's
// isValidIRI, rdf/resource.go's "prevent SPARQL injection" checks before
// string-formatting an IRI into a query) and shacl/constants.go's IRI
// construction style, generalized into a reusable validating formatter.
package term

import (
	"strings"

	"github.com/ulb-darmstadt/sparql-acl/errs"
)

// Kind identifies what a Term represents.
type Kind int

const (
	Variable Kind = iota
	IRI
	Literal
)

// Term is a SPARQL term: a variable, an IRI (absolute or CURIE), or a literal.
type Term struct {
	Kind  Kind
	Value string
	// Lang and DType are mutually exclusive and only meaningful when Kind == Literal.
	Lang  string
	DType string
}

// Var constructs a variable term (the leading "?" is added if missing).
func Var(name string) Term {
	if !strings.HasPrefix(name, "?") {
		name = "?" + name
	}
	return Term{Kind: Variable, Value: name}
}

// IRITerm constructs an IRI or CURIE term.
func IRITerm(value string) Term {
	return Term{Kind: IRI, Value: value}
}

// LiteralTerm constructs a plain literal.
func LiteralTerm(value string) Term {
	return Term{Kind: Literal, Value: value}
}

// LiteralWithLang constructs a language-tagged literal.
func LiteralWithLang(value, lang string) Term {
	return Term{Kind: Literal, Value: value, Lang: lang}
}

// LiteralWithType constructs a datatyped literal.
func LiteralWithType(value, dtype string) Term {
	return Term{Kind: Literal, Value: value, DType: dtype}
}

// Triple is the core data-model record of spec §3. S must be an IRI or
// blank node, P must be an IRI, O may be IRI, blank node or literal.
type Triple struct {
	S     Term
	P     Term
	O     Term
	Lang  string
	DType string
}

// FilterOperator enumerates the operators named in spec §3.
type FilterOperator string

const (
	OpEq       FilterOperator = "="
	OpNeq      FilterOperator = "!="
	OpLt       FilterOperator = "<"
	OpLte      FilterOperator = "<="
	OpGt       FilterOperator = ">"
	OpGte      FilterOperator = ">="
	OpIn       FilterOperator = "in"
	OpRange    FilterOperator = "range"
	OpContains FilterOperator = "contains"
	OpRegex    FilterOperator = "regex"
	OpExists   FilterOperator = "exists"
	OpIsNull   FilterOperator = "isNull"
)

// RangeValue is the value shape for OpRange filters.
type RangeValue struct {
	Gte *string
	Lte *string
}

// Filter is the predicate-application record of spec §3.
type Filter struct {
	Field    string
	Operator FilterOperator
	Value    any // string, []string, or RangeValue depending on Operator
}

var forbiddenIRIChars = []rune{'<', '>', '"', '{', '}', '|', '\\', '^', '`'}

// EscapeIRI validates an IRI per spec §4.1: it must be non-empty, must
// start with "http://" or "https://", and must not contain any of the
// forbidden characters. It returns the IRI unchanged when valid.
func EscapeIRI(s string) (string, error) {
	if s == "" {
		return "", errs.New(errs.InvalidIri, "iri must not be empty")
	}
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return "", errs.New(errs.InvalidIri, "iri %q must start with http:// or https://", s)
	}
	for _, c := range forbiddenIRIChars {
		if strings.ContainsRune(s, c) {
			return "", errs.New(errs.InvalidIri, "iri %q contains forbidden character %q", s, c)
		}
	}
	return s, nil
}

// EscapeLiteral escapes a string literal's backslashes then quotes, per
// spec §4.1, and renders it as a quoted SPARQL literal, optionally typed.
func EscapeLiteral(value string, dtype string) string {
	escaped := escapeLiteralBody(value)
	if dtype != "" {
		return "\"" + escaped + "\"^^<" + dtype + ">"
	}
	return "\"" + escaped + "\""
}

// EscapeLiteralWithLang renders a language-tagged literal.
func EscapeLiteralWithLang(value, lang string) string {
	escaped := escapeLiteralBody(value)
	if lang == "" {
		return "\"" + escaped + "\""
	}
	return "\"" + escaped + "\"@" + lang
}

func escapeLiteralBody(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return replacer.Replace(value)
}

// validPrefixRune reports whether c may appear in a CURIE prefix after
// the first character (XML NCName-lite per spec §4.1).
func validPrefixRune(c rune, first bool) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '_':
		return true
	case !first && (c >= '0' && c <= '9' || c == '-'):
		return true
	default:
		return false
	}
}

// ValidatePrefix reports whether a prefix name matches [A-Za-z_][A-Za-z0-9_-]*.
func ValidatePrefix(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		if !validPrefixRune(c, i == 0) {
			return false
		}
	}
	return true
}

// FormatTerm renders a Term into SPARQL surface syntax, per spec §4.1:
// a variable as-is, an IRI as "<iri>" after validation (or "prefix:local"
// if it is a CURIE whose prefix is declared; a CURIE whose prefix is not
// declared is not expanded and fails validation as an invalid IRI),
// and a literal via EscapeLiteral/EscapeLiteralWithLang.
func FormatTerm(t Term, prefixes map[string]string) (string, error) {
	switch t.Kind {
	case Variable:
		return t.Value, nil
	case IRI:
		return FormatIRIOrCURIE(t.Value, prefixes)
	case Literal:
		if t.Lang != "" {
			return EscapeLiteralWithLang(t.Value, t.Lang), nil
		}
		return EscapeLiteral(t.Value, t.DType), nil
	default:
		return "", errs.New(errs.Unexpected, "unknown term kind %d", t.Kind)
	}
}

// FormatIRIOrCURIE renders an IRI-shaped value: if it already starts with
// "<" it is assumed pre-wrapped and returned unchanged (callers are
// responsible for auto-wrapping decisions, per spec §9's open question);
// if it is a CURIE ("prefix:local") with a declared prefix, it is
// returned as-is; otherwise it is validated and wrapped in angle brackets.
func FormatIRIOrCURIE(value string, prefixes map[string]string) (string, error) {
	if strings.HasPrefix(value, "<") && strings.HasSuffix(value, ">") {
		inner := value[1 : len(value)-1]
		if _, err := EscapeIRI(inner); err != nil {
			return "", err
		}
		return value, nil
	}
	if idx := strings.Index(value, ":"); idx > 0 && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		prefix, local := value[:idx], value[idx+1:]
		if ValidatePrefix(prefix) {
			if _, declared := prefixes[prefix]; declared {
				return prefix + ":" + local, nil
			}
			if expansion, ok := CURIEExpand(prefix, local, prefixes); ok {
				wrapped, err := EscapeIRI(expansion)
				if err != nil {
					return "", err
				}
				return "<" + wrapped + ">", nil
			}
		}
	}
	wrapped, err := EscapeIRI(value)
	if err != nil {
		return "", err
	}
	return "<" + wrapped + ">", nil
}

// CURIEExpand expands a CURIE's prefix against a declared prefix map.
func CURIEExpand(prefix, local string, prefixes map[string]string) (string, bool) {
	base, ok := prefixes[prefix]
	if !ok {
		return "", false
	}
	return base + local, true
}

// ArrayToSparqlValues renders a slice of already-validated IRIs as a
// space-separated "<iri> <iri> ..." fragment, mirroring the teacher's
// rdf/util.go arrayToSparqlValues helper (used to build VALUES clauses).
func ArrayToSparqlValues(values []string) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString("<")
		b.WriteString(v)
		b.WriteString("> ")
	}
	return b.String()
}
