// Package mapper implements the Result Mapper of spec §4.9: it turns the
// raw SPARQL JSON Results payload returned by the store into typed
// bindings, casting XSD numeric/boolean/dateTime literals and leaving
// everything else as its raw lexical form.
//
// Grounded on the teacher's sparql/base.go/rdf/base.go
// (sparql.ParseJSON, res.Solutions(), rdf.Subject/Predicate/Object/Context
// type assertions) and rdf/label.go's rdf.Literal.Lang()/String() usage.
package mapper

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/knakk/rdf"
	"github.com/knakk/sparql"

	"github.com/ulb-darmstadt/sparql-acl/errs"
)

// XSD datatype IRIs recognised for casting, per spec §4.9.
const (
	xsdInteger  = "http://www.w3.org/2001/XMLSchema#integer"
	xsdInt      = "http://www.w3.org/2001/XMLSchema#int"
	xsdLong     = "http://www.w3.org/2001/XMLSchema#long"
	xsdDecimal  = "http://www.w3.org/2001/XMLSchema#decimal"
	xsdDouble   = "http://www.w3.org/2001/XMLSchema#double"
	xsdFloat    = "http://www.w3.org/2001/XMLSchema#float"
	xsdBoolean  = "http://www.w3.org/2001/XMLSchema#boolean"
	xsdDateTime = "http://www.w3.org/2001/XMLSchema#dateTime"
)

var numericDatatypes = map[string]bool{
	xsdInteger: true, xsdInt: true, xsdLong: true, xsdDecimal: true, xsdDouble: true, xsdFloat: true,
}

// Binding is one variable's value within one result row, per spec §4.9:
// {value, raw, type, datatype?, lang?}.
type Binding struct {
	Value    any
	Raw      string
	Type     string // "uri", "literal", or "bnode"
	Datatype string
	Lang     string
}

// Stats carries the outcome metadata attached to every normalised
// response, per spec §4.8.
type Stats struct {
	Status     int
	DurationMs int64
}

// SelectResponse is the normalised form of a SELECT result, per spec §4.8.
type SelectResponse struct {
	Vars     []string
	Bindings []map[string]Binding
	Stats    Stats
}

// MapBindings parses raw SPARQL JSON Results and casts each binding, per
// spec §4.9.
func MapBindings(data []byte) ([]string, []map[string]Binding, error) {
	res, err := sparql.ParseJSON(bytes.NewReader(data))
	if err != nil {
		return nil, nil, errs.Wrap(errs.FusekiQueryError, err, "failed parsing sparql json results")
	}

	rows := make([]map[string]Binding, 0, len(res.Solutions()))
	for _, solution := range res.Solutions() {
		row := make(map[string]Binding, len(res.Head.Vars))
		for _, v := range res.Head.Vars {
			term, ok := solution[v]
			if !ok {
				continue
			}
			row[v] = mapTerm(term)
		}
		rows = append(rows, row)
	}
	return res.Head.Vars, rows, nil
}

// MapSelect assembles the full SELECT response, per spec §4.8's
// "SELECT response is normalised to {vars, bindings, stats}".
func MapSelect(data []byte, status int, durationMs int64) (SelectResponse, error) {
	vars, bindings, err := MapBindings(data)
	if err != nil {
		return SelectResponse{}, err
	}
	return SelectResponse{Vars: vars, Bindings: bindings, Stats: Stats{Status: status, DurationMs: durationMs}}, nil
}

// ParseAsk extracts the boolean result of a SPARQL ASK query's JSON
// response body ({"head": {...}, "boolean": true}), a shape knakk/sparql's
// Solutions-oriented ParseJSON does not cover.
func ParseAsk(data []byte) (bool, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return false, errs.New(errs.Unexpected, "empty ask response")
	}
	var body struct {
		Boolean bool `json:"boolean"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return false, errs.Wrap(errs.Unexpected, err, "ask response is not valid JSON")
	}
	return body.Boolean, nil
}

// mapTerm converts one rdf.Term binding into a Binding, casting literals
// whose datatype is a recognised XSD numeric/boolean/dateTime type.
func mapTerm(term rdf.Term) Binding {
	switch t := term.(type) {
	case rdf.Literal:
		raw := t.String()
		datatype := t.DataType.String()
		lang := t.Lang()
		return Binding{
			Value:    castLiteral(raw, datatype),
			Raw:      raw,
			Type:     "literal",
			Datatype: datatype,
			Lang:     lang,
		}
	case rdf.Blank:
		return Binding{Value: t.String(), Raw: t.String(), Type: "bnode"}
	default:
		raw := term.String()
		return Binding{Value: raw, Raw: raw, Type: "uri"}
	}
}

// castLiteral casts a literal's lexical form per its XSD datatype, per
// spec §4.9. Uncastable or unrecognised values fall back to the raw string.
func castLiteral(raw, datatype string) any {
	switch {
	case numericDatatypes[datatype]:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case datatype == xsdBoolean:
		if b, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return b
		}
	case datatype == xsdDateTime:
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	return raw
}
