// Package planner implements the upsert planner of spec §4.3: it turns a
// batch of triples plus a merge strategy and a key discipline into an
// ordered sequence of DELETE/INSERT/INSERT-WHERE statements and a
// content-addressable request hash.
//
// Grounded on the teacher's base/util.go Hash (hash/fnv) for the digest,
// generalized from a single uint32 checksum into a wider fnv-128a hex
// digest so that (graph, strategy, key discipline, triples) collisions
// stay practically impossible, and on sparql/resources.go's
// fmt.Sprintf-based statement assembly style.
package planner

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/ulb-darmstadt/sparql-acl/dsl"
	"github.com/ulb-darmstadt/sparql-acl/errs"
	"github.com/ulb-darmstadt/sparql-acl/term"
)

// RDF* provenance vocabulary, per spec §3's provenance? field. Grounded on
// the original implementation's ProvenanceService, which reifies each
// written triple as "<<s p o>>" and hangs prov:/sf: annotations off it.
const (
	provGeneratedAtTime = "http://www.w3.org/ns/prov#generatedAtTime"
	provWasDerivedFrom  = "http://www.w3.org/ns/prov#wasDerivedFrom"
	sfEvidence          = "http://semanticforge.ai/ontologies/core#evidence"
	sfConfidence        = "http://semanticforge.ai/ontologies/core#confidence"
	sfMetadataPrefix    = "http://semanticforge.ai/ontologies/core#"
	xsdDateTime         = "http://www.w3.org/2001/XMLSchema#dateTime"
	xsdDecimal          = "http://www.w3.org/2001/XMLSchema#decimal"
)

// KeyDiscipline enumerates the grouping keys of spec §4.3.
type KeyDiscipline string

const (
	KeySubject       KeyDiscipline = "s"
	KeySubjectPred   KeyDiscipline = "s+p"
	KeyCustom        KeyDiscipline = "custom"
)

// MergeStrategy enumerates the upsert strategies of spec §4.3.
type MergeStrategy string

const (
	StrategyReplace MergeStrategy = "replace"
	StrategyIgnore  MergeStrategy = "ignore"
	StrategyAppend  MergeStrategy = "append"
)

// UpsertRequest is the planner's input, per spec §3. Prefixes is an
// additive convenience mirroring dsl.QueryDSL.Prefixes: triples may carry
// CURIE-shaped terms and are expanded the same way build_select does.
type UpsertRequest struct {
	Graph           dsl.GraphRef
	Triples         []term.Triple
	UpsertKey       KeyDiscipline
	CustomKeyFields []string
	MergeStrategy   MergeStrategy
	Provenance      *Provenance
	Prefixes        map[string]string
}

// Provenance is the optional RDF* reification metadata of spec §3's
// provenance? field: when set, every triple an upsert writes is annotated
// with a generatedAtTime stamp plus whichever of evidence/confidence/
// source/metadata are populated, following the original implementation's
// ProvenanceService._build_statements.
type Provenance struct {
	Evidence   string
	Confidence *float64
	Source     string
	Metadata   map[string]string
}

// UpsertStatement is one planned SPARQL Update statement, per spec §3.
type UpsertStatement struct {
	SPARQL           string
	Key              string
	Strategy         MergeStrategy
	Triples          []term.Triple
	RequiresSnapshot bool
}

// UpsertPlan is the planner's output, per spec §3.
type UpsertPlan struct {
	GraphIRI    string
	Statements  []UpsertStatement
	RequestHash string
}

// Plan realizes spec §4.3's plan(request) -> UpsertPlan. graphTemplate is
// the graph-IRI template used to resolve request.Graph when it names a
// model/version/env tuple instead of a literal graph IRI.
func Plan(request UpsertRequest, graphTemplate string) (UpsertPlan, error) {
	return PlanAt(request, graphTemplate, time.Now().UTC())
}

// PlanAt is Plan with an explicit instant, exposed so callers (and tests)
// can pin the provenance timestamp deterministically - the same idiom as
// package namedgraph's Snapshot/SnapshotAt.
func PlanAt(request UpsertRequest, graphTemplate string, now time.Time) (UpsertPlan, error) {
	if len(request.Triples) == 0 {
		return UpsertPlan{}, errs.New(errs.ConstraintViolation, "upsert request must contain at least one triple")
	}
	graphIRI, err := request.Graph.Resolve(graphTemplate)
	if err != nil {
		return UpsertPlan{}, err
	}
	positions, err := keyPositions(request.UpsertKey, request.CustomKeyFields)
	if err != nil {
		return UpsertPlan{}, err
	}

	groups, order, err := groupByKey(request.Triples, positions)
	if err != nil {
		return UpsertPlan{}, err
	}

	var statements []UpsertStatement
	for _, key := range order {
		triples := groups[key]
		stmts, err := emitStatements(key, triples, positions, graphIRI, request.MergeStrategy, request.Prefixes, request.Provenance, now)
		if err != nil {
			return UpsertPlan{}, err
		}
		statements = append(statements, stmts...)
	}

	hash, err := requestHash(graphIRI, request.MergeStrategy, request.UpsertKey, request.Triples, request.Prefixes)
	if err != nil {
		return UpsertPlan{}, err
	}

	return UpsertPlan{
		GraphIRI:    graphIRI,
		Statements:  statements,
		RequestHash: hash,
	}, nil
}

// keyPositions resolves the triple positions ("s", "p", "o") that
// participate in the grouping key, per spec §4.3 step 2.
func keyPositions(disc KeyDiscipline, custom []string) ([]string, error) {
	switch disc {
	case KeySubject:
		return []string{"s"}, nil
	case KeySubjectPred:
		return []string{"s", "p"}, nil
	case KeyCustom:
		if len(custom) == 0 {
			return nil, errs.New(errs.InvalidKey, "custom key discipline requires at least one custom_key_field")
		}
		for _, f := range custom {
			if f != "s" && f != "p" && f != "o" {
				return nil, errs.New(errs.InvalidKey, "unknown custom key field %q", f)
			}
		}
		return custom, nil
	default:
		return nil, errs.New(errs.InvalidKey, "unknown upsert key discipline %q", disc)
	}
}

// positionValue extracts the raw (unrendered) comparable value of a
// triple at the given position, used both for grouping and hashing.
func positionValue(t term.Triple, pos string) (string, error) {
	switch pos {
	case "s":
		return t.S.Value, nil
	case "p":
		return t.P.Value, nil
	case "o":
		return t.O.Value + "\x1f" + t.O.Lang + "\x1f" + t.O.DType, nil
	default:
		return "", errs.New(errs.InvalidKey, "unknown triple position %q", pos)
	}
}

// groupByKey groups triples by the key positions, per spec §4.3 step 2.
// order holds the group keys sorted, so statement order does not depend
// on input order.
func groupByKey(triples []term.Triple, positions []string) (map[string][]term.Triple, []string, error) {
	groups := make(map[string][]term.Triple)
	var order []string
	seen := make(map[string]bool)
	for _, t := range triples {
		parts := make([]string, len(positions))
		for i, pos := range positions {
			v, err := positionValue(t, pos)
			if err != nil {
				return nil, nil, err
			}
			parts[i] = v
		}
		key := strings.Join(parts, "\x1e")
		groups[key] = append(groups[key], t)
		if !seen[key] {
			seen[key] = true
			order = append(order, key)
		}
	}
	slices.Sort(order)
	return groups, order, nil
}

// emitStatements realizes spec §4.3 step 3 for one key group.
func emitStatements(key string, triples []term.Triple, positions []string, graphIRI string, strategy MergeStrategy, prefixes map[string]string, prov *Provenance, now time.Time) ([]UpsertStatement, error) {
	requiresSnapshot := strategy == StrategyReplace

	switch strategy {
	case StrategyReplace:
		pattern, err := keyPattern(triples[0], positions, prefixes)
		if err != nil {
			return nil, err
		}
		newTriples, err := renderTripleBlock(triples, prefixes)
		if err != nil {
			return nil, err
		}
		insertBlock, err := appendProvenance(newTriples, triples, prov, prefixes, now)
		if err != nil {
			return nil, err
		}
		sparql := fmt.Sprintf(
			"DELETE { GRAPH <%s> { %s } }\nINSERT { GRAPH <%s> { %s } }\nWHERE { GRAPH <%s> { %s } }",
			graphIRI, pattern, graphIRI, insertBlock, graphIRI, pattern,
		)
		return []UpsertStatement{{
			SPARQL:           sparql,
			Key:              key,
			Strategy:         strategy,
			Triples:          triples,
			RequiresSnapshot: requiresSnapshot,
		}}, nil

	case StrategyIgnore:
		statements := make([]UpsertStatement, 0, len(triples))
		for _, t := range triples {
			rendered, err := renderTripleBlock([]term.Triple{t}, prefixes)
			if err != nil {
				return nil, err
			}
			insertBlock, err := appendProvenance(rendered, []term.Triple{t}, prov, prefixes, now)
			if err != nil {
				return nil, err
			}
			sparql := fmt.Sprintf(
				"INSERT { GRAPH <%s> { %s } }\nWHERE { FILTER NOT EXISTS { GRAPH <%s> { %s } } }",
				graphIRI, insertBlock, graphIRI, rendered,
			)
			statements = append(statements, UpsertStatement{
				SPARQL:           sparql,
				Key:              key,
				Strategy:         strategy,
				Triples:          []term.Triple{t},
				RequiresSnapshot: requiresSnapshot,
			})
		}
		return statements, nil

	case StrategyAppend:
		rendered, err := renderTripleBlock(triples, prefixes)
		if err != nil {
			return nil, err
		}
		insertBlock, err := appendProvenance(rendered, triples, prov, prefixes, now)
		if err != nil {
			return nil, err
		}
		sparql := fmt.Sprintf("INSERT DATA { GRAPH <%s> { %s } }", graphIRI, insertBlock)
		return []UpsertStatement{{
			SPARQL:           sparql,
			Key:              key,
			Strategy:         strategy,
			Triples:          triples,
			RequiresSnapshot: requiresSnapshot,
		}}, nil

	default:
		return nil, errs.New(errs.UnknownStrategy, "unknown merge strategy %q", strategy)
	}
}

// appendProvenance extends an already-rendered triple block with the RDF*
// provenance fragments for the same triples, when provenance was
// requested.
func appendProvenance(block string, triples []term.Triple, prov *Provenance, prefixes map[string]string, now time.Time) (string, error) {
	if prov == nil {
		return block, nil
	}
	provLines, err := renderProvenanceBlock(triples, prov, prefixes, now)
	if err != nil {
		return "", err
	}
	if provLines == "" {
		return block, nil
	}
	return block + "\n" + provLines, nil
}

// renderProvenanceBlock renders one RDF* fragment per triple plus its
// requested annotations, per spec §3's provenance? field. Grounded on
// ProvenanceService._build_statements: generatedAtTime is always emitted,
// evidence/confidence/source are conditional on being set, and Metadata
// entries become additional sf:-namespaced (or caller-supplied CURIE)
// predicates.
func renderProvenanceBlock(triples []term.Triple, prov *Provenance, prefixes map[string]string, now time.Time) (string, error) {
	var lines []string
	timestamp := now.UTC().Format(time.RFC3339)

	for _, t := range triples {
		fragment, err := renderRDFStarFragment(t, prefixes)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("%s <%s> %s .", fragment, provGeneratedAtTime, term.EscapeLiteral(timestamp, xsdDateTime)))

		if prov.Evidence != "" {
			lines = append(lines, fmt.Sprintf("%s <%s> %s .", fragment, sfEvidence, term.EscapeLiteral(prov.Evidence, "")))
		}
		if prov.Confidence != nil {
			confidence := strconv.FormatFloat(*prov.Confidence, 'f', -1, 64)
			lines = append(lines, fmt.Sprintf("%s <%s> %s .", fragment, sfConfidence, term.EscapeLiteral(confidence, xsdDecimal)))
		}
		if prov.Source != "" {
			sourceTerm, err := provenanceObjectTerm(prov.Source, prefixes)
			if err != nil {
				return "", err
			}
			lines = append(lines, fmt.Sprintf("%s <%s> %s .", fragment, provWasDerivedFrom, sourceTerm))
		}

		keys := make([]string, 0, len(prov.Metadata))
		for k := range prov.Metadata {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			predicate, err := provenancePredicate(k, prefixes)
			if err != nil {
				return "", err
			}
			objectTerm, err := provenanceObjectTerm(prov.Metadata[k], prefixes)
			if err != nil {
				return "", err
			}
			lines = append(lines, fmt.Sprintf("%s %s %s .", fragment, predicate, objectTerm))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// renderRDFStarFragment renders a triple as an RDF* "<<s p o>>" fragment
// for a reifying annotation to attach to.
func renderRDFStarFragment(t term.Triple, prefixes map[string]string) (string, error) {
	s, err := term.FormatTerm(t.S, prefixes)
	if err != nil {
		return "", err
	}
	p, err := term.FormatTerm(t.P, prefixes)
	if err != nil {
		return "", err
	}
	o, err := term.FormatTerm(t.O, prefixes)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<<%s %s %s>>", s, p, o), nil
}

// provenancePredicate renders a metadata key as a predicate: a key that
// already carries a CURIE prefix (e.g. "sf:batchId") is passed through
// the sanitizer as-is, everything else is namespaced under sf: with any
// non-alphanumeric rune folded to "_", mirroring
// ProvenanceService._format_extra_predicate.
func provenancePredicate(key string, prefixes map[string]string) (string, error) {
	if strings.Contains(key, ":") {
		return term.FormatTerm(term.IRITerm(key), prefixes)
	}
	return "<" + sfMetadataPrefix + safeMetadataKey(key) + ">", nil
}

func safeMetadataKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// provenanceObjectTerm renders a provenance value as an IRI when it looks
// like one (absolute http(s)/urn), otherwise as a plain literal, mirroring
// ProvenanceService._format_possible_iri.
func provenanceObjectTerm(value string, prefixes map[string]string) (string, error) {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") || strings.HasPrefix(value, "urn:") {
		return term.FormatTerm(term.IRITerm(value), prefixes)
	}
	return term.FormatTerm(term.LiteralTerm(value), prefixes)
}

// keyPattern renders the key-matching pattern of spec §4.3 step 3: the
// key positions of sample (every triple in the group shares the same
// key) are rendered as their concrete terms, every other position is a
// fresh wildcard variable, so the pattern matches regardless of the
// group's current non-key content.
func keyPattern(sample term.Triple, positions []string, prefixes map[string]string) (string, error) {
	keyed := make(map[string]bool, len(positions))
	for _, p := range positions {
		keyed[p] = true
	}

	s, err := patternTerm(sample.S, "s", keyed, prefixes)
	if err != nil {
		return "", err
	}
	p, err := patternTerm(sample.P, "p", keyed, prefixes)
	if err != nil {
		return "", err
	}
	o, err := patternObjectTerm(sample, keyed, prefixes)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s .", s, p, o), nil
}

func patternTerm(t term.Term, pos string, keyed map[string]bool, prefixes map[string]string) (string, error) {
	if !keyed[pos] {
		return "?" + pos, nil
	}
	return term.FormatTerm(t, prefixes)
}

func patternObjectTerm(sample term.Triple, keyed map[string]bool, prefixes map[string]string) (string, error) {
	if !keyed["o"] {
		return "?o", nil
	}
	return term.FormatTerm(sample.O, prefixes)
}

// renderTripleBlock renders triples as a newline-separated block of
// "S P O ." lines.
func renderTripleBlock(triples []term.Triple, prefixes map[string]string) (string, error) {
	lines := make([]string, 0, len(triples))
	for _, t := range triples {
		s, err := term.FormatTerm(t.S, prefixes)
		if err != nil {
			return "", err
		}
		p, err := term.FormatTerm(t.P, prefixes)
		if err != nil {
			return "", err
		}
		o, err := term.FormatTerm(t.O, prefixes)
		if err != nil {
			return "", err
		}
		lines = append(lines, fmt.Sprintf("%s %s %s .", s, p, o))
	}
	return strings.Join(lines, "\n"), nil
}

// requestHash computes the stable digest of spec §4.3 step 4 over
// (graph_iri, strategy, key_discipline, sorted canonical triples).
func requestHash(graphIRI string, strategy MergeStrategy, discipline KeyDiscipline, triples []term.Triple, prefixes map[string]string) (string, error) {
	canonical := make([]string, 0, len(triples))
	for _, t := range triples {
		s, err := term.FormatTerm(t.S, prefixes)
		if err != nil {
			return "", err
		}
		p, err := term.FormatTerm(t.P, prefixes)
		if err != nil {
			return "", err
		}
		o, err := term.FormatTerm(t.O, prefixes)
		if err != nil {
			return "", err
		}
		canonical = append(canonical, fmt.Sprintf("%s %s %s .", s, p, o))
	}
	slices.Sort(canonical)

	var body strings.Builder
	body.WriteString(graphIRI)
	body.WriteByte('\x1d')
	body.WriteString(string(strategy))
	body.WriteByte('\x1d')
	body.WriteString(string(discipline))
	body.WriteByte('\x1d')
	body.WriteString(strings.Join(canonical, "\n"))

	h := fnv.New128a()
	h.Write([]byte(body.String()))
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
