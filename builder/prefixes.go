package builder

import (
	"sort"

	"github.com/ulb-darmstadt/sparql-acl/errs"
)

// BuiltinPrefixes are merged into every query, per spec §4.2 step 1.
var BuiltinPrefixes = map[string]string{
	"rdf":  "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs": "http://www.w3.org/2000/01/rdf-schema#",
	"xsd":  "http://www.w3.org/2001/XMLSchema#",
	"prov": "http://www.w3.org/ns/prov#",
	"sf":   "http://example.org/sf#",
}

// mergePrefixes merges the built-in prefix table with the DSL's custom
// prefixes, validating every custom prefix name and failing with
// errs.InvalidPrefix on duplicates whose IRIs differ, per spec §4.2 step 1.
func mergePrefixes(custom map[string]string) (map[string]string, error) {
	merged := make(map[string]string, len(BuiltinPrefixes)+len(custom))
	for k, v := range BuiltinPrefixes {
		merged[k] = v
	}
	// iterate custom prefixes in a stable order so identical input always
	// produces identical output (spec §4.2's determinism guarantee).
	names := sortedKeys(custom)
	for _, name := range names {
		iri := custom[name]
		if !validatePrefixName(name) {
			return nil, errs.New(errs.InvalidPrefix, "invalid prefix name %q", name)
		}
		if existing, ok := merged[name]; ok && existing != iri {
			return nil, errs.New(errs.InvalidPrefix, "prefix %q declared with conflicting iris %q and %q", name, existing, iri)
		}
		merged[name] = iri
	}
	return merged, nil
}

func validatePrefixName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '_':
			continue
		case i > 0 && (c >= '0' && c <= '9' || c == '-'):
			continue
		default:
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// renderPrefixHeader renders PREFIX declarations in stable (sorted) order.
func renderPrefixHeader(prefixes map[string]string) string {
	var out string
	for _, name := range sortedKeys(prefixes) {
		out += "PREFIX " + name + ": <" + prefixes[name] + ">\n"
	}
	return out
}
