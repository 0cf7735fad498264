package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResults = `{
  "head": {"vars": ["s", "label", "age", "active", "seen"]},
  "results": {
    "bindings": [
      {
        "s": {"type": "uri", "value": "http://example.org/e1"},
        "label": {"type": "literal", "value": "Example", "xml:lang": "en"},
        "age": {"type": "literal", "value": "42", "datatype": "http://www.w3.org/2001/XMLSchema#integer"},
        "active": {"type": "literal", "value": "true", "datatype": "http://www.w3.org/2001/XMLSchema#boolean"},
        "seen": {"type": "literal", "value": "2026-01-01T00:00:00Z", "datatype": "http://www.w3.org/2001/XMLSchema#dateTime"}
      }
    ]
  }
}`

func TestMapBindingsCastsTypedLiterals(t *testing.T) {
	vars, rows, err := MapBindings([]byte(sampleResults))
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "label", "age", "active", "seen"}, vars)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "uri", row["s"].Type)
	assert.Equal(t, "http://example.org/e1", row["s"].Value)

	assert.Equal(t, "literal", row["label"].Type)
	assert.Equal(t, "en", row["label"].Lang)
	assert.Equal(t, "Example", row["label"].Value)

	assert.Equal(t, float64(42), row["age"].Value)
	assert.Equal(t, true, row["active"].Value)

	seen, ok := row["seen"].Value.(interface{ IsZero() bool })
	require.True(t, ok, "dateTime literal must cast to a time.Time-like value")
	assert.False(t, seen.IsZero())
}

func TestMapSelectAttachesStats(t *testing.T) {
	resp, err := MapSelect([]byte(sampleResults), 200, 15)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Stats.Status)
	assert.Equal(t, int64(15), resp.Stats.DurationMs)
	assert.Len(t, resp.Bindings, 1)
}

func TestMapBindingsRejectsGarbage(t *testing.T) {
	_, _, err := MapBindings([]byte("not json"))
	require.Error(t, err)
}

func TestMapBindingsUncastableFallsBackToRaw(t *testing.T) {
	const raw = `{
	  "head": {"vars": ["x"]},
	  "results": {"bindings": [{"x": {"type": "literal", "value": "not-a-number", "datatype": "http://www.w3.org/2001/XMLSchema#integer"}}]}
	}`
	_, rows, err := MapBindings([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "not-a-number", rows[0]["x"].Value)
}

func TestParseAskHandlesWhitespaceAndReordering(t *testing.T) {
	for _, body := range []string{
		`{"head":{},"boolean":true}`,
		`{"head": {}, "boolean": true}`,
		"{\n  \"head\": {},\n  \"boolean\": true\n}",
		`{"boolean": true, "head": {}}`,
	} {
		got, err := ParseAsk([]byte(body))
		require.NoError(t, err)
		assert.True(t, got, "body: %s", body)
	}

	got, err := ParseAsk([]byte(`{"head":{},"boolean":false}`))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestParseAskRejectsEmptyAndMalformed(t *testing.T) {
	_, err := ParseAsk(nil)
	require.Error(t, err)

	_, err = ParseAsk([]byte("   "))
	require.Error(t, err)

	_, err = ParseAsk([]byte("not json"))
	require.Error(t, err)
}
