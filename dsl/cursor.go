package dsl

import (
	"encoding/base64"
	"encoding/json"

	"github.com/ulb-darmstadt/sparql-acl/errs"
)

// CursorValueType enumerates the sort-key types a cursor may continue from,
// per spec §3/§6.
type CursorValueType string

const (
	CursorURI     CursorValueType = "uri"
	CursorLiteral CursorValueType = "literal"
)

// CursorValue is the decoded payload of an opaque cursor: the last seen
// sort-key value and its type.
type CursorValue struct {
	Type  CursorValueType `json:"type"`
	Value string          `json:"value"`
}

// EncodeCursor renders a CursorValue as base64url(JSON) with sorted keys,
// per spec §6. encoding/json emits object keys in the declared struct
// field order, which here is {type, value}, i.e. sorted.
func EncodeCursor(v CursorValue) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errs.Wrap(errs.Unexpected, err, "failed encoding cursor")
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(data), nil
}

// DecodeCursor parses an opaque cursor string produced by EncodeCursor.
// Invalid base64 or malformed JSON yields errs.InvalidCursor, per spec §6.
func DecodeCursor(cursor string) (CursorValue, error) {
	var zero CursorValue
	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(cursor)
	if err != nil {
		return zero, errs.Wrap(errs.InvalidCursor, err, "invalid cursor encoding")
	}
	var v CursorValue
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, errs.Wrap(errs.InvalidCursor, err, "invalid cursor payload")
	}
	if v.Type != CursorURI && v.Type != CursorLiteral {
		return zero, errs.New(errs.InvalidCursor, "invalid cursor type %q", v.Type)
	}
	return v, nil
}
