package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type ParseErrorKind string

const (
	ParseNoJSON         ParseErrorKind = "no_json"
	ParseMalformed      ParseErrorKind = "malformed"
	ParseSchemaMismatch ParseErrorKind = "schema_mismatch"
)

// ParseError reports why a model reply could not be turned into a payload.
type ParseError struct {
	Kind ParseErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse AI response (%s): %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Payload is a typed model output that can check its own shape.
type Payload interface {
	Validate() error
}

// ExtractJSON returns the greedy brace span of text: from the first '{' to
// the last '}'. With no such span the whole trimmed text is returned.
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return strings.TrimSpace(text)
	}
	return text[start : end+1]
}

// Normalize decodes a model reply into out. Structured tool output wins over
// free text; free text is scraped for its brace span before falling back to
// the whole reply. The decoded payload must pass Validate.
func Normalize(resp *LLMResponse, out Payload) (json.RawMessage, error) {
	var candidate []byte
	switch {
	case len(bytes.TrimSpace(resp.Structured)) > 0:
		candidate = resp.Structured
	default:
		candidate = []byte(ExtractJSON(resp.Content))
	}
	if len(candidate) == 0 {
		return nil, &ParseError{Kind: ParseNoJSON, Err: errors.New("empty reply")}
	}

	dec := json.NewDecoder(bytes.NewReader(candidate))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return nil, &ParseError{Kind: ParseMalformed, Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ParseError{Kind: ParseMalformed, Err: errors.New("trailing data after JSON object")}
	}
	if err := out.Validate(); err != nil {
		return nil, &ParseError{Kind: ParseSchemaMismatch, Err: err}
	}

	normalized, err := json.Marshal(out)
	if err != nil {
		return nil, &ParseError{Kind: ParseMalformed, Err: err}
	}
	return normalized, nil
}
