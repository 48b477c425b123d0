package grading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Response is a decoded answer payload: either a Scalar or a Set.
type Response interface {
	// Text renders the response for display and for the scoring service.
	Text() string
	isResponse()
}

// Scalar is a single-valued answer (MC, TF, free text).
type Scalar string

func (s Scalar) Text() string { return string(s) }
func (Scalar) isResponse() {}

// Set is a multi-valued answer (multi-select, multiple blanks).
type Set []string

func (s Set) Text() string { return strings.Join(s, ", ") }
func (Set) isResponse() {}

// normalized returns the sorted, de-duplicated members.
func (s Set) normalized() []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

var errUnsupportedPayload = errors.New("unsupported answer payload")

// DecodeResponse decodes a raw JSON payload. Strings, booleans and numbers
// become a Scalar with their canonical text; arrays of those become a Set.
// A payload that is not valid JSON is taken as literal text.
func DecodeResponse(raw json.RawMessage) (Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Scalar(""), nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return Scalar(string(trimmed)), nil
	}
	switch t := v.(type) {
	case nil:
		return Scalar(""), nil
	case []any:
		out := make(Set, 0, len(t))
		for i, e := range t {
			s, ok := scalarText(e)
			if !ok {
				return nil, fmt.Errorf("%w: element %d", errUnsupportedPayload, i)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		s, ok := scalarText(t)
		if !ok {
			return nil, errUnsupportedPayload
		}
		return Scalar(s), nil
	}
}

func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// IsBlank reports whether the student left the question unanswered.
func IsBlank(raw json.RawMessage) bool {
	resp, err := DecodeResponse(raw)
	if err != nil {
		return false
	}
	switch r := resp.(type) {
	case Scalar:
		return strings.TrimSpace(string(r)) == ""
	case Set:
		for _, v := range r {
			if strings.TrimSpace(v) != "" {
				return false
			}
		}
		return true
	}
	return false
}

// referenceText renders a stored correct answer for feedback and prompts.
func referenceText(raw json.RawMessage) string {
	resp, err := DecodeResponse(raw)
	if err != nil {
		return string(bytes.TrimSpace(raw))
	}
	return resp.Text()
}
