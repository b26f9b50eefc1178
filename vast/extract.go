package vast

import (
	"encoding/json"
	"strings"
)

// ExtractPayload recovers a JSON value from CLI output that may be surrounded
// by non-JSON noise (banners, warnings, progress lines). It tries, in order:
//
//  1. a partial decode from the earliest '{' or '[' — handles a valid value
//     followed by trailing text;
//  2. a bracket-balance scan that isolates the first syntactically balanced
//     top-level value, then decodes exactly that substring;
//  3. returning the input unchanged.
//
// Malformed JSON is never an error: callers that receive a string back treat
// the output as unstructured. Numbers decode as json.Number so large ids
// survive round-tripping through string comparisons.
func ExtractPayload(text string) any {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		// No bracket characters at all — nothing to scan for.
		return text
	}

	candidate := text[start:]
	if v, ok := decodeValue(candidate); ok {
		return v
	}

	if payload, ok := balancedPayload(candidate); ok {
		if v, ok := decodeValue(payload); ok {
			return v
		}
	}

	return text
}

// decodeValue decodes the first complete JSON value in s, ignoring any
// trailing text after it.
func decodeValue(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// balancedPayload walks s from its first bracket tracking a stack of expected
// closers. The point at which the stack empties marks the end of a balanced
// top-level value. A mismatched closer aborts the scan.
func balancedPayload(s string) (string, bool) {
	var stack []byte
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
