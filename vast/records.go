package vast

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Record is a single JSON object returned by the vastai CLI. Listing
// endpoints are inconsistent about shape and key names, so all access goes
// through the helpers below rather than direct key lookups.
type Record map[string]any

// identityKeys is the probe order for a template's canonical identity.
var identityKeys = []string{"id", "template_id", "hash", "uuid"}

// hashKeys is the probe order for a template's launch hash.
var hashKeys = []string{"template_hash", "hash", "hash_id", "templateHash", "hashId"}

// instanceIDKeys is the probe order for the id of a freshly created instance.
var instanceIDKeys = []string{"instance_id", "id", "contract_id", "new_instance_id", "new_contract_id"}

var instanceIDPattern = regexp.MustCompile(`(?:instance_id|instance|contract_id|id)\D*(\d+)`)

// AsRecord converts a decoded JSON value into a Record when it is an object.
func AsRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]any:
		return Record(m), true
	}
	return nil, false
}

// Stringify renders a field value the way it would appear in CLI output.
// json.Number keeps its literal form, so integer ids never pick up an
// exponent or trailing zeros.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// FirstString returns the stringified value of the first key present with a
// non-nil value, or "" when none match.
func (r Record) FirstString(keys ...string) string {
	for _, key := range keys {
		if v, ok := r[key]; ok && v != nil {
			return Stringify(v)
		}
	}
	return ""
}

// Has reports whether key is present with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// Identity derives a stable identifier for a template record: the first of
// id, template_id, hash or uuid, falling back to a "name|image" composite.
// Records with none of these yield "".
func (r Record) Identity() string {
	if id := r.FirstString(identityKeys...); id != "" {
		return id
	}
	name := Stringify(r["name"])
	image := Stringify(r["image"])
	if image == "" {
		image = Stringify(r["docker_image"])
	}
	if name != "" || image != "" {
		return name + "|" + image
	}
	return ""
}

// CanonicalKey returns Identity when available, otherwise the record's
// canonical JSON rendering. Used to dedupe identity-less records.
func (r Record) CanonicalKey() string {
	if id := r.Identity(); id != "" {
		return id
	}
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(r))
	}
	return string(b)
}

// Truthy interprets a field value as a boolean the way the CLI's mixed
// output demands: real booleans, the strings "true"/"1"/"yes"/"y" in any
// case, and non-zero numbers all count as true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y":
			return true
		}
		return false
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return false
	}
}

// CoerceRecords flattens a decoded listing payload into a slice of records.
// Listings arrive either as a bare array, as an envelope object keyed by
// wrapperKey (e.g. {"offers": [...]}), or occasionally as a single object.
// Non-object array entries are dropped.
func CoerceRecords(payload any, wrapperKey string) []Record {
	switch v := payload.(type) {
	case []any:
		return recordSlice(v)
	case map[string]any:
		return coerceEnvelope(Record(v), wrapperKey)
	case Record:
		return coerceEnvelope(v, wrapperKey)
	}
	return nil
}

func coerceEnvelope(rec Record, wrapperKey string) []Record {
	if wrapperKey != "" {
		if inner, ok := rec[wrapperKey].([]any); ok {
			return recordSlice(inner)
		}
	}
	if len(rec) == 0 {
		return nil
	}
	return []Record{rec}
}

func recordSlice(items []any) []Record {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if rec, ok := AsRecord(item); ok {
			records = append(records, rec)
		}
	}
	return records
}

// EnsureTemplateHash finds the template's launch hash, probing known key
// spellings at the top level and then one level down under "template" and
// "data" sub-objects. A found hash is memoized under "template_hash" so
// later lookups hit the first probe.
func EnsureTemplateHash(r Record) string {
	if h := r.FirstString(hashKeys...); h != "" {
		r["template_hash"] = h
		return h
	}
	for _, nested := range []string{"template", "data"} {
		if sub, ok := AsRecord(r[nested]); ok {
			if h := sub.FirstString(hashKeys...); h != "" {
				r["template_hash"] = h
				return h
			}
		}
	}
	return ""
}

// ExtractInstanceID digs an instance id out of a create-instance response.
// Responses vary wildly: the id may sit under any of several keys, be nested
// one or more objects deep, hide inside a list, or appear only in a
// human-readable message. Returns "" when nothing plausible is found.
func ExtractInstanceID(payload any) string {
	switch v := payload.(type) {
	case map[string]any:
		return extractInstanceIDFromRecord(Record(v))
	case Record:
		return extractInstanceIDFromRecord(v)
	case []any:
		for _, item := range v {
			if id := ExtractInstanceID(item); id != "" {
				return id
			}
		}
	case string:
		if m := instanceIDPattern.FindStringSubmatch(v); m != nil {
			return m[1]
		}
	}
	return ""
}

func extractInstanceIDFromRecord(rec Record) string {
	for _, key := range instanceIDKeys {
		if v, ok := rec[key]; ok {
			if s := digitString(v); s != "" {
				return s
			}
		}
	}
	for _, key := range []string{"instance", "new_contract", "data", "result"} {
		if sub, ok := rec[key]; ok {
			if id := ExtractInstanceID(sub); id != "" {
				return id
			}
		}
	}
	// Last resort: walk every value in a stable order.
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch sub := rec[k].(type) {
		case map[string]any, []any:
			if id := ExtractInstanceID(sub); id != "" {
				return id
			}
		case string:
			if m := instanceIDPattern.FindStringSubmatch(sub); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// digitString returns v rendered as a string when it is an all-digit
// integer-like value.
func digitString(v any) string {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	case int:
		s = strconv.Itoa(t)
	case float64:
		if t == float64(int64(t)) {
			s = strconv.FormatInt(int64(t), 10)
		}
	default:
		return ""
	}
	if s == "" {
		return ""
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return s
}
