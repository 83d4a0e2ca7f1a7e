package record

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record represents a user record from the Absorb LMS API.
// Unknown fields are preserved opaquely so the full record can be
// written back with a PUT.
type Record map[string]interface{}

// secretFields are field names whose values are masked by the API on read.
// They are blanked before snapshotting so a masked placeholder is never
// written back to the remote system.
var secretFields = []string{"password"}

// Parse decodes a JSON object into a Record
func Parse(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Marshal encodes the record as JSON
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(map[string]interface{}(r))
}

// ID returns the record's identifier, or empty string if absent
func (r Record) ID() string {
	return Get(r, "id")
}

// Get returns the stringified value at a dotted path inside the record.
// It returns an empty string if any path segment is missing or a
// non-map value is encountered before the final segment.
func Get(r Record, path string) string {
	// Fast path for single-segment lookups
	if !strings.Contains(path, ".") {
		return Stringify(r[path])
	}

	segments := strings.Split(path, ".")
	current := map[string]interface{}(r)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			return ""
		}
		current = next
	}

	return Stringify(current[segments[len(segments)-1]])
}

// Set assigns a value at a dotted path inside the record, creating
// intermediate maps as needed. An intermediate segment holding a
// non-map value is overwritten with a fresh map.
func Set(r Record, path string, value interface{}) {
	// Fast path for single-segment assignments
	if !strings.Contains(path, ".") {
		r[path] = value
		return
	}

	segments := strings.Split(path, ".")
	current := map[string]interface{}(r)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[segment] = next
		}
		current = next
	}

	current[segments[len(segments)-1]] = value
}

// RedactSecrets blanks masked secret fields in place
func (r Record) RedactSecrets() {
	for _, field := range secretFields {
		if _, ok := r[field]; ok {
			r[field] = ""
		}
	}
}

// Stringify converts a JSON-decoded value to its string form.
// Nil values become empty strings; whole floats drop the fraction,
// so the JSON number 100 round-trips as "100" rather than "100.000000".
func Stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
