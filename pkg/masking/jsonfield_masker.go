package masking

import (
	"encoding/json"
	"regexp"
	"strings"
)

// MaskedFieldValue replaces the value of a sensitive-named JSON field.
const MaskedFieldValue = "[MASKED_FIELD_VALUE]"

// sensitiveFieldName matches JSON object keys worth masking regardless of
// value shape — a plugin returning {"apiKey": "...", "dbPassword": "..."}
// should have both values redacted even though neither matches one of the
// value-shaped regex patterns in pattern.go.
var sensitiveFieldName = regexp.MustCompile(`(?i)(password|secret|token|api[_-]?key|private[_-]?key|credential)`)

// jsonStartPattern is a cheap pre-check before attempting to unmarshal —
// mirrors the teacher's strings.Contains("Secret") gate in
// kubernetes_secret.go's AppliesTo, generalized past a single resource
// kind to "looks like a JSON object or array at all".
var jsonStartPattern = regexp.MustCompile(`^\s*[\{\[]`)

// jsonFieldMasker walks an arbitrarily nested JSON value and masks any
// object field whose key looks sensitive, regardless of its position or
// the object's shape. Adapted from the teacher's KubernetesSecretMasker —
// same "parse, walk, re-serialize defensively" structure — generalized
// from "only Secret-kind resources, only data/stringData keys" to "any
// JSON value, any sensitively-named key", since plugin output here has no
// fixed Kubernetes resource schema to gate on.
type jsonFieldMasker struct{}

func (m jsonFieldMasker) Name() string { return "json_secret_fields" }

func (m jsonFieldMasker) AppliesTo(data string) bool {
	return jsonStartPattern.MatchString(data)
}

// Mask parses data as JSON, masks sensitive field values in place, and
// re-serializes. Returns the original data unchanged on any parse error or
// if no sensitive field was found (defensive, matching the teacher's
// "return original on failure" discipline).
func (m jsonFieldMasker) Mask(data string) string {
	var value any
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return data
	}

	masked := maskValue(value)
	if !masked {
		return data
	}

	out, err := json.Marshal(value)
	if err != nil {
		return data
	}

	result := string(out)
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}

// maskValue recurses into v, replacing sensitive map values in place.
// Reports whether anything was masked.
func maskValue(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		masked := false
		for k, val := range t {
			if sensitiveFieldName.MatchString(k) {
				if _, isString := val.(string); isString {
					t[k] = MaskedFieldValue
					masked = true
					continue
				}
			}
			if maskValue(val) {
				masked = true
			}
		}
		return masked
	case []any:
		masked := false
		for _, item := range t {
			if maskValue(item) {
				masked = true
			}
		}
		return masked
	default:
		return false
	}
}
