package masking

// Masker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching — parsing a blob of JSON and
// masking specific field values rather than pattern-matching raw text.
type Masker interface {
	// Name returns the unique identifier for this masker. Must match the
	// name in the builtin code masker list (builtinCodeMaskers in pattern.go).
	Name() string

	// AppliesTo performs a lightweight check on whether this masker should
	// process the data. Should be fast (string contains, not parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic and returns the masked result. Must be
	// defensive: return the original data on parse/processing errors.
	Mask(data string) string
}
