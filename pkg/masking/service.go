// Package masking redacts secrets from execution log messages before they
// are persisted, so a misbehaving plugin that echoes a credential never
// reaches the durable log stream unredacted.
//
// Adapted from the teacher's pkg/masking: same two-phase "code-based
// maskers first, then a regex sweep" design and defensive, return-original-
// on-error handling, narrowed from a per-MCP-server masking configuration
// (this spec has no MCP server registry) to one fixed policy applied
// uniformly to every ExecutionLog.Message.
package masking

import "log/slog"

// Policy applies the fixed builtin masking patterns and code maskers to
// execution log messages. Stateless aside from its compiled patterns;
// safe for concurrent use.
type Policy struct {
	patterns    map[string]*CompiledPattern
	codeMaskers map[string]Masker
	order       []string // code masker names, in apply order
}

// New compiles the builtin patterns and registers the builtin code
// maskers. Invalid patterns are logged and skipped rather than failing
// startup (a masking bug must not block the orchestrator from booting).
func New() *Policy {
	p := &Policy{
		patterns:    compilePatterns(),
		codeMaskers: map[string]Masker{jsonFieldMasker{}.Name(): jsonFieldMasker{}},
		order:       builtinCodeMaskers(),
	}

	slog.Info("masking policy initialized",
		"compiled_patterns", len(p.patterns), "code_maskers", len(p.codeMaskers))

	return p
}

// Redact applies every code masker then every regex pattern to message,
// returning the masked result. Both masker types return the original
// input unchanged on any parse error (defensive, not fail-closed) —
// masking is a best-effort sweep, not a gate that can block a log line
// from being written at all.
func (p *Policy) Redact(message string) string {
	if message == "" {
		return message
	}

	masked := message
	for _, name := range p.order {
		masker, ok := p.codeMaskers[name]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	for _, pattern := range p.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked
}
