package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// maskingPattern is the uncompiled definition one builtinPatterns entry
// compiles from.
type maskingPattern struct {
	Pattern     string
	Replacement string
	Description string
}

// builtinPatterns is the fixed set of regex-based redactions applied to
// every execution log line (§3 ExecutionLog, supplemented feature: secrets
// echoed by a misbehaving plugin must never reach the durable log stream
// unredacted). Carried over from the teacher's
// config.initBuiltinMaskingPatterns, narrowed to the patterns relevant
// outside a Kubernetes-specific context (certificate-authority-data and
// the Kubernetes Secret object masker are dropped — this spec has no
// Kubernetes domain to produce that shape of data).
func builtinPatterns() map[string]maskingPattern {
	return map[string]maskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey|key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
			Replacement: `"api_key": "[MASKED_API_KEY]"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "[MASKED_PASSWORD]"`,
			Description: "Passwords",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"token": "[MASKED_TOKEN]"`,
			Description: "Access tokens",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"private_key": "[MASKED_PRIVATE_KEY]"`,
			Description: "Private keys",
		},
		"secret_key": {
			Pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{20,})["']?`,
			Replacement: `"secret_key": "[MASKED_SECRET_KEY]"`,
			Description: "Secret keys",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `[MASKED_CERTIFICATE]`,
			Description: "SSL/TLS certificates",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `[MASKED_EMAIL]`,
			Description: "Email addresses",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `[MASKED_SSH_KEY]`,
			Description: "SSH public keys",
		},
		"aws_access_key": {
			Pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
			Replacement: `"aws_access_key_id": "[MASKED_AWS_KEY]"`,
			Description: "AWS access keys",
		},
		"aws_secret_key": {
			Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
			Replacement: `"aws_secret_access_key": "[MASKED_AWS_SECRET]"`,
			Description: "AWS secret keys",
		},
	}
}

// builtinCodeMaskers names the code-based maskers applied ahead of the
// regex sweep, the teacher's two-phase "structural maskers first, regex
// second" order (service.go applyMasking).
func builtinCodeMaskers() []string {
	return []string{"json_secret_fields"}
}

// compilePatterns compiles every entry of builtinPatterns, logging and
// skipping any that fail — a pattern typo must never crash log ingestion.
func compilePatterns() map[string]*CompiledPattern {
	compiled := make(map[string]*CompiledPattern)
	for name, p := range builtinPatterns() {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("failed to compile masking pattern, skipping", "pattern", name, "error", err)
			continue
		}
		compiled[name] = &CompiledPattern{Name: name, Regex: re, Replacement: p.Replacement, Description: p.Description}
	}
	return compiled
}
