package masking

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompilePatterns_AllBuiltinsCompile(t *testing.T) {
	compiled := compilePatterns()
	require.Len(t, compiled, len(builtinPatterns()))
	for name, p := range compiled {
		assert.NotNil(t, p.Regex, "pattern %q should have a compiled regex", name)
	}
}

func TestBuiltinPatterns_AreAllValidRegex(t *testing.T) {
	for name, p := range builtinPatterns() {
		_, err := regexp.Compile(p.Pattern)
		assert.NoError(t, err, "pattern %q should be valid regex", name)
	}
}
