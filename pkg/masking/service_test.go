package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_RedactsAPIKey(t *testing.T) {
	p := New()
	out := p.Redact(`connecting with api_key: "sk-abcdefghijklmnopqrstuvwxyz1234"`)
	assert.Contains(t, out, "[MASKED_API_KEY]")
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwxyz1234")
}

func TestPolicy_RedactsPassword(t *testing.T) {
	p := New()
	out := p.Redact(`login failed: password=hunter22`)
	assert.Contains(t, out, "[MASKED_PASSWORD]")
	assert.NotContains(t, out, "hunter22")
}

func TestPolicy_RedactsEmail(t *testing.T) {
	p := New()
	out := p.Redact("notify ops-team@example.com of the outage")
	assert.Contains(t, out, "[MASKED_EMAIL]")
	assert.NotContains(t, out, "ops-team@example.com")
}

func TestPolicy_RedactsJSONSecretField(t *testing.T) {
	p := New()
	out := p.Redact(`{"user":"alice","dbPassword":"s3cr3t-value"}`)
	assert.Contains(t, out, MaskedFieldValue)
	assert.NotContains(t, out, "s3cr3t-value")
	assert.Contains(t, out, "alice")
}

func TestPolicy_RedactsNestedJSONSecretField(t *testing.T) {
	p := New()
	out := p.Redact(`{"config":{"nested":{"apiKey":"deadbeefcafef00d12345678"}}}`)
	assert.Contains(t, out, MaskedFieldValue)
	assert.NotContains(t, out, "deadbeefcafef00d12345678")
}

func TestPolicy_LeavesBenignMessageUntouched(t *testing.T) {
	p := New()
	msg := "step 3 of 5: fetching pod list"
	assert.Equal(t, msg, p.Redact(msg))
}

func TestPolicy_EmptyMessage(t *testing.T) {
	p := New()
	assert.Equal(t, "", p.Redact(""))
}
