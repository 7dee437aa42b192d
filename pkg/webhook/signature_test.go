package webhook

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"execution.completed","executionId":"e-1"}`)
	sig := Sign("secret-1", 1700000000, payload)

	require.Len(t, sig, 64) // hex-encoded SHA-256
	require.True(t, Verify("secret-1", 1700000000, payload, sig))
}

func TestVerifyRejectsFlippedPayloadBit(t *testing.T) {
	payload := []byte(`{"type":"execution.completed"}`)
	sig := Sign("secret-1", 1700000000, payload)

	tampered := append([]byte(nil), payload...)
	tampered[0] ^= 0x01
	require.False(t, Verify("secret-1", 1700000000, tampered, sig))
}

func TestVerifyRejectsFlippedSignatureBit(t *testing.T) {
	payload := []byte(`{"x":1}`)
	sig := Sign("secret-1", 1700000000, payload)

	raw, err := hex.DecodeString(sig)
	require.NoError(t, err)
	raw[0] ^= 0x01
	require.False(t, Verify("secret-1", 1700000000, payload, hex.EncodeToString(raw)))
}

func TestVerifyRejectsWrongSecretOrTimestamp(t *testing.T) {
	payload := []byte(`{"x":1}`)
	sig := Sign("secret-1", 1700000000, payload)

	require.False(t, Verify("secret-2", 1700000000, payload, sig))
	require.False(t, Verify("secret-1", 1700000001, payload, sig))
}

func TestVerifyRejectsNonHexSignature(t *testing.T) {
	require.False(t, Verify("secret-1", 1700000000, []byte(`{}`), "not-hex!"))
}
