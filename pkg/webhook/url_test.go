package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateURL_AcceptsHTTPSPublicIP(t *testing.T) {
	require.NoError(t, ValidateURL(context.Background(), "https://93.184.216.34/hook", false))
}

func TestValidateURL_RejectsPlainHTTP(t *testing.T) {
	require.Error(t, ValidateURL(context.Background(), "http://93.184.216.34/hook", false))
}

func TestValidateURL_LocalhostOnlyWhenAllowed(t *testing.T) {
	ctx := context.Background()
	require.Error(t, ValidateURL(ctx, "http://localhost:9000/hook", false))
	require.Error(t, ValidateURL(ctx, "https://localhost:9000/hook", false))
	require.NoError(t, ValidateURL(ctx, "http://localhost:9000/hook", true))
	require.NoError(t, ValidateURL(ctx, "https://localhost:9000/hook", true))
	// allowLocalhost is scoped to the literal host "localhost", not to
	// arbitrary loopback targets.
	require.Error(t, ValidateURL(ctx, "http://127.0.0.1:9000/hook", true))
}

func TestValidateURL_RejectsPrivateLiteralIPs(t *testing.T) {
	for _, raw := range []string{
		"https://127.0.0.1/hook",
		"https://10.1.2.3/hook",
		"https://172.16.0.9/hook",
		"https://192.168.1.1/hook",
		"https://169.254.169.254/latest/meta-data",
		"https://[::1]/hook",
		"https://[fe80::1]/hook",
	} {
		require.Error(t, ValidateURL(context.Background(), raw, false), "expected %s to be rejected", raw)
	}
}

func TestValidateURL_RejectsMissingHost(t *testing.T) {
	require.Error(t, ValidateURL(context.Background(), "https:///hook", false))
}

func TestDialControl_RefusesPrivateAddresses(t *testing.T) {
	guard := dialControl(false)
	for _, addr := range []string{"127.0.0.1:443", "10.0.0.5:443", "192.168.1.1:8080", "[::1]:443", "169.254.169.254:80"} {
		require.Error(t, guard("tcp", addr, nil), "expected dial to %s to be refused", addr)
	}
	require.NoError(t, guard("tcp", "93.184.216.34:443", nil))
}

func TestDialControl_AllowLocalhostAdmitsLoopbackOnly(t *testing.T) {
	guard := dialControl(true)
	require.NoError(t, guard("tcp", "127.0.0.1:443", nil))
	require.NoError(t, guard("tcp", "[::1]:443", nil))
	require.Error(t, guard("tcp", "10.0.0.5:443", nil), "allowLocalhost must not open up private ranges")
}
