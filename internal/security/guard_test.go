package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardBlocksRecursiveDelete(t *testing.T) {
	g := NewGuard([]string{"/data/bronze"})
	v := g.Check("script", `{"cmd": "rm -rf /data/bronze"}`)
	require.False(t, v.Allowed)
}

func TestGuardBlocksSSHAccess(t *testing.T) {
	g := NewGuard([]string{"/data"})
	v := g.Check("script", `{"path": "~/.ssh/id_rsa"}`)
	require.False(t, v.Allowed)
}

func TestGuardAllowlistRejectsUnmatchedDataCollection(t *testing.T) {
	g := NewGuard([]string{"/data"})
	v := g.Check("data_collection", `{"method": "DELETE", "url": "https://example.gov"}`)
	require.False(t, v.Allowed)
}

func TestGuardAllowlistAcceptsGet(t *testing.T) {
	g := NewGuard([]string{"/data"})
	v := g.Check("data_collection", `{"method": "GET", "url": "https://example.gov"}`)
	require.True(t, v.Allowed)
}

func TestGuardRejectsDeleteOutsideDataRoots(t *testing.T) {
	g := NewGuard([]string{"/data/bronze"})
	v := g.Check("script", `{"cmd": "delete /home/user/important.txt"}`)
	require.False(t, v.Allowed)
}

func TestGuardAllowsDeleteWithinDataRoots(t *testing.T) {
	g := NewGuard([]string{"/data/bronze"})
	v := g.Check("script", `{"cmd": "delete /data/bronze/stale_123.json"}`)
	require.True(t, v.Allowed)
}

func TestSanitizeStringRedactsSecrets(t *testing.T) {
	out := SanitizeString(`Authorization: Bearer abcdef0123456789 api_key=sk_live_abcdef01234`)
	require.Contains(t, out, "[REDACTED]")
	require.NotContains(t, out, "sk_live_abcdef01234")
}

func TestSanitizeMapRedactsCredentialKeys(t *testing.T) {
	out := SanitizeMap(map[string]interface{}{
		"api_key":  "sk_live_abcdef01234",
		"endpoint": "https://example.gov",
	})
	require.Equal(t, "[REDACTED]", out["api_key"])
	require.Equal(t, "https://example.gov", out["endpoint"])
}
