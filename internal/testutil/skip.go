package testutil

import (
	"os"
	"testing"
)

// SkipIfNoNetwork skips the test if SSHMCP_TEST_SKIP_NETWORK is set.
// Use this for tests that open loopback listeners, which may not be
// available in sandboxed environments.
func SkipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("SSHMCP_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: SSHMCP_TEST_SKIP_NETWORK is set")
	}
}
