// ABOUTME: Test utilities for creating isolated key-value clients
// ABOUTME: Uses in-memory BadgerDB so tests never reach a charm server

package charm

import (
	"testing"
)

// NewTestClient returns a client over an in-memory BadgerDB. The store is
// closed when the test finishes.
func NewTestClient(t testing.TB) *Client {
	t.Helper()

	local, err := OpenLocal("", true)
	if err != nil {
		t.Fatalf("Failed to open in-memory badger: %v", err)
	}

	c := &Client{
		kv: local,
		config: &Config{
			Backend:  BackendLocal,
			Host:     "localhost",
			AutoSync: false,
		},
		closer: local.Close,
	}

	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
	})
	return c
}
