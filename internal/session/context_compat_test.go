package session

import (
	"context"
	"testing"
)

// testContext mirrors testing.T.Context from Go 1.24 for older toolchains:
// the returned context is canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
