// Package shared holds code used across packages that belongs to no single
// layer.
//
// The testutil subpackage provides:
//
//	- BufferedSlogHandler, a slog handler that captures records for assertions
//	- FakeCardServer, an httptest server that emulates the card API, checks
//	  request signatures and replies from a per-path script
//
// Example usage:
//
//	func TestLogin(t *testing.T) {
//	    srv := testutil.NewFakeCardServer(t, secret)
//	    srv.Enqueue("/v1/card/login", testutil.CodeReply(10210, "expired"))
//	    logger, logs := testutil.NewTestLogger(t)
//	    ...
//	}
//
// Nothing here may import application packages other than signer.
package shared
