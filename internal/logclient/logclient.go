// Package logclient constructs and owns the per-peer HTTP client handle the
// cluster state controller hangs off each PeerEntry. The controller never
// issues a request on it — other subsystems (the raw client that polls
// peers, out of scope here) do — so this package's only real job is
// lifecycle: build one bound to a peer's (host, port), and close it cleanly
// when the peer rebinds or leaves.
//
// Grounded on the reference stack's internal/communication/http
// communicator: a net/http.Client with a bounded per-request timeout,
// constructed per remote endpoint, torn down on removal.
package logclient

import (
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// AsyncLogClient is bound to a single peer's http://hostname:port base URL.
type AsyncLogClient struct {
	BaseURL string

	httpClient *http.Client
}

// New constructs a client for the given hostname and port. Neither New nor
// its caller (PeerRegistry) checks the hostname or port; the address a peer
// published is used as-is.
func New(hostname string, port int) *AsyncLogClient {
	return &AsyncLogClient{
		BaseURL:    fmt.Sprintf("http://%s:%d", hostname, port),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Close releases the client's idle connections. Safe to call more than
// once.
func (c *AsyncLogClient) Close() {
	c.httpClient.CloseIdleConnections()
}
