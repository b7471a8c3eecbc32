package proxy

// Observer receives traffic measurements from the wire path. The HTTP
// transport installs a Prometheus-backed implementation; handlers built
// without one use the no-op.
type Observer interface {
	// ProxyRequest counts one relayed JSON-RPC message (or one bare HTTP
	// exchange when no message exists) with the HTTP status the client
	// saw. method is empty for GET/DELETE exchanges and rejected bodies.
	ProxyRequest(server, method string, code int)

	// ProxyDuration records one upstream round trip, measured to response
	// headers. SSE stream lifetime is not part of it.
	ProxyDuration(server string, seconds float64)

	// SSEEvent counts one relayed stream frame. kind is "jsonrpc" for
	// frames carrying a JSON-RPC message, "event" otherwise.
	SSEEvent(server, kind string)
}

type nopObserver struct{}

func (nopObserver) ProxyRequest(string, string, int) {}
func (nopObserver) ProxyDuration(string, float64) {}
func (nopObserver) SSEEvent(string, string) {}
