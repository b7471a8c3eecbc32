package proxy

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// ClientPool hands out one *http.Client per registered server name. Each
// client has its own connection pool so one slow or broken upstream cannot
// starve the others. Clients are created lazily and torn down when the
// server is removed from the registry.
type ClientPool struct {
	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewClientPool returns an empty pool.
func NewClientPool() *ClientPool {
	return &ClientPool{clients: make(map[string]*http.Client)}
}

// Get returns the client for name, creating it on first use.
func (p *ClientPool) Get(name string) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[name]; ok {
		return c
	}
	c := newUpstreamClient()
	p.clients[name] = c
	return c
}

// Close drops the client for name and releases its idle connections.
// Streams already in flight keep their connections until they finish.
func (p *ClientPool) Close(name string) {
	p.mu.Lock()
	c, ok := p.clients[name]
	delete(p.clients, name)
	p.mu.Unlock()
	if ok {
		c.CloseIdleConnections()
	}
}

// CloseAll tears down every pooled client.
func (p *ClientPool) CloseAll() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*http.Client)
	p.mu.Unlock()
	for _, c := range clients {
		c.CloseIdleConnections()
	}
}

// Len reports how many clients currently exist.
func (p *ClientPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// newUpstreamClient builds a client suitable for both unary calls and
// long-lived SSE streams. No overall timeout: an SSE subscription may stay
// open for hours. Connection setup is still bounded by the dialer.
func newUpstreamClient() *http.Client {
	return &http.Client{
		// Do not follow redirects -- pass them through to the caller.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}
