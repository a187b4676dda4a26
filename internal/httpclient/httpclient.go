// Package httpclient provides the shared outbound *http.Client pool the
// proxy engine sends upstream requests through. Grounded on
// sdk/cliproxy/rtprovider.go's defaultRoundTripperProvider: one cached
// *http.Transport per distinct outbound proxy URL, reused across
// requests instead of dialing a fresh transport (and its connection
// pool) per call.
package httpclient

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Pool caches one *http.Client per outbound proxy URL (including the
// empty string, meaning "no proxy").
type Pool struct {
	mu      sync.RWMutex
	clients map[string]*http.Client
}

// NewPool constructs an empty pool.
func NewPool() *Pool {
	return &Pool{clients: make(map[string]*http.Client)}
}

// For returns the *http.Client configured for proxyURL, building and
// caching one on first use. An empty or unparseable proxyURL yields a
// client with no proxy configured.
func (p *Pool) For(proxyURL string) *http.Client {
	key := strings.TrimSpace(proxyURL)
	p.mu.RLock()
	c := p.clients[key]
	p.mu.RUnlock()
	if c != nil {
		return c
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if key != "" {
		if u, err := url.Parse(key); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	client := &http.Client{Transport: transport}
	p.mu.Lock()
	p.clients[key] = client
	p.mu.Unlock()
	return client
}
