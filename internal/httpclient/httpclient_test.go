package httpclient

import (
	"net/http"
	"testing"
)

func TestForCachesClientPerProxyURL(t *testing.T) {
	p := NewPool()
	a := p.For("http://proxy.example:8080")
	b := p.For("http://proxy.example:8080")
	if a != b {
		t.Fatal("For() returned distinct clients for the same proxy URL")
	}
}

func TestForDistinguishesProxyURLs(t *testing.T) {
	p := NewPool()
	a := p.For("http://proxy-a.example:8080")
	b := p.For("http://proxy-b.example:8080")
	if a == b {
		t.Fatal("For() returned the same client for two distinct proxy URLs")
	}
}

func TestForEmptyURLMeansNoProxy(t *testing.T) {
	p := NewPool()
	c := p.For("")
	transport, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Transport = %T, want *http.Transport", c.Transport)
	}
	if transport.Proxy != nil {
		t.Fatal("empty proxyURL configured a transport proxy function")
	}
}

func TestForUnparseableURLFallsBackToNoProxy(t *testing.T) {
	p := NewPool()
	c := p.For("://not a url")
	transport := c.Transport.(*http.Transport)
	if transport.Proxy != nil {
		t.Fatal("unparseable proxyURL still configured a transport proxy function")
	}
}

func TestForTrimsWhitespaceForCacheKey(t *testing.T) {
	p := NewPool()
	a := p.For("http://proxy.example:8080")
	b := p.For("  http://proxy.example:8080  ")
	if a != b {
		t.Fatal("For() did not cache on the trimmed proxy URL")
	}
}
