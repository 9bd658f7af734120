package network

import (
	"fmt"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// handshakeLimiter rate limits Hello packets per source IP. Limiters live in
// a bounded LRU so a flood of spoofed sources cannot grow memory without bound.
type handshakeLimiter struct {
	limit rate.Limit
	burst int
	cache *lru.Cache[string, *rate.Limiter]
}

func newHandshakeLimiter(perSec float64, burst, size int) (*handshakeLimiter, error) {
	if size <= 0 {
		size = 4096
	}
	if burst <= 0 {
		burst = 1
	}
	cache, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create limiter cache: %w", err)
	}
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	return &handshakeLimiter{limit: limit, burst: burst, cache: cache}, nil
}

// allow reports whether ip may start another handshake now.
func (h *handshakeLimiter) allow(ip string) bool {
	l, ok := h.cache.Get(ip)
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		if prev, loaded, _ := h.cache.PeekOrAdd(ip, l); loaded {
			l = prev
		}
	}
	return l.Allow()
}

// sourceIP strips the port from addr.
func sourceIP(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
