package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's bucket is kept after its last request.
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool keeps one token bucket per client. Buckets idle for limiterIdleTTL are dropped, so
// the pool only holds recently active clients.
type limiterPool struct {
	rps   float64
	burst int
	clock clockwork.Clock

	mu        sync.Mutex
	m         map[string]*clientLimiter
	lastSweep time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	clock := clockwork.NewRealClock()
	return &limiterPool{
		rps:       rps,
		burst:     burst,
		clock:     clock,
		m:         make(map[string]*clientLimiter),
		lastSweep: clock.Now(),
	}
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastSweep) >= limiterIdleTTL {
		for k, l := range p.m {
			if now.Sub(l.lastSeen) >= limiterIdleTTL {
				delete(p.m, k)
			}
		}
		p.lastSweep = now
	}

	l, ok := p.m[key]
	if !ok {
		l = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = l
	}
	l.lastSeen = now
	return l.limiter
}

// Allow reports whether the client may open one more stream now.
func (p *limiterPool) Allow(key string) bool {
	now := p.clock.Now()
	return p.get(key, now).AllowN(now, 1)
}

// clientKey identifies the client by IP. RemoteAddr has already been rewritten from proxy
// headers by the RealIP middleware.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
