// Package ratelimit spaces outbound requests to building sites. One global
// token gates how often a new target may start; per-host limiters space the
// individual page fetches within and across targets.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

type Limiter struct {
	global *rate.Limiter

	mu        sync.Mutex
	hosts     map[string]*rate.Limiter
	hostEvery time.Duration
	overrides map[string]time.Duration
}

// New returns a limiter allowing one target start per targetEvery and one
// request per host per hostEvery. Zero disables the respective limit.
func New(targetEvery, hostEvery time.Duration) *Limiter {
	return &Limiter{
		global:    newLimiter(targetEvery),
		hosts:     make(map[string]*rate.Limiter),
		hostEvery: hostEvery,
		overrides: make(map[string]time.Duration),
	}
}

func newLimiter(every time.Duration) *rate.Limiter {
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

// SetHostInterval overrides the spacing for one host. Must be called before
// the host is first used.
func (l *Limiter) SetHostInterval(host string, every time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[normalizeHost(host)] = every
}

// WaitTarget blocks until the next target may start
func (l *Limiter) WaitTarget(ctx context.Context) error {
	if err := l.global.Wait(ctx); err != nil {
		return eris.Wrap(err, "ratelimit: wait target")
	}
	return nil
}

// WaitURL blocks until a request to rawURL's host may be sent
func (l *Limiter) WaitURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return eris.Wrapf(err, "ratelimit: parse %s", rawURL)
	}
	if err := l.forHost(u.Hostname()).Wait(ctx); err != nil {
		return eris.Wrapf(err, "ratelimit: wait %s", u.Hostname())
	}
	return nil
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	host = normalizeHost(host)

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.hosts[host]
	if !ok {
		every := l.hostEvery
		if o, ok := l.overrides[host]; ok {
			every = o
		}
		lim = newLimiter(every)
		l.hosts[host] = lim
	}
	return lim
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}
