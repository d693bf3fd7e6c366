package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// LoginLimiter counts failed login attempts per client IP. After
// maxAttempts failures the IP is locked out until the cooldown since the
// last failure elapses. A successful login clears the record. Existing
// chat sessions are never touched by the limiter.
type LoginLimiter struct {
	attempts       map[string]*attemptRecord
	mu             sync.Mutex
	maxAttempts    int
	cooldown       time.Duration
	trustedProxies map[string]bool
}

type attemptRecord struct {
	count       int
	lastAttempt time.Time
}

func NewLoginLimiter(ctx context.Context, maxAttempts int, cooldown time.Duration) *LoginLimiter {
	l := &LoginLimiter{
		attempts:       make(map[string]*attemptRecord),
		maxAttempts:    maxAttempts,
		cooldown:       cooldown,
		trustedProxies: make(map[string]bool),
	}
	go l.cleanup(ctx)
	return l
}

func (l *LoginLimiter) SetTrustedProxies(proxies []string) {
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			if _, ipNet, err := net.ParseCIDR(p); err == nil {
				l.trustedProxies[ipNet.String()] = true
				continue
			}
		}
		if parsed := net.ParseIP(p); parsed != nil {
			l.trustedProxies[parsed.String()] = true
			continue
		}
		l.trustedProxies[p] = true
	}
}

// Check reports whether the IP may attempt a login. When it may not,
// retryAfter is the remaining cooldown.
func (l *LoginLimiter) Check(ip string) (allowed bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[ip]
	if !ok {
		return true, 0
	}

	elapsed := time.Since(rec.lastAttempt)
	if elapsed > l.cooldown {
		rec.count = 0
		return true, 0
	}

	if rec.count >= l.maxAttempts {
		return false, l.cooldown - elapsed
	}
	return true, 0
}

func (l *LoginLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.attempts[ip]
	if !ok {
		rec = &attemptRecord{}
		l.attempts[ip] = rec
	}
	if time.Since(rec.lastAttempt) > l.cooldown {
		rec.count = 0
	}
	rec.count++
	rec.lastAttempt = time.Now()
}

func (l *LoginLimiter) RecordSuccess(ip string) {
	l.mu.Lock()
	delete(l.attempts, ip)
	l.mu.Unlock()
}

func (l *LoginLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, rec := range l.attempts {
				if time.Since(rec.lastAttempt) > l.cooldown {
					delete(l.attempts, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func (l *LoginLimiter) isTrustedProxy(ip string) bool {
	if len(l.trustedProxies) == 0 {
		return false
	}

	if l.trustedProxies[ip] {
		return true
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for proxy := range l.trustedProxies {
		if strings.Contains(proxy, "/") {
			_, ipNet, err := net.ParseCIDR(proxy)
			if err == nil && ipNet.Contains(parsedIP) {
				return true
			}
		}
	}

	return false
}

// ClientIP resolves the attempt origin, honoring X-Forwarded-For only
// from trusted proxies and picking the nearest untrusted hop.
func (l *LoginLimiter) ClientIP(r *http.Request) string {
	remoteIP, ok := normalizeIP(r.RemoteAddr)
	if !ok {
		return r.RemoteAddr
	}

	if len(l.trustedProxies) == 0 || !l.isTrustedProxy(remoteIP) {
		return remoteIP
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return remoteIP
	}

	parts := strings.Split(forwarded, ",")
	chain := make([]string, 0, len(parts)+1)
	for _, part := range parts {
		if ip, ok := normalizeIP(part); ok {
			chain = append(chain, ip)
		}
	}
	if len(chain) == 0 {
		return remoteIP
	}

	for i := len(chain) - 1; i >= 0; i-- {
		if !l.isTrustedProxy(chain[i]) {
			return chain[i]
		}
	}

	// All forwarded hops are trusted proxies; use the oldest forwarded hop.
	return chain[0]
}

func normalizeIP(raw string) (string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false
	}

	if host, _, err := net.SplitHostPort(value); err == nil {
		value = strings.TrimSpace(host)
	}
	value = strings.TrimPrefix(value, "[")
	value = strings.TrimSuffix(value, "]")

	parsed := net.ParseIP(value)
	if parsed == nil {
		return "", false
	}
	return parsed.String(), true
}
