// Package ratelimit throttles gRPC calls per client address.
package ratelimit

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// idleWindow is how long a client limiter is kept without traffic.
const idleWindow = 5 * time.Minute

type Limiter struct {
	limit   rate.Limit
	burst   int
	methods map[string]struct{}

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing requestsPerMinute per client on the given
// full method names. It returns nil when requestsPerMinute is not positive.
func New(requestsPerMinute int, methods ...string) *Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}

	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[m] = struct{}{}
	}

	return &Limiter{
		limit:   rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:   burst,
		methods: set,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// UnaryServerInterceptor rejects calls over budget with ResourceExhausted.
// A nil Limiter lets everything through.
func (l *Limiter) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if l == nil {
			return handler(ctx, req)
		}
		if _, ok := l.methods[info.FullMethod]; !ok {
			return handler(ctx, req)
		}

		if !l.limiter(clientKey(ctx)).AllowN(l.now(), 1) {
			return nil, status.Error(codes.ResourceExhausted, "too many requests")
		}

		return handler(ctx, req)
	}
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}
	l.cleanupLocked(now)
	return limiter
}

func (l *Limiter) cleanupLocked(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > idleWindow {
			delete(l.clients, key)
		}
	}
}

// clientKey is the peer host without the port, or "unknown".
func clientKey(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}

	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
