// Package gateway authenticates inbound requests by their access token.
// It depends on the token signer only and never touches storage.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"authsvc/internal/lib/jwt"
)

const (
	authorizationHeader = "authorization"
	bearerPrefix        = "bearer "
)

// ErrUnauthenticated is returned for every rejected token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the caller proven by a valid access token.
type Identity struct {
	UserID string
	Email  string
}

type Verifier struct {
	log    *slog.Logger
	secret string
	now    func() time.Time
}

func NewVerifier(log *slog.Logger, accessSecret string) *Verifier {
	return &Verifier{
		log:    log,
		secret: accessSecret,
		now:    time.Now,
	}
}

// Identify verifies token against the access secret.
func (v *Verifier) Identify(token string) (Identity, error) {
	claims, err := jwt.Verify(token, v.secret, v.now())
	if err != nil {
		return Identity{}, ErrUnauthenticated
	}

	return Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
	}, nil
}

// UnaryServerInterceptor authenticates calls to the given full method names
// and passes every other call through untouched.
func (v *Verifier) UnaryServerInterceptor(protected ...string) grpc.UnaryServerInterceptor {
	methods := make(map[string]struct{}, len(protected))
	for _, m := range protected {
		methods[m] = struct{}{}
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if _, ok := methods[info.FullMethod]; !ok {
			return handler(ctx, req)
		}

		identity, err := v.Identify(bearerToken(ctx))
		if err != nil {
			v.log.Debug("request rejected",
				slog.String("op", "gateway.UnaryServerInterceptor"),
				slog.String("method", info.FullMethod),
			)
			return nil, status.Error(codes.Unauthenticated, ErrUnauthenticated.Error())
		}

		return handler(WithIdentity(ctx, identity), req)
	}
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	values := md.Get(authorizationHeader)
	if len(values) == 0 {
		return ""
	}

	value := strings.TrimSpace(values[0])
	if len(value) < len(bearerPrefix) || !strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}

	return strings.TrimSpace(value[len(bearerPrefix):])
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, identity)
}

// IdentityFromContext returns the identity stored by the interceptor.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(ctxKey{}).(Identity)
	return identity, ok
}
