package grpcapp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"authsvc/internal/config"
	"authsvc/internal/gateway"
	authgrpc "authsvc/internal/grpc/auth"
	"authsvc/internal/grpc/ratelimit"
	"authsvc/internal/lib/handlers/slogdiscard"
	"authsvc/internal/services/auth"
	"authsvc/internal/storage/memory"
)

func startApp(t *testing.T, requestsPerMinute int) *grpc.ClientConn {
	t.Helper()

	cfg := config.MustLoadPath("../../../config/test.yaml")
	log := slogdiscard.NewDiscardLogger()
	st := memory.New()

	application := New(
		log,
		auth.New(log, st, st, st, cfg.Tokens),
		gateway.NewVerifier(log, cfg.Tokens.AccessSecret),
		ratelimit.New(requestsPerMinute, authgrpc.LoginFullMethodName),
		cfg.Grpc.Port,
		cfg.Grpc.Timeout,
	)

	lis := bufconn.Listen(1 << 20)
	served := make(chan error, 1)
	go func() {
		served <- application.Serve(lis)
	}()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cc.Close()
		application.Stop()
		require.NoError(t, <-served)
	})

	return cc
}

func TestApp_Health(t *testing.T) {
	cc := startApp(t, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, service := range []string{"", authgrpc.ServiceName} {
		resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	}
}

func TestApp_EndToEnd(t *testing.T) {
	cc := startApp(t, 0)
	client := authgrpc.NewClient(cc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reg, err := client.Register(ctx, &authgrpc.RegisterRequest{
		Email:    "alice@example.com",
		Password: "pw123456",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", reg.User.Email)

	login, err := client.Login(ctx, &authgrpc.LoginRequest{
		Email:    "alice@example.com",
		Password: "pw123456",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", login.User.Email)

	me, err := client.Me(
		metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+login.AccessToken),
		&authgrpc.MeRequest{},
	)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, me.User.ID)

	_, err = client.Refresh(ctx, &authgrpc.RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	_, err = client.Refresh(ctx, &authgrpc.RefreshRequest{RefreshToken: login.RefreshToken})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.Login(ctx, &authgrpc.LoginRequest{
		Email:    "nobody@example.com",
		Password: "pw123456",
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "invalid credentials", status.Convert(err).Message())
}

func TestApp_RateLimited(t *testing.T) {
	// 10 rpm gives a burst of one
	cc := startApp(t, 10)
	client := authgrpc.NewClient(cc)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := &authgrpc.LoginRequest{Email: gofakeit.Email(), Password: "whatever"}

	_, err := client.Login(ctx, req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.Login(ctx, req)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestTimeoutInterceptor(t *testing.T) {
	interceptor := timeoutInterceptor(time.Second)

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)
		return nil, nil
	})
	require.NoError(t, err)

	_, err = timeoutInterceptor(0)(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		return nil, nil
	})
	require.NoError(t, err)
}
