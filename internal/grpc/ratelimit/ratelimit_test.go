package ratelimit

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const limitedMethod = "/auth.v1.Auth/Login"

func peerContext(ip string) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 50000},
	})
}

func okHandler(context.Context, any) (any, error) {
	return "ok", nil
}

func TestNew_Disabled(t *testing.T) {
	l := New(0, limitedMethod)
	require.Nil(t, l)

	interceptor := l.UnaryServerInterceptor()
	for range 100 {
		_, err := interceptor(peerContext("10.0.0.1"), nil, &grpc.UnaryServerInfo{FullMethod: limitedMethod}, okHandler)
		require.NoError(t, err)
	}
}

func TestInterceptor_ExhaustsBurst(t *testing.T) {
	// 60 rpm gives a burst of 6 and one token per second
	l := New(60, limitedMethod)
	frozen := time.Now()
	l.now = func() time.Time { return frozen }

	interceptor := l.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: limitedMethod}

	for range 6 {
		_, err := interceptor(peerContext("10.0.0.1"), nil, info, okHandler)
		require.NoError(t, err)
	}

	_, err := interceptor(peerContext("10.0.0.1"), nil, info, okHandler)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// other clients have their own budget
	_, err = interceptor(peerContext("10.0.0.2"), nil, info, okHandler)
	require.NoError(t, err)

	// unlisted methods are not limited
	_, err = interceptor(peerContext("10.0.0.1"), nil, &grpc.UnaryServerInfo{FullMethod: "/auth.v1.Auth/Me"}, okHandler)
	require.NoError(t, err)

	frozen = frozen.Add(time.Second)
	_, err = interceptor(peerContext("10.0.0.1"), nil, info, okHandler)
	require.NoError(t, err)
}

func TestClientKey(t *testing.T) {
	assert.Equal(t, "unknown", clientKey(context.Background()))
	assert.Equal(t, "10.0.0.1", clientKey(peerContext("10.0.0.1")))
}

func TestCleanup(t *testing.T) {
	l := New(60, limitedMethod)
	start := time.Now()
	l.now = func() time.Time { return start }
	l.limiter("a")

	l.now = func() time.Time { return start.Add(idleWindow + time.Minute) }
	l.limiter("b")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "a")
	assert.Contains(t, l.clients, "b")
}
