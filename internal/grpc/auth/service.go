package auth

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "auth.v1.Auth"

const (
	RegisterFullMethodName  = "/" + ServiceName + "/Register"
	LoginFullMethodName     = "/" + ServiceName + "/Login"
	RefreshFullMethodName   = "/" + ServiceName + "/Refresh"
	LogoutFullMethodName    = "/" + ServiceName + "/Logout"
	LogoutAllFullMethodName = "/" + ServiceName + "/LogoutAll"
	ListUsersFullMethodName = "/" + ServiceName + "/ListUsers"
	MeFullMethodName        = "/" + ServiceName + "/Me"
)

// ProtectedMethods require a valid access token.
var ProtectedMethods = []string{
	LogoutAllFullMethodName,
	ListUsersFullMethodName,
	MeFullMethodName,
}

// AuthServer is the server API for the auth.v1.Auth service.
type AuthServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Refresh(context.Context, *RefreshRequest) (*RefreshResponse, error)
	Logout(context.Context, *LogoutRequest) (*LogoutResponse, error)
	LogoutAll(context.Context, *LogoutAllRequest) (*LogoutAllResponse, error)
	ListUsers(context.Context, *ListUsersRequest) (*ListUsersResponse, error)
	Me(context.Context, *MeRequest) (*MeResponse, error)
}

// AuthServiceDesc describes auth.v1.Auth for grpc.Server.RegisterService.
var AuthServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: unaryHandler(RegisterFullMethodName, AuthServer.Register)},
		{MethodName: "Login", Handler: unaryHandler(LoginFullMethodName, AuthServer.Login)},
		{MethodName: "Refresh", Handler: unaryHandler(RefreshFullMethodName, AuthServer.Refresh)},
		{MethodName: "Logout", Handler: unaryHandler(LogoutFullMethodName, AuthServer.Logout)},
		{MethodName: "LogoutAll", Handler: unaryHandler(LogoutAllFullMethodName, AuthServer.LogoutAll)},
		{MethodName: "ListUsers", Handler: unaryHandler(ListUsersFullMethodName, AuthServer.ListUsers)},
		{MethodName: "Me", Handler: unaryHandler(MeFullMethodName, AuthServer.Me)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "auth/v1/auth.proto",
}

func RegisterAuthServer(s grpc.ServiceRegistrar, srv AuthServer) {
	s.RegisterService(&AuthServiceDesc, srv)
}

// unaryHandler builds the method handler generated code would contain for a
// single unary method.
func unaryHandler[Req, Resp any](
	fullMethod string,
	call func(AuthServer, context.Context, *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AuthServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
