package auth

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"authsvc/internal/domain/models"
	"authsvc/internal/gateway"
	"authsvc/internal/services/auth"
)

type Auth interface {
	Register(
		ctx context.Context,
		email string,
		password string,
		firstName string,
		lastName string,
	) (models.UserView, error)
	Login(
		ctx context.Context,
		email string,
		password string,
	) (models.TokenPair, models.UserView, error)
	Refresh(
		ctx context.Context,
		refreshToken string,
	) (models.TokenPair, error)
	Logout(
		ctx context.Context,
		refreshToken string,
	) error
	LogoutAll(
		ctx context.Context,
		userID string,
	) (int64, error)
	ListUsers(ctx context.Context) ([]models.UserView, error)
	User(
		ctx context.Context,
		userID string,
	) (models.UserView, error)
}

type serverAPI struct {
	auth Auth
}

func Register(gRPC grpc.ServiceRegistrar, auth Auth) {
	RegisterAuthServer(gRPC, &serverAPI{auth: auth})
}

func (s *serverAPI) Register(
	ctx context.Context,
	req *RegisterRequest,
) (*RegisterResponse, error) {
	if req.GetEmail() == "" {
		return nil, status.Error(codes.InvalidArgument, "email is required")
	}

	if req.GetPassword() == "" {
		return nil, status.Error(codes.InvalidArgument, "password is required")
	}

	user, err := s.auth.Register(
		ctx,
		req.GetEmail(),
		req.GetPassword(),
		req.FirstName,
		req.LastName,
	)
	if err != nil {
		return nil, toStatus(err)
	}

	return &RegisterResponse{User: user}, nil
}

func (s *serverAPI) Login(
	ctx context.Context,
	req *LoginRequest,
) (*LoginResponse, error) {
	if req.GetEmail() == "" {
		return nil, status.Error(codes.InvalidArgument, "email is required")
	}

	if req.GetPassword() == "" {
		return nil, status.Error(codes.InvalidArgument, "password is required")
	}

	pair, user, err := s.auth.Login(ctx, req.GetEmail(), req.GetPassword())
	if err != nil {
		return nil, toStatus(err)
	}

	return &LoginResponse{
		TokenPair: pair,
		User:      user,
	}, nil
}

func (s *serverAPI) Refresh(
	ctx context.Context,
	req *RefreshRequest,
) (*RefreshResponse, error) {
	if req.GetRefreshToken() == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}

	pair, err := s.auth.Refresh(ctx, req.GetRefreshToken())
	if err != nil {
		return nil, toStatus(err)
	}

	return &RefreshResponse{TokenPair: pair}, nil
}

func (s *serverAPI) Logout(
	ctx context.Context,
	req *LogoutRequest,
) (*LogoutResponse, error) {
	if req.GetRefreshToken() == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}

	if err := s.auth.Logout(ctx, req.GetRefreshToken()); err != nil {
		return nil, toStatus(err)
	}

	return &LogoutResponse{}, nil
}

func (s *serverAPI) LogoutAll(
	ctx context.Context,
	_ *LogoutAllRequest,
) (*LogoutAllResponse, error) {
	identity, ok := gateway.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, gateway.ErrUnauthenticated.Error())
	}

	n, err := s.auth.LogoutAll(ctx, identity.UserID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &LogoutAllResponse{Revoked: n}, nil
}

func (s *serverAPI) ListUsers(
	ctx context.Context,
	_ *ListUsersRequest,
) (*ListUsersResponse, error) {
	users, err := s.auth.ListUsers(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ListUsersResponse{Users: users}, nil
}

func (s *serverAPI) Me(
	ctx context.Context,
	_ *MeRequest,
) (*MeResponse, error) {
	identity, ok := gateway.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, gateway.ErrUnauthenticated.Error())
	}

	user, err := s.auth.User(ctx, identity.UserID)
	if err != nil {
		return nil, toStatus(err)
	}

	return &MeResponse{User: user}, nil
}

// toStatus maps an auth service error to a gRPC status by its kind. Only
// rejection messages reach the client; storage details never do.
func toStatus(err error) error {
	if errors.Is(err, auth.ErrUnavailable) {
		return status.Error(codes.Unavailable, "service unavailable")
	}

	rejection, ok := auth.Rejection(err)
	if !ok {
		return status.Error(codes.Internal, "internal server error")
	}

	switch {
	case errors.Is(rejection, auth.ErrConflict):
		return status.Error(codes.AlreadyExists, rejection.Error())
	case errors.Is(rejection, auth.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, rejection.Error())
	case errors.Is(rejection, auth.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, rejection.Error())
	default:
		return status.Error(codes.Internal, "internal server error")
	}
}
