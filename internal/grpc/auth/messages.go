package auth

import "authsvc/internal/domain/models"

type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func (r *RegisterRequest) GetEmail() string {
	if r == nil {
		return ""
	}
	return r.Email
}

func (r *RegisterRequest) GetPassword() string {
	if r == nil {
		return ""
	}
	return r.Password
}

type RegisterResponse struct {
	User models.UserView `json:"user"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) GetEmail() string {
	if r == nil {
		return ""
	}
	return r.Email
}

func (r *LoginRequest) GetPassword() string {
	if r == nil {
		return ""
	}
	return r.Password
}

type LoginResponse struct {
	models.TokenPair
	User models.UserView `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *RefreshRequest) GetRefreshToken() string {
	if r == nil {
		return ""
	}
	return r.RefreshToken
}

type RefreshResponse struct {
	models.TokenPair
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *LogoutRequest) GetRefreshToken() string {
	if r == nil {
		return ""
	}
	return r.RefreshToken
}

type LogoutResponse struct{}

type LogoutAllRequest struct{}

type LogoutAllResponse struct {
	Revoked int64 `json:"revoked"`
}

type ListUsersRequest struct{}

type ListUsersResponse struct {
	Users []models.UserView `json:"users"`
}

type MeRequest struct{}

type MeResponse struct {
	User models.UserView `json:"user"`
}
