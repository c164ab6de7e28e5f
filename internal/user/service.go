package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/config"
)

type Service struct {
	repo       Store
	jwtSecret  string
	tokenTTL   time.Duration
	issuer     string
	bcryptCost int
}

type MyJWTClaims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo Store, cfg config.JWTConfig) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Service{
		repo:       repo,
		jwtSecret:  cfg.Secret,
		tokenTTL:   cfg.TTL,
		issuer:     cfg.Issuer,
		bcryptCost: bcrypt.DefaultCost,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	username := strings.TrimSpace(req.Username)
	if len(username) < 3 || len(username) > 50 {
		return nil, apperr.InvalidArgument("username must be between 3 and 50 characters")
	}
	if len(req.Password) < 6 {
		return nil, apperr.InvalidArgument("password must be at least 6 characters")
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: username,
		Password: string(hashedPwd),
	}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, apperr.FromContext("create user", err)
	}

	return &RegisterResponse{ID: u.ID, Username: u.Username}, nil
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.Unauthorized("invalid credentials")
		}
		return nil, apperr.FromContext("get user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthorized("invalid credentials")
	}

	ss, err := s.issueToken(u, time.Now())
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
	}, nil
}

func (s *Service) issueToken(u *User, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

// ValidateToken resolves an access token to the user it was issued for.
// Expired and otherwise invalid tokens are reported with distinct messages.
func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, "", apperr.Unauthorized("token expired")
		}
		return 0, "", apperr.Unauthorized("token is invalid")
	}
	if !token.Valid || claims.ID <= 0 {
		return 0, "", apperr.Unauthorized("token is invalid")
	}

	return claims.ID, claims.Username, nil
}

// Exists backs participant validation in the chat services.
func (s *Service) Exists(ctx context.Context, userID int) (bool, error) {
	_, err := s.repo.GetUserByID(ctx, userID)
	if err == nil {
		return true, nil
	}
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	return false, err
}

func (s *Service) SearchUsers(ctx context.Context, query string, requesterID int) ([]User, error) {
	users, err := s.repo.SearchUsers(ctx, strings.TrimSpace(query), requesterID)
	if err != nil {
		return nil, apperr.FromContext("search users", err)
	}
	return users, nil
}

// GetUser backs session restore for clients holding only the cookie.
func (s *Service) GetUser(ctx context.Context, id int) (*User, error) {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, apperr.FromContext("get user", err)
	}
	return u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID int, req *ChangePasswordRequest) error {
	if len(req.NewPassword) < 6 {
		return apperr.InvalidArgument("password must be at least 6 characters")
	}

	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return apperr.FromContext("get user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.OldPassword)); err != nil {
		return apperr.InvalidArgument("invalid old password")
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.bcryptCost)
	if err != nil {
		return err
	}
	return apperr.FromContext("update password", s.repo.UpdatePassword(ctx, userID, string(hashedPwd)))
}

func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
