package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ballggwp/eclaim/internal/claim/entity"
	"github.com/ballggwp/eclaim/internal/claim/repository"
	"github.com/ballggwp/eclaim/internal/claim/workflow"
	"github.com/ballggwp/eclaim/internal/config"
	"github.com/ballggwp/eclaim/internal/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials covers unknown emails, wrong passwords and disabled accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidRefreshToken is returned for expired, reused or malformed refresh tokens.
	ErrInvalidRefreshToken = errors.New("refresh token expired or invalid")
)

// TokenStore tracks live refresh tokens and revoked access tokens.
type TokenStore interface {
	SaveRefresh(ctx context.Context, jti, userID string, ttl time.Duration) error
	// ConsumeRefresh deletes the token and returns its owner; a token is usable once.
	ConsumeRefresh(ctx context.Context, jti string) (string, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	Revoked(ctx context.Context, jti string) bool
}

// RedisTokenStore Redis令牌存储
type RedisTokenStore struct {
	rdb *redis.Client
}

// NewRedisTokenStore 创建Redis令牌存储
func NewRedisTokenStore(rdb *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{rdb: rdb}
}

func (s *RedisTokenStore) SaveRefresh(ctx context.Context, jti, userID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, "token:refresh:"+jti, userID, ttl).Err()
}

func (s *RedisTokenStore) ConsumeRefresh(ctx context.Context, jti string) (string, error) {
	userID, err := s.rdb.GetDel(ctx, "token:refresh:"+jti).Result()
	if errors.Is(err, redis.Nil) {
		return "", repository.ErrNotFound
	}
	return userID, err
}

func (s *RedisTokenStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, "token:revoked:"+jti, 1, ttl).Err()
}

// Revoked fails open when Redis is unreachable.
func (s *RedisTokenStore) Revoked(ctx context.Context, jti string) bool {
	n, err := s.rdb.Exists(ctx, "token:revoked:"+jti).Result()
	return err == nil && n > 0
}

// AuthService 认证服务
type AuthService struct {
	users  UserStore
	tokens TokenStore
	cfg    config.JWTConfig
	now    func() time.Time
}

// NewAuthService 创建认证服务
func NewAuthService(users UserStore, tokens TokenStore, cfg config.JWTConfig) *AuthService {
	return &AuthService{users: users, tokens: tokens, cfg: cfg, now: time.Now}
}

// TokenPair Token对
type TokenPair struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	User         *entity.User `json:"user,omitempty"`
}

type refreshClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// Login 邮箱密码登录
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.Active || user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.users.TouchLogin(ctx, user.ID, now); err == nil {
		user.LastLoginAt = &now
	}
	return s.generateTokenPair(ctx, user)
}

// Refresh 刷新Token；旧的Refresh Token作废
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims := &refreshClaims{}
	token, err := jwt.ParseWithClaims(refreshToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid || claims.Type != "refresh" || claims.ID == "" {
		return nil, ErrInvalidRefreshToken
	}

	userID, err := s.tokens.ConsumeRefresh(ctx, claims.ID)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil || !user.Active {
		return nil, ErrInvalidRefreshToken
	}
	return s.generateTokenPair(ctx, user)
}

// Logout revokes the access token until it would have expired and drops the
// refresh token when one is given.
func (s *AuthService) Logout(ctx context.Context, access *middleware.JWTClaims, refreshToken string) error {
	if access != nil && access.ID != "" && access.ExpiresAt != nil {
		if err := s.tokens.Revoke(ctx, access.ID, access.ExpiresAt.Sub(s.now())); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	if refreshToken == "" {
		return nil
	}
	claims := &refreshClaims{}
	if _, err := jwt.ParseWithClaims(refreshToken, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now)); err == nil && claims.ID != "" {
		s.tokens.ConsumeRefresh(ctx, claims.ID)
	}
	return nil
}

// GetCurrentUser 获取当前用户
func (s *AuthService) GetCurrentUser(ctx context.Context, userID string) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// generateTokenPair 生成Token对
func (s *AuthService) generateTokenPair(ctx context.Context, user *entity.User) (*TokenPair, error) {
	now := s.now()

	accessClaims := middleware.JWTClaims{
		UserID:         user.ID,
		EmployeeNumber: user.EmployeeNumber,
		Name:           user.DisplayName(),
		Email:          user.Email,
		Role:           string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenExpire)),
			ID:        uuid.New().String(),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshJti := uuid.New().String()
	rc := refreshClaims{
		Type: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTokenExpire)),
			ID:        refreshJti,
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	if err := s.tokens.SaveRefresh(ctx, refreshJti, user.ID, s.cfg.RefreshTokenExpire); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.cfg.AccessTokenExpire.Seconds()),
		User:         user,
	}, nil
}

// HashPassword 生成密码哈希
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", &workflow.Error{Kind: workflow.ErrValidation, Reason: "password must be at least 8 characters", Fields: []string{"password"}}
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
