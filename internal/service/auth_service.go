package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AuthService coordinates login and principal resolution.
type AuthService struct {
	store  repository.Store
	tokens *auth.TokenManager
	logger *zap.Logger
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	Store  repository.Store
	Tokens *auth.TokenManager
	Logger *zap.Logger
}

// LoginResult carries the issued token and the authenticated account.
type LoginResult struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	return &AuthService{
		store:  deps.Store,
		tokens: deps.Tokens,
		logger: loggerOrNop(deps.Logger),
	}
}

var errInvalidCredentials = apperrors.NewUnauthenticated("invalid username or password")

// Login authenticates an active account and issues an access token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, errInvalidCredentials
	}

	var user *domain.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		user, err = repos.Users.GetByUsername(ctx, username)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if !user.Active {
		s.logger.Info("login rejected for inactive account", zap.Int64("user_id", user.ID))
		return nil, errInvalidCredentials
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, errInvalidCredentials
	}

	token, exp, err := s.tokens.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	return &LoginResult{User: user, Token: token, ExpiresAt: exp}, nil
}

func (s *AuthService) activeUser(ctx context.Context, userID int64) (*domain.User, error) {
	var user *domain.User
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		user, err = repos.Users.GetByID(ctx, userID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthenticated("account no longer exists")
		}
		return nil, err
	}
	if !user.Active {
		return nil, apperrors.NewUnauthenticated("account is disabled")
	}
	if !user.Role.Valid() {
		return nil, apperrors.NewUnauthorized("account has no helpdesk role")
	}
	return user, nil
}

// LoadPrincipal resolves the caller behind a token from the stored account.
func (s *AuthService) LoadPrincipal(ctx context.Context, userID int64) (domain.Principal, error) {
	user, err := s.activeUser(ctx, userID)
	if err != nil {
		return domain.Principal{}, err
	}
	return domain.PrincipalFromUser(user), nil
}

// Me returns the caller's profile.
func (s *AuthService) Me(ctx context.Context, caller domain.Principal) (*domain.User, error) {
	return s.activeUser(ctx, caller.UserID)
}
