package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util"
)

// AuthService coordinates registration, login and account administration.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo repository.UserRepository
	Logger   *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
	}
}

// Session is an issued access token.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// SignupInput describes a new account.
type SignupInput struct {
	Email    string
	Password string
	Skills   []string
}

// UserListInput carries raw admin listing query values.
type UserListInput struct {
	Page   int
	Limit  int
	Search string
}

// UserPage is one page of the admin user listing.
type UserPage struct {
	Users      []domain.User
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// UserUpdateInput changes an account's role and skills, located by email.
type UserUpdateInput struct {
	Email  string
	Role   string
	Skills []string
}

// Signup registers a plain user and signs them in.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (*Session, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooShort) {
			return nil, apperrors.NewValidationError("password too short",
				map[string]any{"password": fmt.Sprintf("at least %d characters", auth.MinPasswordLength)})
		}
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		Skills:       cleanSkills(input.Skills),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
		}
		return nil, apperrors.MapError(err)
	}
	return s.issue(user)
}

// Login verifies credentials and returns a fresh token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	return s.issue(user)
}

// Logout is an acknowledgement only; tokens are stateless and expire on their own.
func (s *AuthService) Logout(_ context.Context, _ *domain.User) error {
	return nil
}

// ListUsers pages through accounts, newest first.
func (s *AuthService) ListUsers(ctx context.Context, input UserListInput) (*UserPage, error) {
	page, limit := clampPaging(input.Page, input.Limit)
	filter := repository.UserFilter{
		Search: strings.TrimSpace(input.Search),
		Page:   repository.Page{Limit: limit, Offset: (page - 1) * limit},
	}
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	totalPages := totalPagesFor(total, limit)
	if page > totalPages {
		page = totalPages
		filter.Page.Offset = (page - 1) * limit
		if users, total, err = s.users.List(ctx, filter); err != nil {
			return nil, apperrors.MapError(err)
		}
	}
	return &UserPage{Users: users, Page: page, Limit: limit, Total: total, TotalPages: totalPages}, nil
}

// UpdateUser changes role and skills. An empty skills list keeps the current ones.
func (s *AuthService) UpdateUser(ctx context.Context, input UserUpdateInput) (*domain.User, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(input.Role)))
	if !role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": input.Role})
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", map[string]any{"email": email})
		}
		return nil, apperrors.MapError(err)
	}

	user.Role = role
	if skills := cleanSkills(input.Skills); len(skills) > 0 {
		user.Skills = skills
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// SeedAdmin makes sure an admin account exists for email. An existing account
// is left untouched.
func (s *AuthService) SeedAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	admin := &domain.User{Email: email, PasswordHash: hash, Role: domain.RoleAdmin, Skills: []string{}}
	if err := s.users.Create(ctx, admin); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}
	s.logger.Info("seeded admin account", zap.String("email", email))
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) issue(user *domain.User) (*Session, error) {
	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperrors.NewValidationError("email is required", map[string]any{"email": "required"})
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperrors.NewValidationError("invalid email", map[string]any{"email": raw})
	}
	return email, nil
}

func cleanSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, skill := range skills {
		skill = strings.TrimSpace(skill)
		key := strings.ToLower(skill)
		if skill == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, skill)
	}
	return out
}
