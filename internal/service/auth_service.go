package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ticketdesk/ticket-service/internal/auth"
	"github.com/ticketdesk/ticket-service/internal/config"
	"github.com/ticketdesk/ticket-service/internal/domain"
	"github.com/ticketdesk/ticket-service/internal/repository"
	apperrors "github.com/ticketdesk/ticket-service/pkg/util/errorutil"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

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

// RegisterInput carries the fields shared by every account creation path.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// CreateUserInput is the admin path, which may pick any role and level.
type CreateUserInput struct {
	RegisterInput
	Role  string
	Level string
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     logger.Named("auth"),
	}
}

// Register creates a client account for an anonymous caller and signs them in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, domain.Token, error) {
	user, err := s.createAccount(ctx, input, domain.RoleClient, nil, nil)
	if err != nil {
		return nil, domain.Token{}, err
	}
	token, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, domain.Token{}, err
	}
	return user, token, nil
}

// RegisterClient lets an admin open a client account.
func (s *AuthService) RegisterClient(ctx context.Context, admin *domain.User, input RegisterInput) (*domain.User, error) {
	if err := auth.Authorize(admin, auth.ActionRegisterClient); err != nil {
		return nil, err
	}
	return s.createAccount(ctx, input, domain.RoleClient, nil, stringPtr(admin.ID))
}

// CreateUser lets an admin open an account of any role. Level applies to
// staff roles only.
func (s *AuthService) CreateUser(ctx context.Context, admin *domain.User, input CreateUserInput) (*domain.User, error) {
	if err := auth.Authorize(admin, auth.ActionManageUsers); err != nil {
		return nil, err
	}
	role := domain.UserRole(strings.TrimSpace(input.Role))
	if !role.Valid() {
		return nil, apperrors.NewValidationError("Invalid role", map[string]any{"role": input.Role})
	}
	var level *domain.UserLevel
	if lv := strings.ToUpper(strings.TrimSpace(input.Level)); lv != "" {
		parsed := domain.UserLevel(lv)
		if !parsed.Valid() {
			return nil, apperrors.NewValidationError("Invalid level", map[string]any{"level": input.Level})
		}
		if role == domain.RoleClient {
			return nil, apperrors.NewValidationError("Level applies to staff accounts only", nil)
		}
		level = &parsed
	}
	return s.createAccount(ctx, input.RegisterInput, role, level, stringPtr(admin.ID))
}

// ListUsers returns accounts, optionally restricted to one role.
func (s *AuthService) ListUsers(ctx context.Context, admin *domain.User, role string, limit, offset int) ([]domain.User, error) {
	if err := auth.Authorize(admin, auth.ActionManageUsers); err != nil {
		return nil, err
	}
	filter := repository.UserFilter{Limit: limit, Offset: offset}
	if role != "" {
		r := domain.UserRole(role)
		if !r.Valid() {
			return nil, apperrors.NewValidationError("Invalid role filter", map[string]any{"role": role})
		}
		filter.Role = &r
	}
	return s.users.List(ctx, filter)
}

// Login verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, domain.Token, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, domain.Token{}, apperrors.NewValidationError("Please provide email and password", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Token{}, apperrors.NewUnauthorized("Invalid credentials")
		}
		return nil, domain.Token{}, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, domain.Token{}, apperrors.NewUnauthorized("Invalid credentials")
	}
	if !user.IsActive {
		return nil, domain.Token{}, apperrors.NewUnauthorized("Account is deactivated")
	}

	token, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, domain.Token{}, err
	}
	return user, token, nil
}

// EnsureAdmin seeds the bootstrap admin account when configured and missing.
func (s *AuthService) EnsureAdmin(ctx context.Context, cfg config.BootstrapConfig) error {
	if !cfg.Enabled() {
		return nil
	}
	if _, err := s.users.GetByEmail(ctx, normalizeEmail(cfg.AdminEmail)); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	user, err := s.createAccount(ctx, RegisterInput{
		Username: cfg.AdminUsername,
		Email:    cfg.AdminEmail,
		Password: cfg.AdminPassword,
	}, domain.RoleAdmin, nil, nil)
	if err != nil {
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", user.ID), zap.String("email", user.Email))
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// createAccount validates input, lower-cases the email and hashes the
// password before storing.
func (s *AuthService) createAccount(ctx context.Context, input RegisterInput, role domain.UserRole, level *domain.UserLevel, createdBy *string) (*domain.User, error) {
	username := strings.TrimSpace(input.Username)
	email := normalizeEmail(input.Email)
	if username == "" || email == "" || input.Password == "" {
		return nil, apperrors.NewValidationError("Please provide username, email, and password", nil)
	}
	if !emailPattern.MatchString(email) {
		return nil, apperrors.NewValidationError("Please provide a valid email address", nil)
	}
	if reason := auth.CheckPasswordStrength(input.Password); reason != "" {
		return nil, apperrors.NewValidationError(reason, nil)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Level:        level,
		IsActive:     true,
		CreatedBy:    createdBy,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("User already exists with this email or username", nil)
		}
		return nil, err
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
