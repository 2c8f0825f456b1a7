package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/opensis/registrar/internal/models"
	apperrors "github.com/opensis/registrar/pkg/errors"
)

type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// LoginRequest is the credential pair carried by a LOGIN command.
type LoginRequest struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

// CreateUserRequest describes an admin-initiated account creation.
type CreateUserRequest struct {
	Username string `validate:"required,min=3"`
	Password string `validate:"required,min=6"`
	FullName string `validate:"required"`
	Role     string `validate:"required"`
}

// AuthService verifies credentials and manages accounts. Password hashing
// is bcrypt; the hash itself is opaque to the rest of the system.
type AuthService struct {
	users     authUserRepository
	audits    auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, audits auditWriter, validate *validator.Validate, logger *zap.Logger) *AuthService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{users: users, audits: audits, validator: validate, logger: logger}
}

// Login authenticates a user by username and password.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMalformedRequest, "username and password required")
	}

	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Clone(apperrors.ErrInvalidCredentials, "")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "failed to fetch user")
	}

	if !user.Active {
		return nil, apperrors.Clone(apperrors.ErrInvalidCredentials, "account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperrors.Clone(apperrors.ErrInvalidCredentials, "")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	if s.audits != nil {
		if err := s.audits.Create(ctx, &models.AuditLog{
			UserID:     &user.ID,
			Action:     models.AuditActionLogin,
			Resource:   "auth",
			ResourceID: &user.ID,
		}); err != nil {
			s.logger.Warn("failed to record login audit log", zap.Error(err))
		}
	}

	return user, nil
}

// CreateUser provisions an account with a bcrypt-hashed password. Caller
// must already have passed the admin check.
func (s *AuthService) CreateUser(ctx context.Context, createdBy string, req CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeMalformedRequest, "invalid user payload")
	}
	if !models.ValidRole(req.Role) {
		return nil, apperrors.Clone(apperrors.ErrMalformedRequest, "unknown role "+req.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         models.UserRole(req.Role),
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStore, "failed to create user")
	}

	if s.audits != nil {
		if err := s.audits.Create(ctx, &models.AuditLog{
			UserID:     &createdBy,
			Action:     models.AuditActionUserCreate,
			Resource:   "user",
			ResourceID: &user.ID,
		}); err != nil {
			s.logger.Warn("failed to record user creation audit log", zap.Error(err))
		}
	}

	return user, nil
}
