package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AviOnlineSec/cra/internal/model"
	"github.com/AviOnlineSec/cra/internal/notify"
	"github.com/AviOnlineSec/cra/pkg/jwtutil"
	"github.com/AviOnlineSec/cra/pkg/logger"
	"github.com/AviOnlineSec/cra/prometheus"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// PasswordCost is the bcrypt cost used for new password hashes
var PasswordCost = bcrypt.DefaultCost

var validate = validator.New()

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IdentityService handles registration, authentication and password changes
type IdentityService struct {
	db       *gorm.DB
	jwt      *jwtutil.JWTUtil
	notifier notify.Notifier
	now      func() time.Time
}

// NewIdentityService creates an identity service
func NewIdentityService(db *gorm.DB, jwt *jwtutil.JWTUtil, notifier notify.Notifier) *IdentityService {
	return &IdentityService{db: db, jwt: jwt, notifier: notifier, now: time.Now}
}

// RegisterInput is a self-service registration request
type RegisterInput struct {
	Email           string
	Username        string
	FirstName       string
	LastName        string
	PhoneNumber     string
	Password        string
	PasswordConfirm string
}

// Register creates an inactive, unapproved account and its pending approval.
// The administrator notification is best effort.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	log := logger.FromStdContext(ctx)

	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		in.Username = in.Email
	}

	verr := &ValidationError{}
	if err := validate.Var(in.Email, "required,email"); err != nil {
		verr.Add("email", "Enter a valid email address.")
	}
	if len(in.Password) < MinPasswordLength {
		verr.Add("password", fmt.Sprintf("Ensure this field has at least %d characters.", MinPasswordLength))
	}
	if in.Password != in.PasswordConfirm {
		verr.Add("password_confirm", "Password fields didn't match.")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var user *model.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.User{}).Where("LOWER(email) = ?", in.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return newError(ErrConflict, "A user with this email already exists.")
		}
		if err := tx.Model(&model.User{}).Where("username = ?", in.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return invalid("username", "A user with that username already exists.")
		}

		hash, err := hashPassword(in.Password)
		if err != nil {
			return err
		}
		user = &model.User{
			Username:    in.Username,
			Email:       in.Email,
			Password:    hash,
			FirstName:   cleanText(in.FirstName),
			LastName:    cleanText(in.LastName),
			PhoneNumber: strings.TrimSpace(in.PhoneNumber),
			Role:        model.RoleUser,
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(&model.UserApproval{UserID: user.ID, Status: model.ApprovalPending}).Error
	})
	if err != nil {
		return nil, err
	}

	prometheus.RegisterCounter.Inc()
	log.Info("User registered, awaiting approval", zap.Uint("user_id", user.ID), zap.String("email", user.Email))

	if err := s.notifier.RegistrationReceived(ctx, user); err != nil {
		prometheus.RecordNotificationFailure("registration")
		log.Warn("Failed to send registration notification", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

// Authenticate checks the credentials of an active, approved account and
// issues an access and refresh token. login may be the email or username.
func (s *IdentityService) Authenticate(ctx context.Context, login, password string) (*jwtutil.TokenPair, *model.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, nil, ErrInvalidCredentials
	}

	var user model.User
	err := s.db.WithContext(ctx).
		Where("LOWER(email) = ? OR username = ?", strings.ToLower(login), login).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	if !checkPassword(user.Password, password) || !user.IsActive || !user.IsApproved {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.jwt.GeneratePair(claimsFor(&user))
	if err != nil {
		return nil, nil, fmt.Errorf("generate token: %w", err)
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login", now).Error; err != nil {
		logger.FromStdContext(ctx).Warn("Failed to record last login", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	user.LastLogin = &now
	return pair, &user, nil
}

// Refresh issues a new access token for a valid refresh token, as long as
// the account is still active and approved
func (s *IdentityService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.jwt.ValidateTyped(refreshToken, jwtutil.RefreshToken)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	user, err := s.Profile(ctx, claims.UserID)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if !user.IsActive || !user.IsApproved {
		return "", ErrInvalidCredentials
	}
	return s.jwt.GenerateAccess(claimsFor(user))
}

// Verify reports whether the token is a valid token of any type
func (s *IdentityService) Verify(token string) error {
	if _, err := s.jwt.ValidateToken(token); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Profile loads a user by id
func (s *IdentityService) Profile(ctx context.Context, userID uint) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Preload("Tenant").First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(ErrNotFound, "user %d not found", userID)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ChangePasswordInput is a password change request
type ChangePasswordInput struct {
	OldPassword     string
	NewPassword     string
	ConfirmPassword string
}

// ChangePassword replaces the caller's password and clears the forced change flag
func (s *IdentityService) ChangePassword(ctx context.Context, userID uint, in ChangePasswordInput) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newError(ErrNotFound, "user %d not found", userID)
			}
			return err
		}

		verr := &ValidationError{}
		if !checkPassword(user.Password, in.OldPassword) {
			verr.Add("old_password", "Old password is incorrect.")
		}
		if len(in.NewPassword) < MinPasswordLength {
			verr.Add("new_password", fmt.Sprintf("Ensure this field has at least %d characters.", MinPasswordLength))
		}
		if in.NewPassword != in.ConfirmPassword {
			verr.Add("new_password_confirm", "Password fields didn't match.")
		}
		if err := verr.OrNil(); err != nil {
			return err
		}

		hash, err := hashPassword(in.NewPassword)
		if err != nil {
			return err
		}
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"password":             hash,
			"must_change_password": false,
		}).Error; err != nil {
			return err
		}
		logger.FromStdContext(ctx).Info("Password changed", zap.Uint("user_id", user.ID))
		return nil
	})
}

func claimsFor(u *model.User) jwtutil.UserClaims {
	return jwtutil.UserClaims{
		UserID:             u.ID,
		Email:              u.Email,
		Name:               u.DisplayName(),
		Role:               string(u.Role),
		IsSuperuser:        u.IsSuperuser,
		TenantID:           u.TenantID,
		MustChangePassword: u.MustChangePassword,
	}
}
