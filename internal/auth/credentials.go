package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/harshu777/balsampada-lms/internal/models"
	"github.com/harshu777/balsampada-lms/pkg/crypto"
)

var (
	// ErrInvalidCredentials is returned for unknown email and wrong password
	// alike; callers must not be able to tell the difference.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked signals that the user has exceeded the permitted failed attempts.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrEmailTaken is returned when registering an address that already has an account.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrWeakPassword rejects passwords failing the baseline strength check.
	ErrWeakPassword = errors.New("auth: password too weak")
)

const minPasswordLength = 8

// dummyHash is compared against when the email does not resolve to a user so
// that lookup misses cost the same as a wrong password.
var dummyHash, _ = crypto.HashPassword("timing-equalizer-placeholder")

// CredentialConfig defines tunable behaviour for the credential service.
type CredentialConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	Clock            func() time.Time
}

// RegisterInput captures the details required to register a new account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Role     string
}

// CredentialService implements email/password verification with account
// lockout, plus registration and password change.
type CredentialService struct {
	db        *gorm.DB
	clock     func() time.Time
	threshold int
	duration  time.Duration
}

// NewCredentialService builds a credential service with sane defaults.
func NewCredentialService(db *gorm.DB, cfg CredentialConfig) (*CredentialService, error) {
	if db == nil {
		return nil, errors.New("credential service: db is required")
	}

	threshold := cfg.LockoutThreshold
	if threshold <= 0 {
		threshold = 5
	}

	duration := cfg.LockoutDuration
	if duration <= 0 {
		duration = 15 * time.Minute
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &CredentialService{
		db:        db,
		clock:     clock,
		threshold: threshold,
		duration:  duration,
	}, nil
}

// NormalizeEmail lower-cases and trims an email address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Verify checks the supplied credentials and returns the account when they
// match. Unknown email, wrong password, and deactivated account all collapse
// to ErrInvalidCredentials.
func (s *CredentialService) Verify(email, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := s.db.Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Burn a comparison so the miss is not observable through timing.
		crypto.VerifyPassword(dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("credential service: query user: %w", err)
	}

	now := s.clock()

	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return nil, ErrAccountLocked
	}

	if user.LockedUntil != nil && !user.LockedUntil.After(now) {
		user.LockedUntil = nil
		user.FailedAttempts = 0
		if err := s.db.Model(&user).Updates(map[string]any{
			"locked_until":    nil,
			"failed_attempts": 0,
		}).Error; err != nil {
			return nil, fmt.Errorf("credential service: reset lock state: %w", err)
		}
	}

	if !crypto.VerifyPassword(user.Password, password) {
		return nil, s.handleFailedAttempt(&user, now)
	}

	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	user.FailedAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	if err := s.db.Model(&user).Updates(map[string]any{
		"failed_attempts": 0,
		"locked_until":    nil,
		"last_login_at":   now,
	}).Error; err != nil {
		return nil, fmt.Errorf("credential service: update user: %w", err)
	}

	return &user, nil
}

func (s *CredentialService) handleFailedAttempt(user *models.User, now time.Time) error {
	user.FailedAttempts++

	updates := map[string]any{
		"failed_attempts": user.FailedAttempts,
	}

	if user.FailedAttempts >= s.threshold {
		lockUntil := now.Add(s.duration)
		user.LockedUntil = &lockUntil
		updates["locked_until"] = lockUntil
	}

	if err := s.db.Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("credential service: update failed attempts: %w", err)
	}

	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return ErrAccountLocked
	}

	return ErrInvalidCredentials
}

// Register creates a new account with a hashed password. The role defaults to
// student; teacher and admin accounts are provisioned by administrators.
func (s *CredentialService) Register(input RegisterInput) (*models.User, error) {
	email := NormalizeEmail(input.Email)
	if email == "" {
		return nil, errors.New("credential service: email is required")
	}
	if len(input.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = models.RoleStudent
	}
	if !models.ValidRole(role) {
		return nil, fmt.Errorf("credential service: unknown role %q", role)
	}

	var count int64
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("credential service: check email: %w", err)
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("credential service: hash password: %w", err)
	}

	user := &models.User{
		Email:    email,
		Password: hashed,
		Name:     strings.TrimSpace(input.Name),
		Role:     role,
		IsActive: true,
	}

	if err := s.db.Create(user).Error; err != nil {
		return nil, fmt.Errorf("credential service: create user: %w", err)
	}

	return user, nil
}

// FindOrCreateOAuthUser resolves a verified (email, name) pair from an identity
// provider to a local account, provisioning a student account on first sign-in.
// OAuth accounts carry an unusable random password.
func (s *CredentialService) FindOrCreateOAuthUser(email, name string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, errors.New("credential service: email is required")
	}

	var user models.User
	err := s.db.Where("email = ?", email).Take(&user).Error
	if err == nil {
		if !user.IsActive {
			return nil, ErrInvalidCredentials
		}
		if !user.EmailVerified {
			if err := s.db.Model(&user).Update("email_verified", true).Error; err != nil {
				return nil, fmt.Errorf("credential service: mark verified: %w", err)
			}
			user.EmailVerified = true
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("credential service: query user: %w", err)
	}

	random, err := crypto.GenerateToken(32)
	if err != nil {
		return nil, fmt.Errorf("credential service: generate placeholder secret: %w", err)
	}
	hashed, err := crypto.HashPassword(random)
	if err != nil {
		return nil, fmt.Errorf("credential service: hash placeholder secret: %w", err)
	}

	user = models.User{
		Email:         email,
		Password:      hashed,
		Name:          strings.TrimSpace(name),
		Role:          models.RoleStudent,
		EmailVerified: true,
		IsActive:      true,
	}

	if err := s.db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("credential service: create user: %w", err)
	}

	return &user, nil
}

// ChangePassword updates a user's password after verifying the existing credential.
func (s *CredentialService) ChangePassword(userID, currentPassword, newPassword string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("credential service: user id is required")
	}
	if len(newPassword) < minPasswordLength {
		return ErrWeakPassword
	}

	var user models.User
	if err := s.db.Take(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("credential service: find user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, currentPassword) {
		return ErrInvalidCredentials
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("credential service: hash password: %w", err)
	}

	if err := s.db.Model(&user).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("credential service: update password: %w", err)
	}

	return nil
}
