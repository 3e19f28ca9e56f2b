package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/harshu777/balsampada-lms/internal/models"
	"github.com/harshu777/balsampada-lms/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.CacheEntry{},
	)
}

// SeedAdminInput describes the bootstrap administrator account.
type SeedAdminInput struct {
	Email    string
	Password string
	Name     string
}

// SeedAdmin provisions the initial administrator when no admin exists yet.
// Subsequent calls are no-ops.
func SeedAdmin(db *gorm.DB, input SeedAdminInput) error {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return errors.New("database: seed admin requires email and password")
	}

	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return err
	}

	admin := models.User{
		Email:         email,
		Password:      hashed,
		Name:          strings.TrimSpace(input.Name),
		Role:          models.RoleAdmin,
		EmailVerified: true,
		IsActive:      true,
	}

	return db.Where(models.User{Email: email}).Attrs(admin).FirstOrCreate(&models.User{}).Error
}
