package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session binds one refresh token to one user device. Only token hashes are
// persisted. PreviousTokenHash survives a single rotation so that replay of a
// superseded token can be told apart from a token that never existed.
type Session struct {
	ID                string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID            string     `gorm:"type:uuid;not null;index" json:"user_id"`
	User              *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RefreshTokenHash  string     `gorm:"uniqueIndex;not null" json:"-"`
	PreviousTokenHash string     `gorm:"index" json:"-"`
	IPAddress         string     `json:"ip_address"`
	UserAgent         string     `json:"user_agent"`
	DeviceName        string     `json:"device_name"`
	ExpiresAt         time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt        time.Time  `json:"last_used_at"`
	CreatedAt         time.Time  `json:"created_at"`
	RevokedAt         *time.Time `json:"revoked_at"`
	ReuseDetectedAt   *time.Time `json:"-"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the session can still mint access tokens at the given
// instant. A session expiring exactly at now is already expired.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
