package identity

import (
	"strings"
	"time"
)

// Identity is the canonical local account record. ExternalID is nullable so
// that accounts created before their first provider login do not collide on
// the unique index.
type Identity struct {
	ID          string    `gorm:"column:id;primaryKey;size:36;not null"`
	ExternalID  *string   `gorm:"column:external_id;size:190;uniqueIndex"`
	Email       string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	Username    string    `gorm:"column:username;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	AvatarURL   string    `gorm:"column:avatar_url;size:512"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing local accounts.
func (Identity) TableName() string {
	return "identities"
}

// Linked reports whether a provider subject has been attached to this account.
func (i Identity) Linked() bool {
	return i.ExternalID != nil && *i.ExternalID != ""
}

// Assertion is a provider's claim about who the user is. It is valid for a
// single login attempt and is never persisted.
type Assertion struct {
	ExternalID  string
	Email       string
	DisplayName string
	AvatarURL   string
}

// NormalizeEmail lowercases and trims an address so lookups and the unique
// index agree on a single spelling.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// usernameFromEmail derives the immutable username from the email local-part.
func usernameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return email
	}
	return local
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
