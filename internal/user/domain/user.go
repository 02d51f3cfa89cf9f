package domain

import (
	"slices"
	"strings"
	"time"
)

type User struct {
	ID    string `json:"id" gorm:"primaryKey"`
	Email string `json:"email" gorm:"index"` // real mailbox, target of forwarded mail
	Name  string `json:"name"`
	// AppAddress is the dedicated inbound address assigned by the app.
	AppAddress      string    `json:"app_address" gorm:"uniqueIndex"`
	SourceAddresses []string  `json:"source_addresses" gorm:"type:text;serializer:json"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NormalizeAddress lowercases and trims an email address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// OwnsSource reports whether addr is one of the user's registered addresses.
func (u *User) OwnsSource(addr string) bool {
	addr = NormalizeAddress(addr)
	if addr == "" {
		return false
	}
	if NormalizeAddress(u.Email) == addr {
		return true
	}
	return slices.ContainsFunc(u.SourceAddresses, func(s string) bool {
		return NormalizeAddress(s) == addr
	})
}
