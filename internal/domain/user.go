package domain

import (
	"strings"
	"time"
)

// User is the slice of the user record the pipeline touches. The record is
// owned by the user-management subsystem; the pipeline reads the token and
// platform, and writes only the token-invalidation fields.
type User struct {
	ID             string
	Name           string
	Platform       Platform
	DeliveryToken  *string
	TokenValid     *bool
	TokenError     *string
	TokenErrorTime *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (u *User) HasToken() bool {
	return u.DeliveryToken != nil && strings.TrimSpace(*u.DeliveryToken) != ""
}

func (u *User) Token() string {
	if u.DeliveryToken == nil {
		return ""
	}
	return *u.DeliveryToken
}

// DisplayName returns the user's name with a fallback for missing profiles.
func (u *User) DisplayName() string {
	if u == nil || strings.TrimSpace(u.Name) == "" {
		return "Someone"
	}
	return u.Name
}
