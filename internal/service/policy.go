package service

import (
	"math"
	"time"

	"github.com/prn-tf/tradernet-identity/internal/domain"
)

// PasswordAgePolicy derives password expiry from the age of the latest credential.
type PasswordAgePolicy struct {
	// MaxAge is the credential age at which the password expires. Zero disables expiry.
	MaxAge time.Duration

	// WarningPeriod is how long before expiry PasswordExpiresInDays is reported.
	WarningPeriod time.Duration
}

// Apply sets user.PasswordExpired and user.PasswordExpiresInDays for latest
// at now. A pending forced change always reports the password as expired.
func (p PasswordAgePolicy) Apply(user *domain.User, latest *domain.PasswordRecord, now time.Time) {
	user.PasswordExpired = false
	user.PasswordExpiresInDays = nil

	if user.ChangePasswordNextLogin {
		user.PasswordExpired = true
		return
	}
	if p.MaxAge <= 0 || user.PasswordNeverExpires || latest == nil {
		return
	}

	expiresAt := latest.LastChanged().Add(p.MaxAge)
	if !now.Before(expiresAt) {
		user.PasswordExpired = true
		return
	}

	remaining := expiresAt.Sub(now)
	if p.WarningPeriod > 0 && remaining <= p.WarningPeriod {
		days := int(math.Ceil(remaining.Hours() / 24))
		user.PasswordExpiresInDays = &days
	}
}

// LockoutPolicy locks accounts after consecutive failed logins.
type LockoutPolicy struct {
	// MaxAttempts is the failure count that locks the account. Zero disables lockout.
	MaxAttempts int
}

// Apply sets user.LockedOut from the user's failure counter.
func (p LockoutPolicy) Apply(user *domain.User) {
	user.LockedOut = p.MaxAttempts > 0 && user.IncorrectLoginAttempts >= p.MaxAttempts
}
