package domain

import "time"

// EligibilityInput holds the account attributes that decide whether a login
// may proceed. PasswordExpired and LockedOut are computed by external
// policies before evaluation.
type EligibilityInput struct {
	Status               UserStatus
	AccountExpiry        *time.Time
	PasswordExpired      bool
	PasswordNeverExpires bool
	LockedOut            bool
	BypassLockout        bool
}

// Eligibility is the evaluated set of login predicates.
type Eligibility struct {
	NotSystem          bool `json:"not_system"`
	NotDeleted         bool `json:"not_deleted"`
	NotDisabled        bool `json:"not_disabled"`
	NotExpired         bool `json:"not_expired"`
	PasswordNotExpired bool `json:"password_not_expired"`
	NotLockedOut       bool `json:"not_locked_out"`
	CanBypassLockout   bool `json:"can_bypass_lockout"`
}

// EvaluateEligibility computes every login predicate for in at now.
// It never mutates and never fails; missing data is permissive.
func EvaluateEligibility(in EligibilityInput, now time.Time) Eligibility {
	return Eligibility{
		NotSystem:          in.Status != UserStatusSystem,
		NotDeleted:         in.Status != UserStatusDeleted,
		NotDisabled:        in.Status != UserStatusDisabled,
		NotExpired:         in.AccountExpiry == nil || in.AccountExpiry.After(now),
		PasswordNotExpired: !in.PasswordExpired || in.PasswordNeverExpires,
		NotLockedOut:       !in.LockedOut,
		CanBypassLockout:   in.BypassLockout,
	}
}

// CanLogin combines the predicates into the login decision.
func (e Eligibility) CanLogin() bool {
	return e.NotSystem &&
		e.NotDeleted &&
		e.NotDisabled &&
		e.NotExpired &&
		e.PasswordNotExpired &&
		(e.NotLockedOut || e.CanBypassLockout)
}

// Reason names the first predicate that denies the login, or "" if the login
// is allowed.
func (e Eligibility) Reason() string {
	switch {
	case !e.NotSystem:
		return "system account"
	case !e.NotDeleted:
		return "account deleted"
	case !e.NotDisabled:
		return "account disabled"
	case !e.NotExpired:
		return "account expired"
	case !e.PasswordNotExpired:
		return "password expired"
	case !e.NotLockedOut && !e.CanBypassLockout:
		return "account locked"
	default:
		return ""
	}
}
