package domain

import (
	"fmt"
	"time"
)

// PasswordHistoryConfig configures a PasswordHistoryPolicy.
type PasswordHistoryConfig struct {
	// ExternalIdentityManagement disables credential history for every user.
	// Identities are then authenticated by an external provider.
	ExternalIdentityManagement bool

	// Clock returns the current time. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// PasswordHistoryPolicy manages a user's password history: setting the first
// credential, rotating the current one, adding further credentials and
// evicting the oldest records beyond a retention bound.
type PasswordHistoryPolicy struct {
	external bool
	clock    func() time.Time
}

// NewPasswordHistoryPolicy creates a new PasswordHistoryPolicy.
func NewPasswordHistoryPolicy(cfg PasswordHistoryConfig) *PasswordHistoryPolicy {
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &PasswordHistoryPolicy{
		external: cfg.ExternalIdentityManagement,
		clock:    clock,
	}
}

// ExternalIdentityManagement reports whether the policy was built for
// externally managed identities.
func (p *PasswordHistoryPolicy) ExternalIdentityManagement() bool {
	return p.external
}

// SetInitialCredential records the first credential of user.
// It fails with ErrInvalidState if the user already has a current credential.
func (p *PasswordHistoryPolicy) SetInitialCredential(user *User, hash CredentialHash) (*PasswordRecord, error) {
	if user.currentCredential() != nil {
		return nil, NewDomainError(ErrInvalidState, "user already has a password", user.Username)
	}
	return p.AppendCredential(user, hash), nil
}

// AppendCredential adds hash to the user's history as the new current
// credential. Previous credentials stay in history until evicted by
// EnforceRetention.
func (p *PasswordHistoryPolicy) AppendCredential(user *User, hash CredentialHash) *PasswordRecord {
	rec := &PasswordRecord{
		hash:        hash,
		lastChanged: p.clock(),
	}
	user.addCredential(rec)
	return rec
}

// RotateCredential replaces the current credential with hash: a new record is
// added and the previous one is removed from history.
// It fails with ErrInvalidState if the user has no current credential.
func (p *PasswordHistoryPolicy) RotateCredential(user *User, hash CredentialHash) (*PasswordRecord, error) {
	previous := user.currentCredential()
	if previous == nil {
		return nil, NewDomainError(ErrInvalidState, "user has no password to rotate", user.Username)
	}

	rec := &PasswordRecord{
		user:        previous.user,
		hash:        hash,
		lastChanged: p.clock(),
	}
	// A clock that stands still must not leave the new record older than
	// the one it replaces.
	if rec.lastChanged.Before(previous.lastChanged) {
		rec.lastChanged = previous.lastChanged
	}
	user.addCredential(rec)
	user.RemoveCredential(previous)
	return rec, nil
}

// EnforceRetention evicts the oldest credentials until at most maxHistory
// remain. A bound of zero or less evicts every credential. Records with equal
// timestamps are evicted in insertion order. The evicted records are returned
// with their owner cleared.
func (p *PasswordHistoryPolicy) EnforceRetention(user *User, maxHistory int) []*PasswordRecord {
	if maxHistory < 0 {
		maxHistory = 0
	}

	var evicted []*PasswordRecord
	for len(user.credentials) > maxHistory {
		oldest := user.oldestCredential()
		user.RemoveCredential(oldest)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// LatestCredential returns the most recently changed credential of user, or
// nil if the history is empty. It always returns nil for externally managed
// identities. The result is computed on every call.
func (p *PasswordHistoryPolicy) LatestCredential(user *User) *PasswordRecord {
	if p.external || user.ExternalIdentity {
		return nil
	}
	return user.currentCredential()
}

// IsReused reports whether candidate matches any credential still in the
// user's history.
func (p *PasswordHistoryPolicy) IsReused(user *User, candidate string) bool {
	if p.external || user.ExternalIdentity {
		return false
	}
	return user.HasCredential(candidate)
}

// String implements fmt.Stringer.
func (p *PasswordHistoryPolicy) String() string {
	return fmt.Sprintf("PasswordHistoryPolicy{external=%t}", p.external)
}
