// Package domain contains the core business entities for the Tradernet identity core.
// These are pure Go structs with no external dependencies, representing the
// user aggregate and the reference data it links to.
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// UserStatus represents the lifecycle status of a user account.
// The numeric values are the persisted codes.
type UserStatus int

const (
	// UserStatusStandard is a regular interactive account.
	UserStatusStandard UserStatus = 0

	// UserStatusSystem is the service account. It may never log in interactively.
	UserStatusSystem UserStatus = 1

	// UserStatusDeleted is a soft-deleted account.
	UserStatusDeleted UserStatus = 2

	// UserStatusDisabled is an account disabled by an administrator.
	UserStatusDisabled UserStatus = 3
)

// String returns the status name.
func (s UserStatus) String() string {
	switch s {
	case UserStatusSystem:
		return "SYSTEM"
	case UserStatusDeleted:
		return "DELETED"
	case UserStatusDisabled:
		return "DISABLED"
	default:
		return "STANDARD"
	}
}

// UserStatusFromCode maps a persisted status code to a UserStatus.
// Unknown codes map to UserStatusStandard.
func UserStatusFromCode(code int) UserStatus {
	switch s := UserStatus(code); s {
	case UserStatusStandard, UserStatusSystem, UserStatusDeleted, UserStatusDisabled:
		return s
	default:
		return UserStatusStandard
	}
}

// ParseUserStatus parses a status name (case-insensitive).
func ParseUserStatus(name string) (UserStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "STANDARD":
		return UserStatusStandard, nil
	case "SYSTEM":
		return UserStatusSystem, nil
	case "DELETED":
		return UserStatusDeleted, nil
	case "DISABLED":
		return UserStatusDisabled, nil
	default:
		return UserStatusStandard, NewDomainError(ErrInvalidUserStatus, "unknown status", name)
	}
}

// NormalizeUsername returns the lookup form of a username.
// Usernames are unique case-insensitively.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// User is the identity aggregate root. It owns its password history and
// property values, and holds references to roles and groups whose reciprocal
// collections it keeps in sync. Relationship collections are only reachable
// through the mutators below; the accessors return copies.
//
// A User is not safe for concurrent mutation. Callers must serialize mutators
// per aggregate graph; concurrent reads are fine.
type User struct {
	// ID is assigned once by storage. See Identity.
	ID Identity `json:"id"`

	// Username is the unique login name. Lookups are case-insensitive.
	Username string `json:"username"`

	// Status is the account lifecycle status.
	Status UserStatus `json:"status"`

	// AccountExpiry is the optional instant from which the account is expired.
	AccountExpiry *time.Time `json:"account_expiry,omitempty"`

	// Email is the optional contact address.
	Email string `json:"email,omitempty"`

	// PasswordNeverExpires exempts the user from password ageing.
	PasswordNeverExpires bool `json:"password_never_expires"`

	// LastLogin is the instant of the last successful login.
	LastLogin *time.Time `json:"last_login,omitempty"`

	// IncorrectLoginAttempts counts consecutive failed logins.
	IncorrectLoginAttempts int `json:"incorrect_login_attempts"`

	// BypassLockout lets the user log in while locked out.
	BypassLockout bool `json:"bypass_lockout"`

	// ChangePasswordNextLogin forces a password change on next login.
	ChangePasswordNextLogin bool `json:"change_password_next_login"`

	// FullName is the display name.
	FullName string `json:"full_name,omitempty"`

	// BypassDocumentSecurity exempts the user from document-level security.
	BypassDocumentSecurity bool `json:"bypass_document_security"`

	// ExternalIdentity marks an identity managed by an external provider.
	ExternalIdentity bool `json:"external_identity"`

	// CreatedAt is the timestamp when the user was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the timestamp when the user was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	// Transient state computed by external policies; never persisted.

	// PasswordExpired is set by the password age policy.
	PasswordExpired bool `json:"-"`

	// PasswordExpiresInDays is the optional expiry hint from the password age policy.
	PasswordExpiresInDays *int `json:"-"`

	// LockedOut is set by the lockout policy.
	LockedOut bool `json:"-"`

	roles       []*Role
	groups      []*Group
	credentials []*PasswordRecord
	properties  []*Property
	credSeq     uint64
}

// NewUser creates a new, unsaved User with STANDARD status.
func NewUser(username string) *User {
	now := time.Now().UTC()
	return &User{
		Username:  username,
		Status:    UserStatusStandard,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AssignID sets the user identifier. Once assigned, the identifier is
// immutable and equality switches to identifier comparison.
func (u *User) AssignID(id int64) error {
	return u.ID.assign(id, "user:"+u.Username)
}

// =============================================================================
// Identity
// =============================================================================

type userKey struct{ id int64 }

type userValueKey struct {
	username                string
	status                  UserStatus
	hasAccountExpiry        bool
	accountExpiry           int64
	email                   string
	passwordNeverExpires    bool
	hasLastLogin            bool
	lastLogin               int64
	incorrectLoginAttempts  int
	bypassLockout           bool
	changePasswordNextLogin bool
	externalIdentity        bool
}

// Key returns the identity key of the user. Saved users are keyed solely on
// their identifier, so mutating any other field does not change the key.
// Unsaved users are keyed on their persistent field values.
func (u *User) Key() any {
	if id, ok := u.ID.Value(); ok {
		return userKey{id: id}
	}
	k := userValueKey{
		username:                u.Username,
		status:                  u.Status,
		email:                   u.Email,
		passwordNeverExpires:    u.PasswordNeverExpires,
		incorrectLoginAttempts:  u.IncorrectLoginAttempts,
		bypassLockout:           u.BypassLockout,
		changePasswordNextLogin: u.ChangePasswordNextLogin,
		externalIdentity:        u.ExternalIdentity,
	}
	if u.AccountExpiry != nil {
		k.hasAccountExpiry = true
		k.accountExpiry = u.AccountExpiry.UnixNano()
	}
	if u.LastLogin != nil {
		k.hasLastLogin = true
		k.lastLogin = u.LastLogin.UnixNano()
	}
	return k
}

// Equal reports whether u and other denote the same user.
func (u *User) Equal(other *User) bool {
	if u == other {
		return true
	}
	if u == nil || other == nil {
		return false
	}
	return u.Key() == other.Key()
}

// =============================================================================
// Roles
// =============================================================================

// Roles returns the roles held by the user.
func (u *User) Roles() []*Role {
	return slices.Clone(u.roles)
}

// RoleNames returns the names of the roles held by the user.
func (u *User) RoleNames() []string {
	names := make([]string, 0, len(u.roles))
	for _, r := range u.roles {
		names = append(names, r.Name)
	}
	return names
}

// HasRole reports whether the user holds a role with the given name.
func (u *User) HasRole(name string) bool {
	for _, r := range u.roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// AddRole grants role to the user, updating both sides of the relationship.
// Granting a held role is a no-op.
func (u *User) AddRole(role *Role) {
	if role == nil {
		return
	}
	if i := indexOf(u.roles, role); i >= 0 {
		u.roles[i].addUserReference(u)
		return
	}
	u.roles = append(u.roles, role)
	role.addUserReference(u)
}

// RemoveRole revokes role from the user, updating both sides of the
// relationship. Revoking a role that is not held is a no-op.
func (u *User) RemoveRole(role *Role) {
	if role == nil {
		return
	}
	if i := indexOf(u.roles, role); i >= 0 {
		held := u.roles[i]
		u.roles = slices.Delete(u.roles, i, i+1)
		held.removeUserReference(u)
	}
	role.removeUserReference(u)
}

// ReplaceRoles makes roles the exact set of roles held by the user. Only the
// difference is applied: unchanged roles see no add or remove.
func (u *User) ReplaceRoles(roles []*Role) (added, removed int) {
	return SyncMembership(u.roles, roles, (*Role).Key, u.AddRole, u.RemoveRole)
}

// ClearRoles revokes every role.
func (u *User) ClearRoles() {
	u.ReplaceRoles(nil)
}

// =============================================================================
// Groups
// =============================================================================

// Groups returns the groups the user belongs to directly.
func (u *User) Groups() []*Group {
	return slices.Clone(u.groups)
}

// AddGroup adds the user to group, updating both sides of the relationship.
func (u *User) AddGroup(group *Group) {
	if group == nil {
		return
	}
	if i := indexOf(u.groups, group); i >= 0 {
		u.groups[i].addMemberReference(u)
		return
	}
	u.groups = append(u.groups, group)
	group.addMemberReference(u)
}

// RemoveGroup removes the user from group, updating both sides of the relationship.
func (u *User) RemoveGroup(group *Group) {
	if group == nil {
		return
	}
	if i := indexOf(u.groups, group); i >= 0 {
		held := u.groups[i]
		u.groups = slices.Delete(u.groups, i, i+1)
		held.removeMemberReference(u)
	}
	group.removeMemberReference(u)
}

// ReplaceGroups makes groups the exact set of direct group memberships.
func (u *User) ReplaceGroups(groups []*Group) (added, removed int) {
	return SyncMembership(u.groups, groups, (*Group).Key, u.AddGroup, u.RemoveGroup)
}

// ClearGroups removes the user from every group.
func (u *User) ClearGroups() {
	u.ReplaceGroups(nil)
}

// EffectiveGroups returns the direct groups together with every ancestor
// group reachable through parent links. Empty if the user has no groups.
func (u *User) EffectiveGroups() []*Group {
	return ResolveEffectiveGroups(u.groups)
}

// InGroup reports whether the user is an effective member of group.
func (u *User) InGroup(group *Group) bool {
	return group != nil && indexOf(u.EffectiveGroups(), group) >= 0
}

// =============================================================================
// Credentials
// =============================================================================

// Credentials returns the user's password history in insertion order.
func (u *User) Credentials() []*PasswordRecord {
	return slices.Clone(u.credentials)
}

// HasCredential reports whether candidate matches any credential in the
// user's password history, current or historic.
func (u *User) HasCredential(candidate string) bool {
	for _, rec := range u.credentials {
		if rec.Matches(candidate) {
			return true
		}
	}
	return false
}

// RestoreCredential attaches a stored credential while hydrating the
// aggregate from storage. It bypasses password history rules.
func (u *User) RestoreCredential(id int64, hash CredentialHash, lastChanged time.Time) *PasswordRecord {
	rec := &PasswordRecord{
		ID:          AssignedIdentity(id),
		hash:        hash,
		lastChanged: lastChanged,
	}
	u.addCredential(rec)
	return rec
}

// RemoveCredential removes rec from the history and clears its owner.
// Removing a record the user does not own is a no-op.
func (u *User) RemoveCredential(rec *PasswordRecord) {
	if rec == nil {
		return
	}
	i := slices.Index(u.credentials, rec)
	if i < 0 {
		return
	}
	u.credentials = slices.Delete(u.credentials, i, i+1)
	rec.user = nil
}

// ClearCredentials removes every credential from the history.
func (u *User) ClearCredentials() {
	for _, rec := range slices.Clone(u.credentials) {
		u.RemoveCredential(rec)
	}
}

func (u *User) addCredential(rec *PasswordRecord) {
	u.credSeq++
	rec.seq = u.credSeq
	rec.user = u
	u.credentials = append(u.credentials, rec)
}

// currentCredential returns the most recently changed credential, or nil.
func (u *User) currentCredential() *PasswordRecord {
	var latest *PasswordRecord
	for _, rec := range u.credentials {
		if latest == nil || rec.newerThan(latest) {
			latest = rec
		}
	}
	return latest
}

// oldestCredential returns the least recently changed credential, or nil.
func (u *User) oldestCredential() *PasswordRecord {
	var oldest *PasswordRecord
	for _, rec := range u.credentials {
		if oldest == nil || oldest.newerThan(rec) {
			oldest = rec
		}
	}
	return oldest
}

// =============================================================================
// Properties
// =============================================================================

// Properties returns copies of the user's property values.
func (u *User) Properties() []PropertyValue {
	values := make([]PropertyValue, 0, len(u.properties))
	for _, p := range u.properties {
		values = append(values, PropertyValue{Name: p.name, Value: p.value})
	}
	return values
}

// Property returns the value of the named property.
func (u *User) Property(name string) (string, bool) {
	if p := u.findProperty(name); p != nil {
		return p.value, true
	}
	return "", false
}

// SetProperty sets the named property, creating it if absent.
func (u *User) SetProperty(name, value string) {
	if p := u.findProperty(name); p != nil {
		p.value = value
		return
	}
	u.properties = append(u.properties, &Property{user: u, name: strings.TrimSpace(name), value: value})
}

// UpdateProperty changes the value of an existing property.
// It fails with ErrInvalidState if the user has no such property.
func (u *User) UpdateProperty(name, value string) error {
	p := u.findProperty(name)
	if p == nil {
		return NewDomainError(ErrInvalidState, fmt.Sprintf("user %s has no property", u.Username), name)
	}
	p.value = value
	return nil
}

// RemoveProperty deletes the named property. It reports whether it existed.
func (u *User) RemoveProperty(name string) bool {
	key := PropertyKey(name)
	for i, p := range u.properties {
		if PropertyKey(p.name) == key {
			u.properties = slices.Delete(u.properties, i, i+1)
			p.user = nil
			return true
		}
	}
	return false
}

// ClearProperties deletes every property.
func (u *User) ClearProperties() {
	for _, p := range u.properties {
		p.user = nil
	}
	u.properties = nil
}

func (u *User) findProperty(name string) *Property {
	key := PropertyKey(name)
	for _, p := range u.properties {
		if PropertyKey(p.name) == key {
			return p
		}
	}
	return nil
}

// =============================================================================
// Status and login
// =============================================================================

// IsSystem reports whether the user is the system account.
func (u *User) IsSystem() bool {
	return u.Status == UserStatusSystem
}

// IsDeleted reports whether the user is soft-deleted.
func (u *User) IsDeleted() bool {
	return u.Status == UserStatusDeleted
}

// IsDisabled reports whether the user is disabled.
func (u *User) IsDisabled() bool {
	return u.Status == UserStatusDisabled
}

// IsAccountExpired reports whether the account has expired at now.
// The expiry instant itself counts as expired.
func (u *User) IsAccountExpired(now time.Time) bool {
	return u.AccountExpiry != nil && !u.AccountExpiry.After(now)
}

// EligibilityInput captures the attributes the eligibility evaluator reads.
func (u *User) EligibilityInput() EligibilityInput {
	return EligibilityInput{
		Status:               u.Status,
		AccountExpiry:        u.AccountExpiry,
		PasswordExpired:      u.PasswordExpired,
		PasswordNeverExpires: u.PasswordNeverExpires,
		LockedOut:            u.LockedOut,
		BypassLockout:        u.BypassLockout,
	}
}

// Eligibility evaluates every login predicate at now.
func (u *User) Eligibility(now time.Time) Eligibility {
	return EvaluateEligibility(u.EligibilityInput(), now)
}

// CanAuthenticate reports whether the user may log in right now.
// It has no side effects.
func (u *User) CanAuthenticate() bool {
	return u.CanAuthenticateAt(time.Now().UTC())
}

// CanAuthenticateAt reports whether the user may log in at now.
func (u *User) CanAuthenticateAt(now time.Time) bool {
	return u.Eligibility(now).CanLogin()
}

// RegisterSuccessfulLogin resets the failed-login counter and records the
// login time.
func (u *User) RegisterSuccessfulLogin() {
	now := time.Now().UTC()
	u.IncorrectLoginAttempts = 0
	u.LastLogin = &now
}

// IncrementLoginAttempts records a failed login.
func (u *User) IncrementLoginAttempts() {
	u.IncorrectLoginAttempts++
}

// ResetIncorrectLoginAttempts clears the failed-login counter.
func (u *User) ResetIncorrectLoginAttempts() {
	u.IncorrectLoginAttempts = 0
}

// String implements fmt.Stringer.
func (u *User) String() string {
	return fmt.Sprintf("User{id=%s, username=%q, status=%s}", u.ID, u.Username, u.Status)
}
