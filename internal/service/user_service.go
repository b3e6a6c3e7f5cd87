package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/lock"
	"github.com/prn-tf/tradernet-identity/internal/metrics"
	"github.com/prn-tf/tradernet-identity/internal/pkg/crypto"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// Password change kinds reported to metrics.
const (
	changeInitial = "initial"
	changeUser    = "change"
	changeReset   = "reset"
	changeRehash  = "rehash"
)

// UserServiceConfig holds the account policies applied by UserService.
type UserServiceConfig struct {
	// HistorySize is the number of credentials kept per user.
	HistorySize int

	// MinPasswordLength is the minimum accepted password length in characters.
	MinPasswordLength int

	Age     PasswordAgePolicy
	Lockout LockoutPolicy

	// Lock controls acquisition of per-user write locks.
	Lock lock.Options
}

// UserService handles user management and authentication.
// Every mutation runs under the user's write lock: the aggregate is loaded,
// changed and saved while the lock is held. Reads never lock.
type UserService struct {
	users   repository.UserRepository
	roles   repository.RoleRepository
	groups  repository.GroupRepository
	hasher  crypto.Hasher
	history *domain.PasswordHistoryPolicy
	locker  lock.Locker
	metrics *metrics.Metrics
	cfg     UserServiceConfig
	now     func() time.Time
	logger  zerolog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(
	repos *repository.Repositories,
	hasher crypto.Hasher,
	history *domain.PasswordHistoryPolicy,
	locker lock.Locker,
	m *metrics.Metrics,
	cfg UserServiceConfig,
	logger zerolog.Logger,
) *UserService {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	return &UserService{
		users:   repos.User,
		roles:   repos.Role,
		groups:  repos.Group,
		hasher:  hasher,
		history: history,
		locker:  locker,
		metrics: m,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("service", "user").Logger(),
	}
}

// =============================================================================
// Queries
// =============================================================================

// GetByID retrieves a user with password age and lockout state applied.
func (s *UserService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return s.load(ctx, id)
}

// GetByUsername retrieves a user by username, case-insensitively.
func (s *UserService) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, s.mapLoadError(err, username)
	}
	s.annotate(user, s.now())
	return user, nil
}

// List returns a page of users.
func (s *UserService) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	result, err := s.users.List(ctx, opts)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list users")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	now := s.now()
	for _, user := range result.Items {
		s.annotate(user, now)
	}
	return result, nil
}

// EffectiveGroups returns the user's groups expanded through the hierarchy.
func (s *UserService) EffectiveGroups(ctx context.Context, id int64) ([]*domain.Group, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.EffectiveGroups(), nil
}

// =============================================================================
// Creation
// =============================================================================

// CreateUserInput contains the data needed to create a new user.
type CreateUserInput struct {
	Username string `validate:"username"`

	// Password is required unless credentials are managed externally.
	Password string

	Email    string `validate:"omitempty,email,max=255"`
	FullName string `validate:"max=255"`

	Roles  []string `validate:"dive,entityname"`
	Groups []string `validate:"dive,entityname"`

	Properties map[string]string `validate:"dive,keys,entityname,endkeys"`

	AccountExpiry           *time.Time
	PasswordNeverExpires    bool
	ChangePasswordNextLogin bool
	BypassLockout           bool
	ExternalIdentity        bool
}

// Create creates a new user account.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*domain.User, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	external := s.history.ExternalIdentityManagement() || input.ExternalIdentity
	if !external {
		if err := s.checkPassword(input.Password); err != nil {
			return nil, err
		}
	}

	username := strings.TrimSpace(input.Username)

	var user *domain.User
	err := s.withLock(ctx, lock.Keys.Username(username), func(ctx context.Context) error {
		exists, err := s.users.ExistsByUsername(ctx, username)
		if err != nil {
			s.logger.Error().Err(err).Str("username", username).Msg("failed to check username existence")
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		if exists {
			return fmt.Errorf("%w: username '%s'", ErrUserAlreadyExists, username)
		}

		roles, err := s.resolveRoles(ctx, input.Roles)
		if err != nil {
			return err
		}
		groups, err := s.resolveGroups(ctx, input.Groups)
		if err != nil {
			return err
		}

		u := domain.NewUser(username)
		u.Email = input.Email
		u.FullName = input.FullName
		u.AccountExpiry = input.AccountExpiry
		u.PasswordNeverExpires = input.PasswordNeverExpires
		u.ChangePasswordNextLogin = input.ChangePasswordNextLogin
		u.BypassLockout = input.BypassLockout
		u.ExternalIdentity = input.ExternalIdentity
		u.ReplaceRoles(roles)
		u.ReplaceGroups(groups)
		for _, name := range slices.Sorted(maps.Keys(input.Properties)) {
			u.SetProperty(name, input.Properties[name])
		}

		if !external {
			hash, err := s.hasher.Hash(input.Password)
			if err != nil {
				s.logger.Error().Err(err).Msg("failed to hash password")
				return fmt.Errorf("%w: failed to hash password", ErrInternalError)
			}
			if _, err := s.history.SetInitialCredential(u, hash); err != nil {
				return fmt.Errorf("%w: %v", ErrInternalError, err)
			}
		}

		if err := s.users.Create(ctx, u); err != nil {
			return s.mapSaveError(err, username)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !external {
		s.metrics.RecordPasswordChange(changeInitial, 0)
	}
	s.annotate(user, s.now())

	s.logger.Info().
		Int64("user_id", user.ID.Int64()).
		Str("username", user.Username).
		Strs("roles", user.RoleNames()).
		Msg("user created")

	return user, nil
}

// =============================================================================
// Authentication
// =============================================================================

// LoginStatus is the outcome of an authentication attempt.
type LoginStatus string

// Login outcomes.
const (
	LoginSuccess                LoginStatus = "SUCCESS"
	LoginIncorrectCredentials   LoginStatus = "INCORRECT_CREDENTIALS"
	LoginUserNotFound           LoginStatus = "USER_NOT_FOUND"
	LoginInvalidRequest         LoginStatus = "INVALID_REQUEST"
	LoginAccountPasswordExpired LoginStatus = "ACCOUNT_PASSWORD_EXPIRED"
	LoginAccountLocked          LoginStatus = "ACCOUNT_LOCKED"
	LoginAccountDisabled        LoginStatus = "ACCOUNT_DISABLED"
)

// LoginResult is the result of Authenticate.
type LoginResult struct {
	Status LoginStatus `json:"status"`

	// User is set for every outcome where the account was found.
	User *domain.User `json:"-"`

	// Reason names the failing eligibility predicate, if any.
	Reason string `json:"reason,omitempty"`

	// PasswordExpiresInDays warns of an upcoming password expiry on success.
	PasswordExpiresInDays *int `json:"password_expires_in_days,omitempty"`
}

// Authenticate verifies a username and password.
// Failed attempts against an existing account are counted and may lock it;
// a successful login resets the counter and upgrades a credential hashed
// with an outdated scheme. Expected outcomes are reported through
// LoginResult.Status; the error is reserved for infrastructure failures.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*LoginResult, error) {
	result, err := s.authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLogin(string(result.Status))
	return result, nil
}

func (s *UserService) authenticate(ctx context.Context, username, password string) (*LoginResult, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return &LoginResult{Status: LoginInvalidRequest}, nil
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			s.logger.Debug().Str("username", username).Msg("user not found during authentication")
			return &LoginResult{Status: LoginUserNotFound}, nil
		}
		return nil, s.mapLoadError(err, username)
	}

	now := s.now()
	s.annotate(user, now)
	elig := user.Eligibility(now)
	result := &LoginResult{User: user}

	switch {
	case !elig.NotSystem, !elig.NotDeleted, !elig.NotDisabled, !elig.NotExpired:
		result.Status = LoginAccountDisabled
		result.Reason = elig.Reason()
		s.logger.Debug().Str("username", username).Str("reason", result.Reason).Msg("ineligible account attempted authentication")
		return result, nil
	case !elig.NotLockedOut && !elig.CanBypassLockout:
		result.Status = LoginAccountLocked
		result.Reason = elig.Reason()
		return result, nil
	}

	if s.history.ExternalIdentityManagement() || user.ExternalIdentity {
		result.Status = LoginInvalidRequest
		result.Reason = "externally managed identity"
		return result, nil
	}

	latest := s.history.LatestCredential(user)
	if latest == nil || !latest.Matches(password) {
		updated, err := s.recordFailedLogin(ctx, user.ID.Int64())
		if err != nil {
			return nil, err
		}
		result.User = updated
		result.Status = LoginIncorrectCredentials
		return result, nil
	}

	if !elig.PasswordNotExpired || user.ChangePasswordNextLogin {
		result.Status = LoginAccountPasswordExpired
		result.Reason = "password expired"
		return result, nil
	}

	updated, err := s.recordSuccessfulLogin(ctx, user.ID.Int64(), password)
	if err != nil {
		return nil, err
	}
	result.User = updated
	result.Status = LoginSuccess
	result.PasswordExpiresInDays = updated.PasswordExpiresInDays

	s.logger.Info().
		Int64("user_id", updated.ID.Int64()).
		Str("username", updated.Username).
		Msg("user authenticated")

	return result, nil
}

func (s *UserService) recordFailedLogin(ctx context.Context, id int64) (*domain.User, error) {
	var lockedNow bool
	user, err := s.mutate(ctx, id, func(u *domain.User) error {
		wasLocked := u.LockedOut
		u.IncrementLoginAttempts()
		s.cfg.Lockout.Apply(u)
		lockedNow = !wasLocked && u.LockedOut
		return nil
	})
	if err != nil {
		return nil, err
	}

	if lockedNow {
		s.metrics.RecordLockout()
		s.logger.Warn().
			Int64("user_id", id).
			Int("attempts", user.IncorrectLoginAttempts).
			Msg("account locked after failed logins")
	}
	return user, nil
}

func (s *UserService) recordSuccessfulLogin(ctx context.Context, id int64, password string) (*domain.User, error) {
	var rehashed bool
	user, err := s.mutate(ctx, id, func(u *domain.User) error {
		u.RegisterSuccessfulLogin()

		current := s.history.LatestCredential(u)
		if current == nil || !s.hasher.NeedsRehash(current.Hash()) || !current.Matches(password) {
			return nil
		}
		hash, err := s.hasher.Hash(password)
		if err != nil {
			s.logger.Warn().Err(err).Int64("user_id", id).Msg("failed to upgrade password hash")
			return nil
		}
		if _, err := s.history.RotateCredential(u, hash); err != nil {
			return fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		rehashed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rehashed {
		s.metrics.RecordRehash()
		s.metrics.RecordPasswordChange(changeRehash, 0)
		s.logger.Info().Int64("user_id", id).Msg("password hash upgraded")
	}
	return user, nil
}

// =============================================================================
// Password management
// =============================================================================

// ChangePasswordInput contains the data needed to change a password.
type ChangePasswordInput struct {
	UserID      int64  `validate:"required"`
	OldPassword string `validate:"required"`
	NewPassword string `validate:"required"`
}

// ChangePassword verifies the current password and records a new one.
// A password still in the user's history is rejected with ErrPasswordReused.
func (s *UserService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	if err := validateInput(input); err != nil {
		return err
	}
	if err := s.checkPassword(input.NewPassword); err != nil {
		return err
	}

	var evicted int
	_, err := s.mutate(ctx, input.UserID, func(u *domain.User) error {
		if s.history.ExternalIdentityManagement() || u.ExternalIdentity {
			return ErrExternalIdentity
		}
		latest := s.history.LatestCredential(u)
		if latest == nil || !latest.Matches(input.OldPassword) {
			return ErrInvalidCredentials
		}
		n, err := s.recordNewPassword(u, input.NewPassword)
		if err != nil {
			return err
		}
		evicted = n
		u.ChangePasswordNextLogin = false
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordPasswordChange(changeUser, evicted)
	s.logger.Info().Int64("user_id", input.UserID).Int("evicted", evicted).Msg("password changed")
	return nil
}

// ResetPassword sets a new password without verifying the old one, for the
// forgotten-password flow. An empty newPassword generates a random one. The
// user must change the password at next login. The password that was set is
// returned.
func (s *UserService) ResetPassword(ctx context.Context, username, newPassword string) (string, error) {
	if newPassword == "" {
		generated, err := crypto.GeneratePassword()
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		newPassword = generated
	}
	if err := s.checkPassword(newPassword); err != nil {
		return "", err
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", s.mapLoadError(err, username)
	}

	var evicted int
	_, err = s.mutate(ctx, user.ID.Int64(), func(u *domain.User) error {
		if s.history.ExternalIdentityManagement() || u.ExternalIdentity {
			return ErrExternalIdentity
		}
		n, err := s.recordNewPassword(u, newPassword)
		if err != nil {
			return err
		}
		evicted = n
		u.ChangePasswordNextLogin = true
		u.ResetIncorrectLoginAttempts()
		return nil
	})
	if err != nil {
		return "", err
	}

	s.metrics.RecordPasswordChange(changeReset, evicted)
	s.logger.Info().Int64("user_id", user.ID.Int64()).Msg("password reset")
	return newPassword, nil
}

// recordNewPassword appends password to u's history and applies retention.
// It returns the number of evicted credentials.
func (s *UserService) recordNewPassword(u *domain.User, password string) (int, error) {
	if s.history.IsReused(u, password) {
		return 0, ErrPasswordReused
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to hash password")
		return 0, fmt.Errorf("%w: failed to hash password", ErrInternalError)
	}
	if s.history.LatestCredential(u) == nil {
		if _, err := s.history.SetInitialCredential(u, hash); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		return 0, nil
	}
	s.history.AppendCredential(u, hash)
	return len(s.history.EnforceRetention(u, s.cfg.HistorySize)), nil
}

func (s *UserService) checkPassword(password string) error {
	minLength := max(s.cfg.MinPasswordLength, 1)
	if utf8.RuneCountInString(password) < minLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidPassword, minLength)
	}
	return nil
}

// =============================================================================
// Account state
// =============================================================================

// SetStatus changes the status of a user.
func (s *UserService) SetStatus(ctx context.Context, id int64, status domain.UserStatus) (*domain.User, error) {
	user, err := s.mutate(ctx, id, func(u *domain.User) error {
		u.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", id).Stringer("status", status).Msg("user status changed")
	return user, nil
}

// Unlock clears the failed-login counter of a user.
func (s *UserService) Unlock(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.mutate(ctx, id, func(u *domain.User) error {
		u.ResetIncorrectLoginAttempts()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("user_id", id).Msg("user unlocked")
	return user, nil
}

// Delete soft-deletes a user: the status becomes DELETED and every role and
// group membership is removed. Credentials and properties are kept.
func (s *UserService) Delete(ctx context.Context, id int64) error {
	_, err := s.mutate(ctx, id, func(u *domain.User) error {
		u.Status = domain.UserStatusDeleted
		u.ClearRoles()
		u.ClearGroups()
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Int64("user_id", id).Msg("user deleted")
	return nil
}

// =============================================================================
// Relationships
// =============================================================================

// SetRoles replaces the user's roles with the named roles.
func (s *UserService) SetRoles(ctx context.Context, id int64, names []string) (*domain.User, error) {
	var added, removed int
	user, err := s.mutate(ctx, id, func(u *domain.User) error {
		roles, err := s.resolveRoles(ctx, names)
		if err != nil {
			return err
		}
		added, removed = u.ReplaceRoles(roles)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("user_id", id).
		Int("added", added).
		Int("removed", removed).
		Msg("user roles replaced")
	return user, nil
}

// AddToGroup adds the user to the named group.
func (s *UserService) AddToGroup(ctx context.Context, id int64, groupName string) (*domain.User, error) {
	return s.mutate(ctx, id, func(u *domain.User) error {
		groups, err := s.resolveGroups(ctx, []string{groupName})
		if err != nil {
			return err
		}
		u.AddGroup(groups[0])
		return nil
	})
}

// RemoveFromGroup removes the user from the named group. Removing a group
// the user is not a direct member of is a no-op.
func (s *UserService) RemoveFromGroup(ctx context.Context, id int64, groupName string) (*domain.User, error) {
	return s.mutate(ctx, id, func(u *domain.User) error {
		for _, g := range u.Groups() {
			if g.Name == groupName {
				u.RemoveGroup(g)
			}
		}
		return nil
	})
}

// SetProperty creates or overwrites a user property.
func (s *UserService) SetProperty(ctx context.Context, id int64, name, value string) (*domain.User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: property name is required", ErrInvalidInput)
	}
	return s.mutate(ctx, id, func(u *domain.User) error {
		u.SetProperty(name, value)
		return nil
	})
}

// UpdateProperty overwrites an existing user property.
// It returns ErrPropertyNotFound if the user has no such property.
func (s *UserService) UpdateProperty(ctx context.Context, id int64, name, value string) (*domain.User, error) {
	return s.mutate(ctx, id, func(u *domain.User) error {
		if err := u.UpdateProperty(name, value); err != nil {
			return fmt.Errorf("%w: %w", ErrPropertyNotFound, err)
		}
		return nil
	})
}

// =============================================================================
// Helpers
// =============================================================================

// annotate applies the password age and lockout policies to user at now.
func (s *UserService) annotate(user *domain.User, now time.Time) {
	s.cfg.Age.Apply(user, s.history.LatestCredential(user), now)
	s.cfg.Lockout.Apply(user)
}

func (s *UserService) load(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapLoadError(err, strconv.FormatInt(id, 10))
	}
	s.annotate(user, s.now())
	return user, nil
}

// mutate loads user id under its write lock, applies fn and saves the result.
// Nothing is saved if fn fails.
func (s *UserService) mutate(ctx context.Context, id int64, fn func(u *domain.User) error) (*domain.User, error) {
	var user *domain.User
	err := s.withLock(ctx, lock.Keys.User(id), func(ctx context.Context) error {
		u, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		if err := s.users.Update(ctx, u); err != nil {
			return s.mapSaveError(err, u.Username)
		}
		s.annotate(u, s.now())
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// withLock runs fn under key. Lock failures are reported as ErrBusy or
// ErrInternalError; errors from fn are returned unchanged.
func (s *UserService) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return runLocked(ctx, s.locker, key, s.cfg.Lock, s.metrics, s.logger, fn)
}

func (s *UserService) resolveRoles(ctx context.Context, names []string) ([]*domain.Role, error) {
	roles := make([]*domain.Role, 0, len(names))
	for _, name := range names {
		role, err := s.roles.GetByName(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrRoleNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
			}
			s.logger.Error().Err(err).Str("role", name).Msg("failed to get role")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *UserService) resolveGroups(ctx context.Context, names []string) ([]*domain.Group, error) {
	groups := make([]*domain.Group, 0, len(names))
	for _, name := range names {
		group, err := s.groups.GetByName(ctx, name)
		if err != nil {
			if errors.Is(err, domain.ErrGroupNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
			}
			s.logger.Error().Err(err).Str("group", name).Msg("failed to get group")
			return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (s *UserService) mapLoadError(err error, resource string) error {
	if errors.Is(err, domain.ErrUserNotFound) {
		return fmt.Errorf("%w: %s", ErrUserNotFound, resource)
	}
	s.logger.Error().Err(err).Str("user", resource).Msg("failed to load user")
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}

func (s *UserService) mapSaveError(err error, username string) error {
	switch {
	case errors.Is(err, domain.ErrUserAlreadyExists):
		return fmt.Errorf("%w: username '%s'", ErrUserAlreadyExists, username)
	case errors.Is(err, domain.ErrUserNotFound):
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	case errors.Is(err, domain.ErrRoleNotFound):
		return fmt.Errorf("%w: %v", ErrRoleNotFound, err)
	case errors.Is(err, domain.ErrGroupNotFound):
		return fmt.Errorf("%w: %v", ErrGroupNotFound, err)
	}
	s.logger.Error().Err(err).Str("username", username).Msg("failed to save user")
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}
