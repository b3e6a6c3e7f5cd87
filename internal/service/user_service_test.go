package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/lock"
	"github.com/prn-tf/tradernet-identity/internal/metrics"
	"github.com/prn-tf/tradernet-identity/internal/pkg/crypto"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type userServiceFixture struct {
	svc     *UserService
	users   *mockUserRepository
	roles   *mockRoleRepository
	groups  *mockGroupRepository
	hasher  crypto.Hasher
	metrics *metrics.Metrics
}

func newTestUserService(t *testing.T) *userServiceFixture {
	t.Helper()

	users := new(mockUserRepository)
	roles := new(mockRoleRepository)
	groups := new(mockGroupRepository)
	hasher := crypto.NewPBKDF2Hasher(1000)
	m := metrics.New("test")
	locker := lock.NewMemoryLocker()
	t.Cleanup(locker.Close)

	history := domain.NewPasswordHistoryPolicy(domain.PasswordHistoryConfig{
		Clock: func() time.Time { return testNow },
	})

	svc := NewUserService(
		&repository.Repositories{User: users, Role: roles, Group: groups},
		hasher,
		history,
		locker,
		m,
		UserServiceConfig{
			HistorySize:       3,
			MinPasswordLength: 8,
			Age:               PasswordAgePolicy{MaxAge: 90 * 24 * time.Hour, WarningPeriod: 14 * 24 * time.Hour},
			Lockout:           LockoutPolicy{MaxAttempts: 3},
			Lock:              lock.Options{MaxRetries: 0},
		},
		zerolog.Nop(),
	)
	svc.now = func() time.Time { return testNow }

	return &userServiceFixture{svc: svc, users: users, roles: roles, groups: groups, hasher: hasher, metrics: m}
}

// storedUser builds a saved user whose current password is password,
// last changed age ago.
func (f *userServiceFixture) storedUser(t *testing.T, password string, age time.Duration) *domain.User {
	t.Helper()
	user := domain.NewUser("alice")
	require.NoError(t, user.AssignID(1))
	hash, err := f.hasher.Hash(password)
	require.NoError(t, err)
	user.RestoreCredential(10, hash, testNow.Add(-age))
	return user
}

func (f *userServiceFixture) expectLoad(user *domain.User) {
	f.users.On("GetByUsername", mock.Anything, user.Username).Return(user, nil).Maybe()
	f.users.On("GetByID", mock.Anything, user.ID.Int64()).Return(user, nil).Maybe()
}

func TestUserService_Create(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateUserInput
		setup   func(f *userServiceFixture)
		wantErr error
	}{
		{
			name: "success",
			input: CreateUserInput{
				Username:   "alice",
				Password:   "correct horse",
				Email:      "alice@example.com",
				Roles:      []string{"trader"},
				Groups:     []string{"desk"},
				Properties: map[string]string{"region": "EU"},
			},
			setup: func(f *userServiceFixture) {
				role := domain.NewRole("trader")
				_ = role.AssignID(5)
				group := domain.NewGroup("desk")
				_ = group.AssignID(6)

				f.users.On("ExistsByUsername", mock.Anything, "alice").Return(false, nil)
				f.roles.On("GetByName", mock.Anything, "trader").Return(role, nil)
				f.groups.On("GetByName", mock.Anything, "desk").Return(group, nil)
				f.users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Run(assignOnCreate(1)).Return(nil)
			},
		},
		{
			name:    "username too short",
			input:   CreateUserInput{Username: "al", Password: "correct horse"},
			setup:   func(f *userServiceFixture) {},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "bad email",
			input:   CreateUserInput{Username: "alice", Password: "correct horse", Email: "nope"},
			setup:   func(f *userServiceFixture) {},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "short password",
			input:   CreateUserInput{Username: "alice", Password: "short"},
			setup:   func(f *userServiceFixture) {},
			wantErr: ErrInvalidPassword,
		},
		{
			name:  "username taken",
			input: CreateUserInput{Username: "alice", Password: "correct horse"},
			setup: func(f *userServiceFixture) {
				f.users.On("ExistsByUsername", mock.Anything, "alice").Return(true, nil)
			},
			wantErr: ErrUserAlreadyExists,
		},
		{
			name:  "unknown role",
			input: CreateUserInput{Username: "alice", Password: "correct horse", Roles: []string{"ghost"}},
			setup: func(f *userServiceFixture) {
				f.users.On("ExistsByUsername", mock.Anything, "alice").Return(false, nil)
				f.roles.On("GetByName", mock.Anything, "ghost").Return(nil, domain.ErrRoleNotFound)
			},
			wantErr: ErrRoleNotFound,
		},
		{
			name:  "external identity needs no password",
			input: CreateUserInput{Username: "sso-user", ExternalIdentity: true},
			setup: func(f *userServiceFixture) {
				f.users.On("ExistsByUsername", mock.Anything, "sso-user").Return(false, nil)
				f.users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Run(assignOnCreate(2)).Return(nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestUserService(t)
			tt.setup(f)

			user, err := f.svc.Create(context.Background(), tt.input)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			} else {
				require.NoError(t, err)
				require.True(t, user.ID.IsAssigned())
				require.Equal(t, tt.input.Username, user.Username)
				require.Len(t, user.RoleNames(), len(tt.input.Roles))
				require.Len(t, user.Groups(), len(tt.input.Groups))
				if tt.input.ExternalIdentity {
					require.Empty(t, user.Credentials())
				} else {
					require.Len(t, user.Credentials(), 1)
					require.True(t, user.HasCredential(tt.input.Password))
				}
			}

			mock.AssertExpectationsForObjects(t, f.users, f.roles, f.groups)
		})
	}
}

func TestUserService_Authenticate(t *testing.T) {
	const password = "correct horse"

	tests := []struct {
		name       string
		username   string
		password   string
		prepare    func(t *testing.T, f *userServiceFixture) *domain.User
		wantStatus LoginStatus
		wantSaved  bool
		check      func(t *testing.T, f *userServiceFixture, user *domain.User)
	}{
		{
			name:     "success resets failures",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := f.storedUser(t, password, 24*time.Hour)
				user.IncorrectLoginAttempts = 2
				return user
			},
			wantStatus: LoginSuccess,
			wantSaved:  true,
			check: func(t *testing.T, f *userServiceFixture, user *domain.User) {
				require.Zero(t, user.IncorrectLoginAttempts)
				require.NotNil(t, user.LastLogin)
				require.Zero(t, testutil.ToFloat64(f.metrics.Rehashes))
			},
		},
		{
			name:     "wrong password counts failure",
			username: "alice",
			password: "wrong password",
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				return f.storedUser(t, password, 24*time.Hour)
			},
			wantStatus: LoginIncorrectCredentials,
			wantSaved:  true,
			check: func(t *testing.T, f *userServiceFixture, user *domain.User) {
				require.Equal(t, 1, user.IncorrectLoginAttempts)
				require.False(t, user.LockedOut)
			},
		},
		{
			name:     "third failure locks account",
			username: "alice",
			password: "wrong password",
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := f.storedUser(t, password, 24*time.Hour)
				user.IncorrectLoginAttempts = 2
				return user
			},
			wantStatus: LoginIncorrectCredentials,
			wantSaved:  true,
			check: func(t *testing.T, f *userServiceFixture, user *domain.User) {
				require.True(t, user.LockedOut)
				require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Lockouts))
			},
		},
		{
			name:     "locked account",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := f.storedUser(t, password, 24*time.Hour)
				user.IncorrectLoginAttempts = 3
				return user
			},
			wantStatus: LoginAccountLocked,
		},
		{
			name:     "locked account with bypass",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := f.storedUser(t, password, 24*time.Hour)
				user.IncorrectLoginAttempts = 3
				user.BypassLockout = true
				return user
			},
			wantStatus: LoginSuccess,
			wantSaved:  true,
		},
		{
			name:     "disabled account",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := f.storedUser(t, password, 24*time.Hour)
				user.Status = domain.UserStatusDisabled
				return user
			},
			wantStatus: LoginAccountDisabled,
		},
		{
			name:     "expired account",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := f.storedUser(t, password, 24*time.Hour)
				expiry := testNow.Add(-time.Minute)
				user.AccountExpiry = &expiry
				return user
			},
			wantStatus: LoginAccountDisabled,
		},
		{
			name:     "expired password",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				return f.storedUser(t, password, 120*24*time.Hour)
			},
			wantStatus: LoginAccountPasswordExpired,
		},
		{
			name:     "expired password that never expires",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := f.storedUser(t, password, 120*24*time.Hour)
				user.PasswordNeverExpires = true
				return user
			},
			wantStatus: LoginSuccess,
			wantSaved:  true,
		},
		{
			name:     "forced change",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := f.storedUser(t, password, time.Hour)
				user.ChangePasswordNextLogin = true
				return user
			},
			wantStatus: LoginAccountPasswordExpired,
		},
		{
			name:     "outdated hash is upgraded",
			username: "alice",
			password: password,
			prepare: func(t *testing.T, f *userServiceFixture) *domain.User {
				user := domain.NewUser("alice")
				require.NoError(t, user.AssignID(1))
				hash, err := crypto.NewBcryptHasher(bcrypt.MinCost).Hash(password)
				require.NoError(t, err)
				user.RestoreCredential(10, hash, testNow.Add(-time.Hour))
				return user
			},
			wantStatus: LoginSuccess,
			wantSaved:  true,
			check: func(t *testing.T, f *userServiceFixture, user *domain.User) {
				require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rehashes))
				require.Len(t, user.Credentials(), 1)
				require.False(t, f.hasher.NeedsRehash(user.Credentials()[0].Hash()))
				require.True(t, user.HasCredential(password))
			},
		},
		{
			name:       "empty request",
			username:   "",
			password:   password,
			wantStatus: LoginInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestUserService(t)

			var user *domain.User
			if tt.prepare != nil {
				user = tt.prepare(t, f)
				f.expectLoad(user)
			}
			if tt.wantSaved {
				f.users.On("Update", mock.Anything, user).Return(nil).Once()
			}

			result, err := f.svc.Authenticate(context.Background(), tt.username, tt.password)
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, result.Status)
			require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoginAttempts.WithLabelValues(string(tt.wantStatus))))

			if !tt.wantSaved {
				f.users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
			}
			if tt.check != nil {
				tt.check(t, f, user)
			}
			f.users.AssertExpectations(t)
		})
	}
}

func TestUserService_Authenticate_UnknownUser(t *testing.T) {
	f := newTestUserService(t)
	f.users.On("GetByUsername", mock.Anything, "ghost").Return(nil, domain.ErrUserNotFound)

	result, err := f.svc.Authenticate(context.Background(), "ghost", "whatever")
	require.NoError(t, err)
	require.Equal(t, LoginUserNotFound, result.Status)
	require.Nil(t, result.User)
}

func TestUserService_Authenticate_WarnsBeforeExpiry(t *testing.T) {
	f := newTestUserService(t)
	user := f.storedUser(t, "correct horse", 80*24*time.Hour)
	f.expectLoad(user)
	f.users.On("Update", mock.Anything, user).Return(nil)

	result, err := f.svc.Authenticate(context.Background(), "alice", "correct horse")
	require.NoError(t, err)
	require.Equal(t, LoginSuccess, result.Status)
	require.NotNil(t, result.PasswordExpiresInDays)
	require.Equal(t, 10, *result.PasswordExpiresInDays)
}

func TestUserService_ChangePassword(t *testing.T) {
	const current = "current password"

	tests := []struct {
		name    string
		input   ChangePasswordInput
		history []string
		wantErr error
	}{
		{
			name:  "success",
			input: ChangePasswordInput{UserID: 1, OldPassword: current, NewPassword: "brand new password"},
		},
		{
			name:    "wrong old password",
			input:   ChangePasswordInput{UserID: 1, OldPassword: "not it at all", NewPassword: "brand new password"},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "reuse of current password",
			input:   ChangePasswordInput{UserID: 1, OldPassword: current, NewPassword: current},
			wantErr: ErrPasswordReused,
		},
		{
			name:    "reuse of older password",
			input:   ChangePasswordInput{UserID: 1, OldPassword: current, NewPassword: "older password"},
			history: []string{"older password"},
			wantErr: ErrPasswordReused,
		},
		{
			name:    "too short",
			input:   ChangePasswordInput{UserID: 1, OldPassword: current, NewPassword: "short"},
			wantErr: ErrInvalidPassword,
		},
		{
			name:    "missing old password",
			input:   ChangePasswordInput{UserID: 1, NewPassword: "brand new password"},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestUserService(t)

			user := domain.NewUser("alice")
			require.NoError(t, user.AssignID(1))
			for i, pw := range tt.history {
				hash, err := f.hasher.Hash(pw)
				require.NoError(t, err)
				user.RestoreCredential(int64(i+1), hash, testNow.Add(-time.Duration(100-i)*time.Hour))
			}
			hash, err := f.hasher.Hash(current)
			require.NoError(t, err)
			user.RestoreCredential(50, hash, testNow.Add(-time.Hour))
			user.ChangePasswordNextLogin = true

			f.expectLoad(user)
			if tt.wantErr == nil {
				f.users.On("Update", mock.Anything, user).Return(nil).Once()
			}

			err = f.svc.ChangePassword(context.Background(), tt.input)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				f.users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			require.False(t, user.ChangePasswordNextLogin)
			require.True(t, f.svc.history.LatestCredential(user).Matches(tt.input.NewPassword))
			require.True(t, user.HasCredential(current))
			require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PasswordChanges.WithLabelValues(changeUser)))
		})
	}
}

func TestUserService_ChangePassword_EnforcesRetention(t *testing.T) {
	f := newTestUserService(t)

	user := domain.NewUser("alice")
	require.NoError(t, user.AssignID(1))
	passwords := []string{"password one", "password two", "password three"}
	for i, pw := range passwords {
		hash, err := f.hasher.Hash(pw)
		require.NoError(t, err)
		user.RestoreCredential(int64(i+1), hash, testNow.Add(-time.Duration(10-i)*time.Hour))
	}
	f.expectLoad(user)
	f.users.On("Update", mock.Anything, user).Return(nil)

	err := f.svc.ChangePassword(context.Background(), ChangePasswordInput{
		UserID:      1,
		OldPassword: "password three",
		NewPassword: "password four",
	})
	require.NoError(t, err)

	require.Len(t, user.Credentials(), 3)
	require.False(t, user.HasCredential("password one"))
	require.True(t, user.HasCredential("password four"))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CredentialEvictions))
}

func TestUserService_ResetPassword(t *testing.T) {
	f := newTestUserService(t)
	user := f.storedUser(t, "forgotten password", time.Hour)
	user.IncorrectLoginAttempts = 5
	f.expectLoad(user)
	f.users.On("Update", mock.Anything, user).Return(nil)

	generated, err := f.svc.ResetPassword(context.Background(), "alice", "")
	require.NoError(t, err)
	require.Len(t, generated, crypto.GeneratedPasswordLength)

	require.True(t, user.ChangePasswordNextLogin)
	require.Zero(t, user.IncorrectLoginAttempts)
	require.True(t, f.svc.history.LatestCredential(user).Matches(generated))

	_, err = f.svc.ResetPassword(context.Background(), "alice", generated)
	require.ErrorIs(t, err, ErrPasswordReused)
}

func TestUserService_ExternalIdentity(t *testing.T) {
	f := newTestUserService(t)
	user := f.storedUser(t, "correct horse", time.Hour)
	user.ExternalIdentity = true
	f.expectLoad(user)

	result, err := f.svc.Authenticate(context.Background(), "alice", "correct horse")
	require.NoError(t, err)
	require.Equal(t, LoginInvalidRequest, result.Status)

	err = f.svc.ChangePassword(context.Background(), ChangePasswordInput{
		UserID: 1, OldPassword: "correct horse", NewPassword: "something else",
	})
	require.ErrorIs(t, err, ErrExternalIdentity)
	f.users.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestUserService_Delete(t *testing.T) {
	f := newTestUserService(t)
	role := domain.NewRole("trader")
	require.NoError(t, role.AssignID(5))
	group := domain.NewGroup("desk")
	require.NoError(t, group.AssignID(6))

	user := f.storedUser(t, "correct horse", time.Hour)
	user.AddRole(role)
	user.AddGroup(group)
	f.expectLoad(user)
	f.users.On("Update", mock.Anything, user).Return(nil)

	require.NoError(t, f.svc.Delete(context.Background(), 1))
	require.Equal(t, domain.UserStatusDeleted, user.Status)
	require.Empty(t, user.Roles())
	require.Empty(t, user.Groups())
	require.Empty(t, role.Users())
	require.Empty(t, group.Members())
	require.Len(t, user.Credentials(), 1)
}

func TestUserService_SetRoles(t *testing.T) {
	f := newTestUserService(t)
	old := domain.NewRole("old")
	require.NoError(t, old.AssignID(1))
	keep := domain.NewRole("keep")
	require.NoError(t, keep.AssignID(2))
	added := domain.NewRole("new")
	require.NoError(t, added.AssignID(3))

	user := f.storedUser(t, "correct horse", time.Hour)
	user.AddRole(old)
	user.AddRole(keep)
	f.expectLoad(user)
	f.roles.On("GetByName", mock.Anything, "keep").Return(keep, nil)
	f.roles.On("GetByName", mock.Anything, "new").Return(added, nil)
	f.users.On("Update", mock.Anything, user).Return(nil)

	updated, err := f.svc.SetRoles(context.Background(), 1, []string{"keep", "new"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"keep", "new"}, updated.RoleNames())
	require.Empty(t, old.Users())
}

func TestUserService_Groups(t *testing.T) {
	f := newTestUserService(t)
	parent := domain.NewGroup("europe")
	require.NoError(t, parent.AssignID(1))
	desk := domain.NewGroup("desk")
	require.NoError(t, desk.AssignID(2))
	desk.AddParent(parent)

	user := f.storedUser(t, "correct horse", time.Hour)
	f.expectLoad(user)
	f.groups.On("GetByName", mock.Anything, "desk").Return(desk, nil)
	f.groups.On("GetByName", mock.Anything, "ghost").Return(nil, domain.ErrGroupNotFound)
	f.users.On("Update", mock.Anything, user).Return(nil)

	_, err := f.svc.AddToGroup(context.Background(), 1, "desk")
	require.NoError(t, err)

	effective, err := f.svc.EffectiveGroups(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []*domain.Group{desk, parent}, effective)

	_, err = f.svc.AddToGroup(context.Background(), 1, "ghost")
	require.ErrorIs(t, err, ErrGroupNotFound)

	_, err = f.svc.RemoveFromGroup(context.Background(), 1, "desk")
	require.NoError(t, err)
	require.Empty(t, user.Groups())
}

func TestUserService_Properties(t *testing.T) {
	f := newTestUserService(t)
	user := f.storedUser(t, "correct horse", time.Hour)
	f.expectLoad(user)
	f.users.On("Update", mock.Anything, user).Return(nil)

	_, err := f.svc.UpdateProperty(context.Background(), 1, "region", "EU")
	require.ErrorIs(t, err, ErrPropertyNotFound)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.SetProperty(context.Background(), 1, "Region", "EU")
	require.NoError(t, err)

	_, err = f.svc.UpdateProperty(context.Background(), 1, "region", "US")
	require.NoError(t, err)
	value, ok := user.Property("REGION")
	require.True(t, ok)
	require.Equal(t, "US", value)
}

func TestUserService_NotFound(t *testing.T) {
	f := newTestUserService(t)
	f.users.On("GetByID", mock.Anything, int64(9)).Return(nil, domain.ErrUserNotFound)

	_, err := f.svc.GetByID(context.Background(), 9)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.SetStatus(context.Background(), 9, domain.UserStatusDisabled)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserService_BusyLock(t *testing.T) {
	f := newTestUserService(t)
	_, ok, err := f.svc.locker.Acquire(context.Background(), lock.Keys.User(1), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.SetStatus(context.Background(), 1, domain.UserStatusDisabled)
	require.ErrorIs(t, err, ErrBusy)
	f.users.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
