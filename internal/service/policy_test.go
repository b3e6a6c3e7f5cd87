package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tradernet-identity/internal/domain"
)

type plainHash string

func (h plainHash) Matches(plaintext string) bool { return string(h) == plaintext }
func (h plainHash) Encoded() string               { return string(h) }

func TestPasswordAgePolicy_Apply(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := PasswordAgePolicy{MaxAge: 90 * 24 * time.Hour, WarningPeriod: 7 * 24 * time.Hour}

	tests := []struct {
		name         string
		policy       PasswordAgePolicy
		age          time.Duration
		noCredential bool
		neverExpires bool
		forceChange  bool
		wantExpired  bool
		wantDays     *int
	}{
		{name: "fresh", policy: policy, age: time.Hour},
		{name: "inside warning period", policy: policy, age: 85 * 24 * time.Hour, wantDays: intPtr(5)},
		{name: "partial day rounds up", policy: policy, age: 89*24*time.Hour + time.Hour, wantDays: intPtr(1)},
		{name: "exactly at max age", policy: policy, age: 90 * 24 * time.Hour, wantExpired: true},
		{name: "past max age", policy: policy, age: 400 * 24 * time.Hour, wantExpired: true},
		{name: "never expires", policy: policy, age: 400 * 24 * time.Hour, neverExpires: true},
		{name: "expiry disabled", policy: PasswordAgePolicy{}, age: 400 * 24 * time.Hour},
		{name: "no credential", policy: policy, noCredential: true},
		{name: "forced change", policy: policy, age: time.Hour, forceChange: true, wantExpired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := domain.NewUser("u")
			user.PasswordNeverExpires = tt.neverExpires
			user.ChangePasswordNextLogin = tt.forceChange
			user.PasswordExpired = true
			user.PasswordExpiresInDays = intPtr(99)

			var latest *domain.PasswordRecord
			if !tt.noCredential {
				latest = user.RestoreCredential(1, plainHash("pw"), now.Add(-tt.age))
			}

			tt.policy.Apply(user, latest, now)
			require.Equal(t, tt.wantExpired, user.PasswordExpired)
			require.Equal(t, tt.wantDays, user.PasswordExpiresInDays)
		})
	}
}

func TestLockoutPolicy_Apply(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		attempts int
		want     bool
	}{
		{"below limit", 3, 2, false},
		{"at limit", 3, 3, true},
		{"above limit", 3, 7, true},
		{"disabled", 0, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := domain.NewUser("u")
			user.IncorrectLoginAttempts = tt.attempts
			LockoutPolicy{MaxAttempts: tt.max}.Apply(user)
			require.Equal(t, tt.want, user.LockedOut)
		})
	}
}

func intPtr(v int) *int { return &v }
