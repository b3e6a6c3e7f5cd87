package domain

import (
	"fmt"
	"time"
)

// CredentialHash is an opaque, verifiable credential. The identity core never
// sees plaintext secrets at rest and never compares them itself; it asks the
// stored hash whether a candidate matches.
type CredentialHash interface {
	// Matches reports whether plaintext is the secret this hash was built from.
	Matches(plaintext string) bool

	// Encoded returns the self-describing storage form of the hash.
	Encoded() string
}

// PasswordRecord is one entry in a user's password history.
// The user owns its records; a record removed from the user's history has its
// owner cleared.
type PasswordRecord struct {
	// ID is assigned by storage when the record is first saved.
	ID Identity

	user        *User
	hash        CredentialHash
	lastChanged time.Time

	// seq orders records of the same user by insertion, for tie-breaks.
	seq uint64
}

// AssignID sets the record identifier. See Identity.
func (p *PasswordRecord) AssignID(id int64) error {
	return p.ID.assign(id, "password")
}

// User returns the owning user, or nil once the record has been removed.
func (p *PasswordRecord) User() *User {
	return p.user
}

// Hash returns the stored credential.
func (p *PasswordRecord) Hash() CredentialHash {
	return p.hash
}

// LastChanged returns when this credential was set.
func (p *PasswordRecord) LastChanged() time.Time {
	return p.lastChanged
}

// Matches reports whether candidate matches this record's credential.
func (p *PasswordRecord) Matches(candidate string) bool {
	if p.hash == nil {
		return false
	}
	return p.hash.Matches(candidate)
}

// newerThan reports whether p was set after other, using insertion order to
// break ties on equal timestamps.
func (p *PasswordRecord) newerThan(other *PasswordRecord) bool {
	if p.lastChanged.Equal(other.lastChanged) {
		return p.seq > other.seq
	}
	return p.lastChanged.After(other.lastChanged)
}

// String implements fmt.Stringer without exposing the hash.
func (p *PasswordRecord) String() string {
	return fmt.Sprintf("PasswordRecord{id=%s, lastChanged=%s}", p.ID, p.lastChanged.Format(time.RFC3339))
}
