// Package crypto provides credential hashing for the Tradernet identity core.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"

	"github.com/prn-tf/tradernet-identity/internal/domain"
)

// Supported hash algorithms.
const (
	AlgorithmBcrypt = "bcrypt"
	AlgorithmPBKDF2 = "pbkdf2"
)

const (
	pbkdf2Prefix = "pbkdf2-sha256"

	// DefaultPBKDF2Iterations is the iteration count used when none is configured.
	DefaultPBKDF2Iterations = 210000

	pbkdf2SaltSize = 16
	pbkdf2KeySize  = 32
)

// Errors
var (
	// ErrUnknownHashFormat indicates an encoded hash of an unrecognised scheme.
	ErrUnknownHashFormat = errors.New("unknown password hash format")

	// ErrMalformedHash indicates an encoded hash that could not be decoded.
	ErrMalformedHash = errors.New("malformed password hash")

	// ErrUnknownAlgorithm indicates an unsupported hash algorithm name.
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
)

// Hasher turns plaintext passwords into verifiable credentials and decodes
// stored credentials.
type Hasher interface {
	// Hash derives a credential from plaintext.
	Hash(plaintext string) (domain.CredentialHash, error)

	// Parse decodes a stored credential. Every supported scheme is accepted,
	// not only the one the hasher produces.
	Parse(encoded string) (domain.CredentialHash, error)

	// NeedsRehash reports whether a stored credential was produced by a
	// different scheme or weaker parameters than the hasher uses.
	NeedsRehash(hash domain.CredentialHash) bool
}

// NewHasher returns the Hasher for algorithm. cost is the bcrypt cost or the
// PBKDF2 iteration count; zero selects the default.
func NewHasher(algorithm string, cost int) (Hasher, error) {
	switch strings.ToLower(algorithm) {
	case AlgorithmBcrypt, "":
		return NewBcryptHasher(cost), nil
	case AlgorithmPBKDF2:
		return NewPBKDF2Hasher(cost), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}
}

// ParseHash decodes a stored credential of any supported scheme.
func ParseHash(encoded string) (domain.CredentialHash, error) {
	switch {
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		if _, err := bcrypt.Cost([]byte(encoded)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
		return bcryptHash(encoded), nil
	case strings.HasPrefix(encoded, pbkdf2Prefix+"$"):
		return parsePBKDF2(encoded)
	default:
		return nil, ErrUnknownHashFormat
	}
}

// =============================================================================
// bcrypt
// =============================================================================

// BcryptHasher hashes passwords with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a new BcryptHasher. Costs outside bcrypt's range
// fall back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash implements Hasher.
func (h *BcryptHasher) Hash(plaintext string) (domain.CredentialHash, error) {
	encoded, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return bcryptHash(encoded), nil
}

// Parse implements Hasher.
func (h *BcryptHasher) Parse(encoded string) (domain.CredentialHash, error) {
	return ParseHash(encoded)
}

// NeedsRehash implements Hasher.
func (h *BcryptHasher) NeedsRehash(hash domain.CredentialHash) bool {
	b, ok := hash.(bcryptHash)
	if !ok {
		return true
	}
	cost, err := bcrypt.Cost([]byte(b))
	return err != nil || cost < h.cost
}

type bcryptHash string

func (b bcryptHash) Matches(plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(b), []byte(plaintext)) == nil
}

func (b bcryptHash) Encoded() string {
	return string(b)
}

// =============================================================================
// PBKDF2
// =============================================================================

// PBKDF2Hasher hashes passwords with PBKDF2-HMAC-SHA256.
type PBKDF2Hasher struct {
	iterations int
}

// NewPBKDF2Hasher creates a new PBKDF2Hasher.
func NewPBKDF2Hasher(iterations int) *PBKDF2Hasher {
	if iterations <= 0 {
		iterations = DefaultPBKDF2Iterations
	}
	return &PBKDF2Hasher{iterations: iterations}
}

// Hash implements Hasher.
func (h *PBKDF2Hasher) Hash(plaintext string) (domain.CredentialHash, error) {
	salt, err := GenerateSalt(pbkdf2SaltSize)
	if err != nil {
		return nil, err
	}
	return &pbkdf2Hash{
		iterations: h.iterations,
		salt:       salt,
		key:        pbkdf2.Key([]byte(plaintext), salt, h.iterations, pbkdf2KeySize, sha256.New),
	}, nil
}

// Parse implements Hasher.
func (h *PBKDF2Hasher) Parse(encoded string) (domain.CredentialHash, error) {
	return ParseHash(encoded)
}

// NeedsRehash implements Hasher.
func (h *PBKDF2Hasher) NeedsRehash(hash domain.CredentialHash) bool {
	p, ok := hash.(*pbkdf2Hash)
	return !ok || p.iterations < h.iterations
}

type pbkdf2Hash struct {
	iterations int
	salt       []byte
	key        []byte
}

func (p *pbkdf2Hash) Matches(plaintext string) bool {
	derived := pbkdf2.Key([]byte(plaintext), p.salt, p.iterations, len(p.key), sha256.New)
	return subtle.ConstantTimeCompare(derived, p.key) == 1
}

// Encoded returns pbkdf2-sha256$<iterations>$<salt>$<key> with raw base64 parts.
func (p *pbkdf2Hash) Encoded() string {
	return fmt.Sprintf("%s$%d$%s$%s",
		pbkdf2Prefix,
		p.iterations,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.key),
	)
}

func parsePBKDF2(encoded string) (*pbkdf2Hash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return nil, ErrMalformedHash
	}

	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return nil, fmt.Errorf("%w: bad iteration count", ErrMalformedHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}

	return &pbkdf2Hash{iterations: iterations, salt: salt, key: key}, nil
}
