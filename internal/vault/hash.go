package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/AegisGate/aegis-gate/models"
)

// argon2id parameters
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	hashLen      = 32
	saltLen      = 16
)

// HashOptions selects the algorithm and optionally fixes the salt and
// iteration count. Zero values fall back to the vault configuration.
type HashOptions struct {
	Algorithm  string
	Salt       []byte
	Iterations int
}

// Hash derives a hash of input. The result carries everything needed for
// later verification.
func (v *Vault) Hash(input string, opts HashOptions) (*models.HashResult, error) {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = v.config.HashAlgorithm
	}

	salt := opts.Salt
	if len(salt) == 0 {
		salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("vault: salt generation: %w", err)
		}
	}

	iterations := opts.Iterations

	var digest []byte
	switch algorithm {
	case models.HashArgon2id:
		iterations = argonTime
		digest = argon2.IDKey([]byte(input), salt, argonTime, argonMemory, argonThreads, hashLen)
	case models.HashPBKDF2:
		if iterations <= 0 {
			iterations = v.config.HashIterations
		}
		digest = pbkdf2.Key([]byte(input), salt, iterations, hashLen, sha256.New)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	return &models.HashResult{
		Hash:       base64.RawStdEncoding.EncodeToString(digest),
		Salt:       base64.RawStdEncoding.EncodeToString(salt),
		Algorithm:  algorithm,
		Iterations: iterations,
	}, nil
}

// VerifyHash recomputes the hash with the recorded salt and parameters and
// compares in constant time.
func (v *Vault) VerifyHash(input string, result *models.HashResult) bool {
	salt, err := base64.RawStdEncoding.DecodeString(result.Salt)
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(result.Hash)
	if err != nil {
		return false
	}

	recomputed, err := v.Hash(input, HashOptions{
		Algorithm:  result.Algorithm,
		Salt:       salt,
		Iterations: result.Iterations,
	})
	if err != nil {
		return false
	}

	actual, err := base64.RawStdEncoding.DecodeString(recomputed.Hash)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(expected, actual) == 1
}
