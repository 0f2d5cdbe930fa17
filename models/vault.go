package models

import "time"

// Cipher suites supported by the vault.
const (
	AlgorithmAESGCM   = "aes-256-gcm"
	AlgorithmXChaCha  = "xchacha20-poly1305"
	HashArgon2id      = "argon2id"
	HashPBKDF2 string = "pbkdf2-sha256"
)

// EncryptionKey is one entry in the vault key ring. After rotation the key
// stays read-only until ExpiresAt so historical payloads remain decryptable.
type EncryptionKey struct {
	ID        string     `json:"id"`
	Material  []byte     `json:"-"`
	Algorithm string     `json:"algorithm"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

// Expired reports whether the key has passed its grace expiry.
func (k *EncryptionKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// EncryptedPayload is self-describing ciphertext: it names the key and
// algorithm needed to decrypt it. All byte fields are base64 (raw URL).
type EncryptedPayload struct {
	Ciphertext string    `json:"ciphertext"`
	IV         string    `json:"iv"`
	Tag        string    `json:"tag,omitempty"`
	KeyID      string    `json:"key_id"`
	Algorithm  string    `json:"algorithm"`
	Timestamp  time.Time `json:"timestamp"`
}

// HashResult carries everything needed to re-verify a hash.
type HashResult struct {
	Hash       string `json:"hash"`
	Salt       string `json:"salt"`
	Algorithm  string `json:"algorithm"`
	Iterations int    `json:"iterations,omitempty"`
}
