package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/AegisGate/aegis-gate/events"
	"github.com/AegisGate/aegis-gate/internal/security"
	"github.com/AegisGate/aegis-gate/models"
)

var (
	// ErrUnknownKey is returned when the key a payload references has been
	// purged from the ring.
	ErrUnknownKey = errors.New("vault: unknown or purged encryption key")
	// ErrCiphertextInvalid is returned when the integrity tag does not
	// verify. Plaintext is never returned on a failed tag.
	ErrCiphertextInvalid = errors.New("vault: ciphertext integrity check failed")
	// ErrUnsupportedAlgorithm is returned for an algorithm the vault does
	// not implement.
	ErrUnsupportedAlgorithm = errors.New("vault: unsupported algorithm")
)

// Vault provides symmetric encryption, hashing and HMAC with key lifecycle
// management. All calls are stateless apart from the key ring.
type Vault struct {
	config models.VaultConfig
	logger models.Logger
	bus    models.EventPublisher
	signer security.Signer

	mu       sync.RWMutex
	keys     map[string]*models.EncryptionKey
	activeID string
}

// New creates a vault with one freshly generated active key.
func New(config models.VaultConfig, secret string, logger models.Logger, bus models.EventPublisher) (*Vault, error) {
	if config.Algorithm == "" {
		config.Algorithm = models.AlgorithmAESGCM
	}
	if config.HashAlgorithm == "" {
		config.HashAlgorithm = models.HashArgon2id
	}
	if config.HashIterations <= 0 {
		config.HashIterations = 100_000
	}
	if config.RotationGrace <= 0 {
		config.RotationGrace = 30 * 24 * time.Hour
	}

	v := &Vault{
		config: config,
		logger: logger,
		bus:    bus,
		signer: security.NewHMACSigner(secret),
		keys:   make(map[string]*models.EncryptionKey),
	}

	if _, err := v.generateKey(); err != nil {
		return nil, err
	}

	return v, nil
}

// Encrypt seals plaintext under the named key, or the active key when keyID
// is empty. The returned payload is self-describing.
func (v *Vault) Encrypt(plaintext []byte, keyID string) (*models.EncryptedPayload, error) {
	key, err := v.lookupKey(keyID)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key.Algorithm, key.Material)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce generation: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	tagStart := len(sealed) - aead.Overhead()

	return &models.EncryptedPayload{
		Ciphertext: base64.RawURLEncoding.EncodeToString(sealed[:tagStart]),
		IV:         base64.RawURLEncoding.EncodeToString(nonce),
		Tag:        base64.RawURLEncoding.EncodeToString(sealed[tagStart:]),
		KeyID:      key.ID,
		Algorithm:  key.Algorithm,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// Decrypt opens a payload with the key it references. Fails with
// ErrUnknownKey if that key is gone and ErrCiphertextInvalid if the tag does
// not verify.
func (v *Vault) Decrypt(payload *models.EncryptedPayload) ([]byte, error) {
	v.mu.Lock()
	key, ok := v.keys[payload.KeyID]
	if ok && key.Expired(time.Now()) {
		// lazy purge on lookup
		delete(v.keys, payload.KeyID)
		ok = false
	}
	v.mu.Unlock()

	if !ok {
		return nil, ErrUnknownKey
	}

	aead, err := newAEAD(payload.Algorithm, key.Material)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.RawURLEncoding.DecodeString(payload.IV)
	if err != nil || len(nonce) != aead.NonceSize() {
		return nil, ErrCiphertextInvalid
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}
	tag, err := base64.RawURLEncoding.DecodeString(payload.Tag)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrCiphertextInvalid
	}

	return plaintext, nil
}

// HMAC signs data with the vault secret, or with the provided secret.
func (v *Vault) HMAC(data []byte, secret []byte) string {
	return v.signer.Sign(data, secret)
}

// VerifyHMAC checks a signature in constant time.
func (v *Vault) VerifyHMAC(data []byte, signature string, secret []byte) bool {
	return v.signer.Verify(data, signature, secret)
}

// RotateKeys generates a new active key and demotes the previous one to
// read-only with a grace expiry, then emits a rotation event. Keys that are
// not yet expired are never removed.
func (v *Vault) RotateKeys(ctx context.Context) (string, error) {
	v.mu.Lock()
	previous := v.keys[v.activeID]
	v.mu.Unlock()

	newID, err := v.generateKey()
	if err != nil {
		return "", err
	}

	if previous != nil {
		expiresAt := time.Now().Add(v.config.RotationGrace)
		v.mu.Lock()
		previous.Active = false
		previous.ExpiresAt = &expiresAt
		v.mu.Unlock()
	}

	v.publishRotation(ctx, newID, previous)

	return newID, nil
}

// PurgeExpiredKeys removes keys past their grace expiry. Registered as a
// maintenance task.
func (v *Vault) PurgeExpiredKeys(ctx context.Context) error {
	now := time.Now()

	v.mu.Lock()
	defer v.mu.Unlock()

	for id, key := range v.keys {
		if key.Expired(now) {
			delete(v.keys, id)
		}
	}
	return nil
}

// Keys returns a snapshot of the ring without key material.
func (v *Vault) Keys() []models.EncryptionKey {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]models.EncryptionKey, 0, len(v.keys))
	for _, key := range v.keys {
		k := *key
		k.Material = nil
		out = append(out, k)
	}
	return out
}

// ActiveKeyID returns the id of the key new encryptions use.
func (v *Vault) ActiveKeyID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.activeID
}

func (v *Vault) lookupKey(keyID string) (*models.EncryptionKey, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if keyID == "" {
		keyID = v.activeID
	}

	key, ok := v.keys[keyID]
	if !ok || key.Expired(time.Now()) {
		return nil, ErrUnknownKey
	}
	return key, nil
}

func (v *Vault) generateKey() (string, error) {
	material := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return "", fmt.Errorf("vault: key generation: %w", err)
	}

	key := &models.EncryptionKey{
		ID:        newKeyID(),
		Material:  material,
		Algorithm: v.config.Algorithm,
		CreatedAt: time.Now().UTC(),
		Active:    true,
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.keys[key.ID] = key
	v.activeID = key.ID

	return key.ID, nil
}

func (v *Vault) publishRotation(ctx context.Context, newID string, previous *models.EncryptionKey) {
	if v.bus == nil {
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"new_key_id": newID,
		"previous_key_id": func() string {
			if previous == nil {
				return ""
			}
			return previous.ID
		}(),
	})

	if err := v.bus.Publish(ctx, models.Event{
		Type:    events.EventKeyRotated,
		Payload: payload,
	}); err != nil {
		v.logger.Warn("failed to publish key rotation event", "error", err)
	}
}

func newAEAD(algorithm string, material []byte) (cipher.AEAD, error) {
	switch algorithm {
	case models.AlgorithmAESGCM:
		block, err := aes.NewCipher(material)
		if err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
		return cipher.NewGCM(block)
	case models.AlgorithmXChaCha:
		return chacha20poly1305.NewX(material)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}
