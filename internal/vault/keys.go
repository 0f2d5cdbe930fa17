package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/AegisGate/aegis-gate/models"
)

// ErrBadKeyExport is returned when an import blob cannot be opened, either
// because it is malformed or the master secret is wrong.
var ErrBadKeyExport = errors.New("vault: key export cannot be opened")

func newKeyID() string {
	return uuid.NewString()
}

// exportedKey mirrors EncryptionKey with the material included, for the
// sealed export format only.
type exportedKey struct {
	ID        string     `json:"id"`
	Material  []byte     `json:"material"`
	Algorithm string     `json:"algorithm"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

// ExportKeys serializes the full key ring sealed under a master secret that
// is independent of any ring key. The blob is opaque to callers.
func (v *Vault) ExportKeys(masterSecret string) ([]byte, error) {
	if masterSecret == "" {
		return nil, errors.New("vault: master secret is required for export")
	}

	v.mu.RLock()
	keys := make([]exportedKey, 0, len(v.keys))
	for _, key := range v.keys {
		keys = append(keys, exportedKey{
			ID:        key.ID,
			Material:  key.Material,
			Algorithm: key.Algorithm,
			CreatedAt: key.CreatedAt,
			ExpiresAt: key.ExpiresAt,
			Active:    key.Active,
		})
	}
	activeID := v.activeID
	v.mu.RUnlock()

	plaintext, err := json.Marshal(struct {
		ActiveID string        `json:"active_id"`
		Keys     []exportedKey `json:"keys"`
	}{ActiveID: activeID, Keys: keys})
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(masterKey(masterSecret))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(sealed)))
	base64.RawURLEncoding.Encode(out, sealed)
	return out, nil
}

// ImportKeys replaces the ring with a previously exported key set. Payloads
// encrypted under any imported key become decryptable again.
func (v *Vault) ImportKeys(blob []byte, masterSecret string) error {
	if masterSecret == "" {
		return errors.New("vault: master secret is required for import")
	}

	sealed := make([]byte, base64.RawURLEncoding.DecodedLen(len(blob)))
	n, err := base64.RawURLEncoding.Decode(sealed, blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadKeyExport, err)
	}
	sealed = sealed[:n]

	if len(sealed) < chacha20poly1305.NonceSizeX {
		return ErrBadKeyExport
	}

	aead, err := chacha20poly1305.NewX(masterKey(masterSecret))
	if err != nil {
		return err
	}

	nonce := sealed[:chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return ErrBadKeyExport
	}

	var decoded struct {
		ActiveID string        `json:"active_id"`
		Keys     []exportedKey `json:"keys"`
	}
	if err := json.Unmarshal(plaintext, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrBadKeyExport, err)
	}
	if decoded.ActiveID == "" || len(decoded.Keys) == 0 {
		return ErrBadKeyExport
	}

	keys := make(map[string]*models.EncryptionKey, len(decoded.Keys))
	for _, k := range decoded.Keys {
		keys[k.ID] = &models.EncryptionKey{
			ID:        k.ID,
			Material:  k.Material,
			Algorithm: k.Algorithm,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
			Active:    k.Active,
		}
	}
	if _, ok := keys[decoded.ActiveID]; !ok {
		return ErrBadKeyExport
	}

	v.mu.Lock()
	v.keys = keys
	v.activeID = decoded.ActiveID
	v.mu.Unlock()

	return nil
}

func masterKey(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}
