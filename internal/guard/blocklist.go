package guard

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AegisGate/aegis-gate/models"
)

// Blocklist holds the typed block entries consulted on every request.
// Temporary entries past their expiry are treated as absent and removed
// lazily on lookup, so reads never wait on the purge task.
type Blocklist struct {
	mu      sync.RWMutex
	entries map[string]*models.BlockedEntity
}

func NewBlocklist() *Blocklist {
	return &Blocklist{entries: make(map[string]*models.BlockedEntity)}
}

func blockKey(blockType models.BlockType, value string) string {
	return string(blockType) + ":" + value
}

// Add inserts or replaces a block entry.
func (b *Blocklist) Add(entity models.BlockedEntity) {
	if entity.BlockedAt.IsZero() {
		entity.BlockedAt = time.Now().UTC()
	}
	if entity.Severity == "" {
		entity.Severity = models.BlockTemporary
	}

	b.mu.Lock()
	b.entries[blockKey(entity.Type, entity.Value)] = &entity
	b.mu.Unlock()
}

// Remove deletes a block entry, reporting whether one existed.
func (b *Blocklist) Remove(blockType models.BlockType, value string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := blockKey(blockType, value)
	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok
}

// Lookup returns the live block entry for the value, if any. Expired entries
// are purged on the spot.
func (b *Blocklist) Lookup(blockType models.BlockType, value string, now time.Time) (*models.BlockedEntity, bool) {
	if value == "" {
		return nil, false
	}
	key := blockKey(blockType, value)

	b.mu.RLock()
	entity, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if entity.Expired(now) {
		b.mu.Lock()
		if current, still := b.entries[key]; still && current.Expired(now) {
			delete(b.entries, key)
		}
		b.mu.Unlock()
		return nil, false
	}

	copied := *entity
	return &copied, true
}

// Purge removes all expired entries and returns how many were dropped.
func (b *Blocklist) Purge(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	purged := 0
	for key, entity := range b.entries {
		if entity.Expired(now) {
			delete(b.entries, key)
			purged++
		}
	}
	return purged
}

// List returns a snapshot of all live entries.
func (b *Blocklist) List(now time.Time) []models.BlockedEntity {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.BlockedEntity, 0, len(b.entries))
	for _, entity := range b.entries {
		if !entity.Expired(now) {
			out = append(out, *entity)
		}
	}
	return out
}

// Len reports the number of entries, expired ones included.
func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Export serializes the live entries as a JSON snapshot.
func (b *Blocklist) Export(now time.Time) ([]byte, error) {
	return json.Marshal(b.List(now))
}

// Import merges a JSON snapshot into the blocklist. Existing entries with
// the same type and value are replaced.
func (b *Blocklist) Import(data []byte) (int, error) {
	var entries []models.BlockedEntity
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("guard: decoding blocklist snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range entries {
		entity := entries[i]
		b.entries[blockKey(entity.Type, entity.Value)] = &entity
	}
	return len(entries), nil
}
