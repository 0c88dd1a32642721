package ledger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"guildwarden/internal/models"
)

type memoryKey struct {
	guild snowflake.ID
	user  snowflake.ID
}

type memoryEntry struct {
	data    []byte
	version int64
}

// MemoryStore keeps serialized records in a map. It is used by tests and
// by dry runs; records are JSON encoded so callers cannot share state
// with the store by accident.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[memoryKey]memoryEntry

	// FailSave, when set, is returned by Save instead of writing.
	FailSave error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[memoryKey]memoryEntry)}
}

func (s *MemoryStore) Get(ctx context.Context, guildID, userID snowflake.ID) (*models.User, error) {
	s.mu.RLock()
	entry, ok := s.entries[memoryKey{guildID, userID}]
	s.mu.RUnlock()
	if !ok {
		return models.NewUser(guildID, userID), nil
	}
	return decode(entry)
}

func (s *MemoryStore) Save(ctx context.Context, u *models.User) error {
	if s.FailSave != nil {
		return s.FailSave
	}
	data, err := json.Marshal(u.Document())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{u.GuildID(), u.UserID()}
	current := s.entries[key]
	if current.version != u.Version() {
		return ErrVersionConflict
	}
	next := current.version + 1
	s.entries[key] = memoryEntry{data: data, version: next}
	u.MarkSaved(next)
	return nil
}

func (s *MemoryStore) FindMany(ctx context.Context, guildID snowflake.ID, match func(*models.User) bool) ([]*models.User, error) {
	s.mu.RLock()
	var entries []memoryEntry
	for key, entry := range s.entries {
		if key.guild == guildID {
			entries = append(entries, entry)
		}
	}
	s.mu.RUnlock()

	var out []*models.User
	for _, entry := range entries {
		u, err := decode(entry)
		if err != nil {
			return nil, err
		}
		if match == nil || match(u) {
			out = append(out, u)
		}
	}
	return out, nil
}

func decode(entry memoryEntry) (*models.User, error) {
	var doc models.UserDocument
	if err := json.Unmarshal(entry.data, &doc); err != nil {
		return nil, err
	}
	return models.UserFromDocument(doc, entry.version), nil
}
