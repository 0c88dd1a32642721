package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/disgoorg/snowflake/v2"
	bolt "go.etcd.io/bbolt"

	"guildwarden/internal/ledger"
	"guildwarden/internal/models"
)

// BucketUsers stores member records keyed by "guildID:userID"
var BucketUsers = []byte("moderation_users")

type boltRecord struct {
	Version  int64               `json:"version"`
	Document models.UserDocument `json:"document"`
}

// BoltStore is an embedded, single-file implementation of ledger.Store.
type BoltStore struct {
	db *bolt.DB
}

var _ ledger.Store = (*BoltStore)(nil)

// OpenBolt creates or opens the database file at path.
func OpenBolt(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(BucketUsers)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket %s: %w", BucketUsers, err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func userKey(guildID, userID snowflake.ID) []byte {
	return []byte(guildID.String() + ":" + userID.String())
}

func (s *BoltStore) Get(ctx context.Context, guildID, userID snowflake.ID) (*models.User, error) {
	var u *models.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketUsers).Get(userKey(guildID, userID))
		if data == nil {
			u = models.NewUser(guildID, userID)
			return nil
		}
		var err error
		u, err = decodeBolt(data)
		return err
	})
	return u, err
}

func (s *BoltStore) Save(ctx context.Context, u *models.User) error {
	next := u.Version() + 1
	data, err := json.Marshal(boltRecord{Version: next, Document: u.Document()})
	if err != nil {
		return fmt.Errorf("encode user document: %w", err)
	}

	key := userKey(u.GuildID(), u.UserID())
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketUsers)

		var current int64
		if existing := b.Get(key); existing != nil {
			var rec boltRecord
			if err := json.Unmarshal(existing, &rec); err != nil {
				return err
			}
			current = rec.Version
		}
		if current != u.Version() {
			return ledger.ErrVersionConflict
		}
		return b.Put(key, data)
	})
	if err != nil {
		return err
	}
	u.MarkSaved(next)
	return nil
}

func (s *BoltStore) FindMany(ctx context.Context, guildID snowflake.ID, match func(*models.User) bool) ([]*models.User, error) {
	prefix := []byte(guildID.String() + ":")

	var out []*models.User
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(BucketUsers).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			u, err := decodeBolt(v)
			if err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			if match == nil || match(u) {
				out = append(out, u)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeBolt(data []byte) (*models.User, error) {
	var rec boltRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return models.UserFromDocument(rec.Document, rec.Version), nil
}
