package permission

import (
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/jonboulle/clockwork"
)

type cacheKey struct {
	guildID snowflake.ID
	userID  snowflake.ID
}

type cacheEntry struct {
	isModerator bool
	expiresAt   time.Time
}

// moderatorCache remembers, per guild and user, whether the user held the
// moderator role. Entries expire after ttl; expired entries are swept when
// the map grows past maxSize.
type moderatorCache struct {
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
	maxSize int
	clock   clockwork.Clock
	mu      sync.Mutex
}

func newModeratorCache(clk clockwork.Clock, ttl time.Duration, maxSize int) *moderatorCache {
	return &moderatorCache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clk,
	}
}

func (c *moderatorCache) Get(guildID, userID snowflake.ID) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{guildID, userID}
	entry, exists := c.entries[key]
	if !exists {
		return false, false
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return false, false
	}
	return entry.isModerator, true
}

func (c *moderatorCache) Add(guildID, userID snowflake.ID, isModerator bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey{guildID, userID}] = cacheEntry{
		isModerator: isModerator,
		expiresAt:   c.clock.Now().Add(c.ttl),
	}
	if len(c.entries) > c.maxSize {
		c.sweep()
	}
}

// sweep drops expired entries; if the map is still over the bound it is
// reset. Caller holds mu.
func (c *moderatorCache) sweep() {
	now := c.clock.Now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) > c.maxSize {
		c.entries = make(map[cacheKey]cacheEntry)
	}
}

func (c *moderatorCache) ClearGuild(guildID snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.guildID == guildID {
			delete(c.entries, key)
		}
	}
}

func (c *moderatorCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]cacheEntry)
}

func (c *moderatorCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
