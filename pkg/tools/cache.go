package tools

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

const (
	// DefaultCacheTTL bounds how long a cached model response stays fresh.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultCacheMaxSize bounds how many responses are retained.
	DefaultCacheMaxSize = 128
)

// CacheKey identifies one cacheable model call. Identical keys yield
// identical responses within the TTL.
type CacheKey struct {
	AgentName       string `json:"agent_name"`
	Model           string `json:"model"`
	TemplateVersion string `json:"template_version"`
	PromptHash      string `json:"prompt_hash"`
	DebateRound     int    `json:"debate_round"`
	EnableWebsearch bool   `json:"enable_websearch"`
}

// Hash returns the sha256 of the key's canonical JSON form.
func (k CacheKey) Hash() string {
	data, _ := json.Marshal(k)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PromptHash fingerprints prompt text for cache keying.
func PromptHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	key       string
	value     map[string]any
	expiresAt time.Time
}

// Cache is an in-process TTL+LRU cache for tool responses. Values are
// deep-copied on both store and load so callers can't mutate cached state.
type Cache struct {
	ttl     time.Duration
	maxSize int

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

// NewCache builds a cache; non-positive arguments fall back to defaults.
func NewCache(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	return &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		ll:      list.New(),
		items:   make(map[string]*list.Element),
	}
}

// Get returns the cached value for key, or false when absent or expired.
func (c *Cache) Get(key string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return deepCopy(entry.value), true
}

// Set stores value under key, evicting the least recently used entry when
// full.
func (c *Cache) Set(key string, value map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := deepCopy(value)
	now := time.Now()

	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = stored
		entry.expiresAt = now.Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheEntry{
		key:       key,
		value:     stored,
		expiresAt: now.Add(c.ttl),
	})
	c.items[key] = el

	for c.ll.Len() > c.maxSize {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of live entries, expired ones included until
// their next Get.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func deepCopy(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
