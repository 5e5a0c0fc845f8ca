package tts

import "sync"

// Cache memoizes synthesized audio by exact text, shared across calls so
// repeated prompts are rendered once. Entries are write-once: the first
// audio stored for a text wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string][]byte)}
}

// Get returns the cached audio for text, if any.
func (c *Cache) Get(text string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	audio, ok := c.entries[text]
	return audio, ok
}

// Put stores audio for text unless an entry already exists. Empty audio is
// not cached so a failed synthesis can be retried later.
func (c *Cache) Put(text string, audio []byte) {
	if len(audio) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[text]; exists {
		return
	}
	c.entries[text] = audio
}

// Len reports the number of cached texts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
