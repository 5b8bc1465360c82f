package collector

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache is the TTL-gated response cache:
// {cache_dir}/{md5_of_args}.json, gated on file mtime vs cache_ttl_hours.
type Cache struct {
	dir string
}

// NewCache builds a Cache rooted at dir, creating it if absent.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir}, nil
}

// Key derives the md5-of-args cache filename for a given source and its
// call arguments (source name plus fetch params, in the order the
// caller supplies them).
func Key(source string, args ...string) string {
	h := md5.New()
	h.Write([]byte(source))
	for _, a := range args {
		h.Write([]byte{0})
		h.Write([]byte(a))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the cached payload for key if present and younger than
// ttlHours, else ok=false.
func (c *Cache) Get(key string, ttlHours float64) (data []byte, ok bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > time.Duration(ttlHours*float64(time.Hour)) {
		return nil, false
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return b, true
}

// GetJSON is Get plus an UnmarshalJSON into out.
func (c *Cache) GetJSON(key string, ttlHours float64, out interface{}) bool {
	b, ok := c.Get(key, ttlHours)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false
	}
	return true
}

// Set writes data to the cache file for key, overwriting any prior entry.
func (c *Cache) Set(key string, data []byte) error {
	return os.WriteFile(c.path(key), data, 0o644)
}

// SetJSON marshals v and writes it to the cache file for key.
func (c *Cache) SetJSON(key string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return c.Set(key, b)
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}
