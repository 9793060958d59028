// Package credential keeps the protocol library's auth material alive
// across process restarts: a local working directory the library reads and
// writes during a live session, mirrored into a durable store keyed per
// session so a fresh instance can rehydrate before its first handshake.
package credential

import (
	"fmt"
	"os"
	"path/filepath"
)

// Cache is the ephemeral working directory holding credential files for the
// current session.
type Cache struct {
	dir string
}

func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) Write(filename string, content []byte) error {
	if filepath.Base(filename) != filename {
		return fmt.Errorf("invalid credential filename %q", filename)
	}
	return os.WriteFile(filepath.Join(c.dir, filename), content, 0o600)
}

// ReadAll returns the full set of credential files currently in the cache.
func (c *Cache) ReadAll() (map[string][]byte, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read credential dir: %w", err)
	}

	files := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(c.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read credential file %s: %w", entry.Name(), err)
		}
		files[entry.Name()] = content
	}
	return files, nil
}

// Clear removes every credential file, returning how many were deleted.
func (c *Cache) Clear() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read credential dir: %w", err)
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return count, fmt.Errorf("remove credential file %s: %w", entry.Name(), err)
		}
		count++
	}
	return count, nil
}
