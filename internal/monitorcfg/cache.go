package monitorcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Cache holds the decoded JSON file and the modification time it was read
// at. Get re-reads the file only when its mtime or size changed.
type Cache struct {
	path string

	mu     sync.Mutex
	doc    Document
	mtime  time.Time
	size   int64
	loaded bool
}

func NewCache(path string) *Cache {
	return &Cache{path: path}
}

func (c *Cache) Path() string {
	return c.path
}

// Get returns a copy of the cached document, or nil when the file does not
// exist.
func (c *Cache) Get() (Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if errors.Is(err, os.ErrNotExist) {
		c.doc, c.loaded = nil, false
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if c.loaded && info.ModTime().Equal(c.mtime) && info.Size() == c.size {
		return c.doc.Clone(), nil
	}

	doc, err := readDocument(c.path)
	if err != nil {
		return nil, err
	}
	c.doc = doc
	c.mtime = info.ModTime()
	c.size = info.Size()
	c.loaded = true
	return doc.Clone(), nil
}

// Invalidate forces the next Get to re-read the file.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc, c.loaded = nil, false
	c.mtime = time.Time{}
	c.size = 0
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}

func decodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if doc == nil {
		return nil, errors.New("parse json: top-level value must be an object")
	}
	return doc, nil
}
