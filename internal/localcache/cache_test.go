package localcache

import (
	"path/filepath"
	"testing"
)

func TestMemoryCacheGetSetDelete(t *testing.T) {
	c := newMemoryCache()
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("k", "v")
	v, ok := c.Get("k")
	if !ok || v != "v" {
		t.Fatalf("got (%q, %v), want (\"v\", true)", v, ok)
	}
	c.Delete("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss after delete")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestBboltCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := newBboltCache(filepath.Join(dir, "cache.db"), nil)
	if err != nil {
		t.Fatalf("newBboltCache: %v", err)
	}
	defer c.Close()

	c.Set("hash1", `{"tier":"S2"}`)
	v, ok := c.Get("hash1")
	if !ok || v != `{"tier":"S2"}` {
		t.Fatalf("got (%q, %v)", v, ok)
	}

	c.Delete("hash1")
	if _, ok := c.Get("hash1"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestBboltCachePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")

	c1, err := newBboltCache(path, nil)
	if err != nil {
		t.Fatalf("newBboltCache: %v", err)
	}
	c1.Set("hash1", "value1")
	c1.Close()

	c2, err := newBboltCache(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	v, ok := c2.Get("hash1")
	if !ok || v != "value1" {
		t.Fatalf("got (%q, %v)", v, ok)
	}
}

func TestNewInMemoryWithoutS3FIFO(t *testing.T) {
	c, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.(*memoryCache); !ok {
		t.Fatalf("expected *memoryCache, got %T", c)
	}
}

func TestNewBboltWithS3FIFO(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Path: filepath.Join(dir, "cache.db"), Capacity: 16}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if _, ok := c.(*s3fifoCache); !ok {
		t.Fatalf("expected *s3fifoCache, got %T", c)
	}
	c.Set("a", "1")
	v, ok := c.Get("a")
	if !ok || v != "1" {
		t.Fatalf("got (%q, %v)", v, ok)
	}
}
