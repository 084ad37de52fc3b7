package cache_test

import (
	"testing"
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("key1", "value1")
	val, ok := c.Get("key1")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "value1" {
		t.Errorf("expected 'value1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_LedgerSnapshot(t *testing.T) {
	c := cache.New[*domain.Ledger](5 * time.Minute)

	l := domain.NewLedger()
	l.Settings[domain.SettingUser1] = "Marco"
	c.Set("snapshot", l)

	got, ok := c.Get("snapshot")
	if !ok {
		t.Fatal("expected snapshot to exist")
	}
	if got.Settings[domain.SettingUser1] != "Marco" {
		t.Errorf("expected cached ledger, got '%s'", got.Settings[domain.SettingUser1])
	}
}
