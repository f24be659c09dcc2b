package cache

import (
	"testing"
	"time"

	"github.com/ferro-labs/videoforge/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resp(model string) *contract.UnifiedResponse {
	return &contract.UnifiedResponse{Model: model, Status: contract.StatusSuccess, Result: map[string]any{"ok": true}}
}

func TestMemory_GetSet_Roundtrip(t *testing.T) {
	m := NewMemory(10, PolicyLRU, time.Minute)
	m.Set("a", resp("x"), 0)

	got, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "x", got.Model)
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory(10, PolicyLRU, time.Minute)
	_, ok := m.Get("missing")
	assert.False(t, ok)
}

func TestMemory_Expiration(t *testing.T) {
	m := NewMemory(10, PolicyLRU, time.Millisecond)
	m.Set("a", resp("x"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), m.expirations.Load())
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(2, PolicyLRU, time.Minute)
	m.Set("a", resp("a"), 0)
	m.Set("b", resp("b"), 0)
	m.Get("a") // a is now most-recently-used
	m.Set("c", resp("c"), 0)

	_, aOK := m.Get("a")
	_, bOK := m.Get("b")
	_, cOK := m.Get("c")
	assert.True(t, aOK)
	assert.False(t, bOK, "b should be evicted as least-recently-used")
	assert.True(t, cOK)
	assert.Equal(t, int64(1), m.evictions.Load())
}

func TestMemory_LFUEviction(t *testing.T) {
	m := NewMemory(2, PolicyLFU, time.Minute)
	m.Set("a", resp("a"), 0)
	m.Set("b", resp("b"), 0)
	m.Get("a")
	m.Get("a") // a accessed twice, b never re-accessed
	m.Set("c", resp("c"), 0)

	_, aOK := m.Get("a")
	_, bOK := m.Get("b")
	assert.True(t, aOK)
	assert.False(t, bOK, "b should be evicted as least-frequently-used")
}

func TestMemory_TTLEvictionPrefersNearestExpiry(t *testing.T) {
	m := NewMemory(2, PolicyTTL, time.Minute)
	m.Set("soon", resp("soon"), time.Millisecond)
	m.Set("later", resp("later"), time.Hour)
	m.Set("newest", resp("newest"), time.Hour)

	_, soonOK := m.Get("soon")
	_, laterOK := m.Get("later")
	assert.False(t, soonOK, "nearest-to-expire entry should be evicted first")
	assert.True(t, laterOK)
}

func TestMemory_InvalidatePrefix(t *testing.T) {
	m := NewMemory(10, PolicyLRU, time.Minute)
	m.Set("veo:model-a:1:2", resp("a"), 0)
	m.Set("veo:model-b:1:2", resp("b"), 0)
	m.Set("sora:model-c:1:2", resp("c"), 0)

	m.InvalidatePrefix("veo:")

	_, aOK := m.Get("veo:model-a:1:2")
	_, bOK := m.Get("veo:model-b:1:2")
	_, cOK := m.Get("sora:model-c:1:2")
	assert.False(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory(10, PolicyLRU, time.Minute)
	m.Set("a", resp("a"), 0)
	m.Delete("a")
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory(10, PolicyLRU, time.Minute)
	m.Set("a", resp("a"), 0)
	m.Set("b", resp("b"), 0)
	m.Clear()
	assert.Equal(t, 0, m.Len())
}
