package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

// memoryEntry is the value stored in Memory's linked-list elements.
type memoryEntry struct {
	key         string
	response    contract.UnifiedResponse
	expiresAt   time.Time
	accessCount int64
}

// Memory is a thread-safe, bounded L1 cache with a selectable eviction
// policy. LRU and LFU maintain the eviction list in the order their policy
// cares about (recency or frequency); TTL evicts purely by nearest expiry
// regardless of access pattern.
type Memory struct {
	mu       sync.Mutex
	capacity int
	policy   Policy
	ttl      time.Duration

	items     map[string]*list.Element
	evictList *list.List // LRU: back is evicted; TTL: front (nearest expiry) is evicted; LFU: scanned

	evictions   atomic.Int64
	expirations atomic.Int64
}

// NewMemory creates an L1 cache bounded to capacity entries, evicting per
// policy, with the given default TTL.
func NewMemory(capacity int, policy Policy, ttl time.Duration) *Memory {
	return &Memory{
		capacity:  capacity,
		policy:    policy,
		ttl:       ttl,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the cached response for key, or false if missing or expired.
// A hit promotes the entry's recency (LRU) or bumps its access count (LFU).
func (m *Memory) Get(key string) (*contract.UnifiedResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		m.removeElement(elem)
		m.expirations.Add(1)
		return nil, false
	}

	entry.accessCount++
	switch m.policy {
	case PolicyLRU:
		m.evictList.MoveToFront(elem)
	case PolicyLFU:
		m.reorderForLFU(elem)
	case PolicyTTL:
		// no reordering: eviction is purely by expiry
	}

	respCopy := entry.response
	return &respCopy, true
}

// Set stores resp under key with the given ttl, evicting per policy if the
// cache is at capacity.
func (m *Memory) Set(key string, resp *contract.UnifiedResponse, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		ttl = m.ttl
	}

	if elem, ok := m.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.response = *resp
		entry.expiresAt = time.Now().Add(ttl)
		if m.policy == PolicyLRU {
			m.evictList.MoveToFront(elem)
		}
		return
	}

	if m.evictList.Len() >= m.capacity {
		m.evictOne()
	}

	entry := &memoryEntry{key: key, response: *resp, expiresAt: time.Now().Add(ttl)}
	var elem *list.Element
	if m.policy == PolicyTTL {
		elem = m.insertByExpiry(entry)
	} else {
		elem = m.evictList.PushFront(entry)
	}
	m.items[key] = elem
}

// Delete removes key from the cache, if present.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.removeElement(elem)
	}
}

// Len returns the number of entries currently stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// InvalidatePrefix removes every key with the given prefix.
func (m *Memory) InvalidatePrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, elem := range m.items {
		if strings.HasPrefix(key, prefix) {
			m.removeElement(elem)
		}
	}
}

// Clear removes all entries.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.evictList.Init()
}

// evictOne removes one entry per the configured policy. Must be called
// with m.mu held.
func (m *Memory) evictOne() {
	var elem *list.Element
	switch m.policy {
	case PolicyLRU:
		elem = m.evictList.Back() // least-recently-used is at the back
	case PolicyLFU:
		elem = m.leastFrequentElement()
	case PolicyTTL:
		elem = m.evictList.Front() // nearest-to-expire is kept at the front
	}
	if elem == nil {
		return
	}
	m.removeElement(elem)
	m.evictions.Add(1)
}

// reorderForLFU moves elem toward the front past every neighbour whose
// access count is not higher, so more frequently used entries sit nearer
// the front. New entries are pushed to the front with a count of zero, so
// the list is not strictly ordered; evictOne picks the LFU victim with
// leastFrequentElement's full scan. Must be called with m.mu held.
func (m *Memory) reorderForLFU(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	for prev := elem.Prev(); prev != nil; prev = elem.Prev() {
		if prev.Value.(*memoryEntry).accessCount > entry.accessCount {
			break
		}
		m.evictList.MoveBefore(elem, prev)
	}
}

// leastFrequentElement returns the element with the smallest access count.
// Must be called with m.mu held.
func (m *Memory) leastFrequentElement() *list.Element {
	var best *list.Element
	for e := m.evictList.Front(); e != nil; e = e.Next() {
		if best == nil || e.Value.(*memoryEntry).accessCount < best.Value.(*memoryEntry).accessCount {
			best = e
		}
	}
	return best
}

// insertByExpiry inserts entry keeping the list sorted ascending by
// expiresAt (front = nearest expiry). Must be called with m.mu held.
func (m *Memory) insertByExpiry(entry *memoryEntry) *list.Element {
	for e := m.evictList.Front(); e != nil; e = e.Next() {
		if e.Value.(*memoryEntry).expiresAt.After(entry.expiresAt) {
			return m.evictList.InsertBefore(entry, e)
		}
	}
	return m.evictList.PushBack(entry)
}

// removeElement must be called with m.mu held.
func (m *Memory) removeElement(elem *list.Element) {
	m.evictList.Remove(elem)
	entry := elem.Value.(*memoryEntry)
	delete(m.items, entry.key)
}
