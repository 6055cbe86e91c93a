package store

import (
	"context"
	"sync"
	"time"
)

// Memory keeps triplets in a map, records are lost on restart
type Memory struct {
	mu       sync.RWMutex
	triplets map[string]Triplet
}

// NewMemory creates an empty memory store
func NewMemory() *Memory {
	return &Memory{triplets: make(map[string]Triplet)}
}

func (m *Memory) Lookup(ctx context.Context, ip, sender, rcpt string) (Triplet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.triplets[key(ip, sender, rcpt)]
	return t, ok, nil
}

func (m *Memory) Insert(ctx context.Context, ip, sender, rcpt string, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(ip, sender, rcpt)
	if _, ok := m.triplets[k]; ok {
		return nil
	}
	m.triplets[k] = Triplet{IP: ip, Sender: sender, Recipient: rcpt, CreatedAt: at, Count: count}
	return nil
}

func (m *Memory) Update(ctx context.Context, ip, sender, rcpt string, count int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(ip, sender, rcpt)
	t, ok := m.triplets[k]
	if !ok {
		return nil
	}
	t.Count = count
	t.CreatedAt = at
	m.triplets[k] = t
	return nil
}

func (m *Memory) CleanupAutoWhitelist(ctx context.Context, before time.Time) error {
	m.cleanup(before, func(t Triplet) bool { return t.Count > 0 })
	return nil
}

func (m *Memory) CleanupUnseen(ctx context.Context, before time.Time) error {
	m.cleanup(before, func(t Triplet) bool { return t.Count == 0 })
	return nil
}

func (m *Memory) cleanup(before time.Time, match func(Triplet) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, t := range m.triplets {
		if match(t) && t.CreatedAt.Before(before) {
			delete(m.triplets, k)
		}
	}
}

// Len returns the number of stored triplets
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.triplets)
}

func (m *Memory) Close() error {
	return nil
}
