package settings

import (
	"context"
	"sync"
)

// Memory is an in-process Store. The zero value is not usable; call
// NewMemory.
type Memory struct {
	mu   sync.Mutex
	data map[Tier]map[string]string
	subs subscribers
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{data: map[Tier]map[string]string{
		Synced: {},
		Local:  {},
	}}
}

func (m *Memory) Get(_ context.Context, tier Tier, keys ...string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.data[tier][k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) Set(_ context.Context, tier Tier, values map[string]string) error {
	m.mu.Lock()
	bucket := m.bucket(tier)
	deltas := make(map[string]Delta, len(values))
	for k, v := range values {
		old, had := bucket[k]
		bucket[k] = v
		if !had || old != v {
			deltas[k] = Delta{Old: old, New: v}
		}
	}
	fns := m.subs.snapshot()
	m.mu.Unlock()

	notify(fns, Change{Tier: tier, Deltas: deltas})
	return nil
}

func (m *Memory) Remove(_ context.Context, tier Tier, keys ...string) error {
	m.mu.Lock()
	bucket := m.bucket(tier)
	deltas := make(map[string]Delta, len(keys))
	for _, k := range keys {
		if old, had := bucket[k]; had {
			delete(bucket, k)
			deltas[k] = Delta{Old: old, Deleted: true}
		}
	}
	fns := m.subs.snapshot()
	m.mu.Unlock()

	notify(fns, Change{Tier: tier, Deltas: deltas})
	return nil
}

func (m *Memory) Subscribe(fn func(Change)) func() {
	m.mu.Lock()
	id := m.subs.add(fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs.fns, id)
		m.mu.Unlock()
	}
}

func (m *Memory) bucket(tier Tier) map[string]string {
	b, ok := m.data[tier]
	if !ok {
		b = make(map[string]string)
		m.data[tier] = b
	}
	return b
}

func notify(fns []func(Change), c Change) {
	if len(c.Deltas) == 0 {
		return
	}
	for _, fn := range fns {
		fn(c)
	}
}
