package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

type banKey struct {
	kind  model.BanKind
	value string
}

// Memory is an in-memory BanStore. It mirrors SQLStore validation and
// ordering; timestamps are truncated to seconds like the SQLite column.
type Memory struct {
	mu   sync.RWMutex
	now  func() time.Time
	seq  int64
	bans map[banKey]memoryBan
}

type memoryBan struct {
	model.Ban
	seq int64
}

// NewMemory creates a Memory store using time.Now().UTC().
func NewMemory() *Memory {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a Memory store with a custom clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Memory{
		now:  now,
		bans: make(map[banKey]memoryBan),
	}
}

// Close is a no-op for Memory.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) CreateBan(_ context.Context, b model.Ban) error {
	if err := validateBan(b); err != nil {
		return fmt.Errorf("datastore: create ban: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := banKey{b.Kind, b.Value}
	if old, ok := m.bans[k]; ok {
		old.Reason, old.SetBy = b.Reason, b.SetBy
		m.bans[k] = old
		return nil
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now()
	}
	b.CreatedAt = b.CreatedAt.UTC().Truncate(time.Second)
	m.seq++
	m.bans[k] = memoryBan{Ban: b, seq: m.seq}
	return nil
}

func (m *Memory) DeleteBan(_ context.Context, kind model.BanKind, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := banKey{kind, value}
	if _, ok := m.bans[k]; !ok {
		return false, nil
	}
	delete(m.bans, k)
	return true, nil
}

func (m *Memory) ListBans(_ context.Context) ([]model.Ban, error) {
	m.mu.RLock()
	all := make([]memoryBan, 0, len(m.bans))
	for _, b := range m.bans {
		all = append(all, b)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].seq < all[j].seq
	})
	out := make([]model.Ban, len(all))
	for i, b := range all {
		out[i] = b.Ban
	}
	return out, nil
}
