// Package bucketing maps ids onto fixed partition buckets with murmur3.
// Users and events hash into separate bucket spaces sized from config.
package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"estate-auth/internal/config"
)

type Manager struct {
	userBuckets  uint32
	eventBuckets uint32
	hasherPool   sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		userBuckets:  uint32(cfg.Bucketing.UserBuckets),
		eventBuckets: uint32(cfg.Bucketing.EventBuckets),
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New32()
			},
		},
	}
}

// GetUserBucket returns the partition bucket for a user id.
func (m *Manager) GetUserBucket(userID string) int {
	return int(m.sum(userID) % m.userBuckets)
}

// GetEventBucket returns the partition bucket for an event id.
func (m *Manager) GetEventBucket(eventID string) int {
	return int(m.sum(eventID) % m.eventBuckets)
}

func (m *Manager) sum(id string) uint32 {
	h := m.hasherPool.Get().(hash.Hash32)
	h.Reset()
	_, _ = h.Write([]byte(id))
	sum := h.Sum32()
	m.hasherPool.Put(h)
	return sum
}
