// Package catalog serves the admin-authored task and achievement definitions as
// immutable snapshots shared by every request.
package catalog

import (
	"context"
	"sync"
	"time"

	"onehunt_rewards/internal/model"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Snapshot is read-only after construction.
type Snapshot struct {
	tasks        map[uuid.UUID]*model.Task
	achievements []*model.Achievement
	loadedAt     time.Time
}

func NewSnapshot(tasks []*model.Task, achievements []*model.Achievement, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		tasks:    make(map[uuid.UUID]*model.Task, len(tasks)),
		loadedAt: loadedAt,
	}
	for _, t := range tasks {
		c := *t
		s.tasks[t.TaskID] = &c
	}
	for _, a := range achievements {
		if !a.IsActive {
			continue
		}
		c := *a
		s.achievements = append(s.achievements, &c)
	}
	return s
}

// Task returns a copy of the task definition.
func (s *Snapshot) Task(id uuid.UUID) (model.Task, bool) {
	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return *t, true
}

// Achievements returns the active achievement definitions.
func (s *Snapshot) Achievements() []model.Achievement {
	out := make([]model.Achievement, len(s.achievements))
	for i, a := range s.achievements {
		out[i] = *a
	}
	return out
}

func (s *Snapshot) TaskCount() int { return len(s.tasks) }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

type Source interface {
	LoadCatalog(ctx context.Context) (*Snapshot, error)
}

// Cache keeps the last snapshot and reloads it from the source once it is older
// than the refresh interval. Concurrent reloads share one source call.
type Cache struct {
	source  Source
	refresh time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	snapshot *Snapshot
	group    singleflight.Group
}

func NewCache(source Source, refresh time.Duration) *Cache {
	return &Cache{
		source:  source,
		refresh: refresh,
		now:     time.Now,
	}
}

func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	c.mu.RLock()
	s := c.snapshot
	c.mu.RUnlock()

	if s != nil && (c.refresh <= 0 || c.now().Sub(s.LoadedAt()) < c.refresh) {
		return s, nil
	}

	v, err, _ := c.group.Do("catalog", func() (interface{}, error) {
		c.mu.RLock()
		cur := c.snapshot
		c.mu.RUnlock()
		if cur != nil && cur != s {
			return cur, nil
		}

		// shared by every waiter, so one caller cancelling must not fail the rest
		fresh, err := c.source.LoadCatalog(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.snapshot = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		if s != nil {
			// keep serving the previous snapshot until a reload succeeds
			return s, nil
		}
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate forces the next Snapshot call to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

// Static is a Source that always returns the same snapshot.
type Static struct {
	Tasks        []*model.Task
	Achievements []*model.Achievement
}

func (s Static) LoadCatalog(context.Context) (*Snapshot, error) {
	return NewSnapshot(s.Tasks, s.Achievements, time.Now()), nil
}
