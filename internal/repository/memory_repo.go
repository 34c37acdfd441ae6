package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobinbox/contracts/db"
	"jobinbox/internal/taxonomy"
)

type assignmentKey struct {
	id    string
	owner string
}

// MemoryCategorizationRepository 进程内的 CategorizationStore，数据库不可用时使用。
// 重启后数据丢失。
type MemoryCategorizationRepository struct {
	mu      sync.RWMutex
	records map[assignmentKey]db.Assignment
	now     func() time.Time
}

func NewMemoryCategorizationRepository() *MemoryCategorizationRepository {
	return &MemoryCategorizationRepository{
		records: make(map[assignmentKey]db.Assignment),
		now:     time.Now,
	}
}

func (r *MemoryCategorizationRepository) Available() bool { return true }

func (r *MemoryCategorizationRepository) Upsert(_ context.Context, a db.Assignment) *db.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assignmentKey{a.MessageID, a.Owner}
	var existing *db.Assignment
	if cur, ok := r.records[key]; ok {
		existing = &cur
	}
	merged := Merge(existing, a, r.now())
	r.records[key] = merged
	return &merged
}

func (r *MemoryCategorizationRepository) MergeGet(_ context.Context, ids []string, owner string) map[string]db.Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]db.Assignment, len(ids))
	for _, id := range ids {
		if a, ok := r.records[assignmentKey{id, owner}]; ok {
			out[id] = a
		}
	}
	return out
}

func (r *MemoryCategorizationRepository) SetCategory(_ context.Context, id, owner string, category taxonomy.Category) *db.Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assignmentKey{id, owner}
	var existing *db.Assignment
	if cur, ok := r.records[key]; ok {
		existing = &cur
	}
	updated := ManualOverride(existing, id, owner, category, r.now())
	r.records[key] = updated
	return &updated
}

func (r *MemoryCategorizationRepository) ToggleActionComplete(_ context.Context, id, owner string) *bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := assignmentKey{id, owner}
	a, ok := r.records[key]
	if !ok {
		return nil
	}
	a.IsActionComplete = !a.IsActionComplete
	a.UpdatedAt = r.now()
	r.records[key] = a
	complete := a.IsActionComplete
	return &complete
}

func (r *MemoryCategorizationRepository) ListCategorized(_ context.Context, owner string, opts ListOptions) []db.Assignment {
	r.mu.RLock()
	out := []db.Assignment{}
	for key, a := range r.records {
		if key.owner != owner || a.Category == nil {
			continue
		}
		if opts.Category != nil && *a.Category != *opts.Category {
			continue
		}
		out = append(out, a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit := opts.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *MemoryCategorizationRepository) CompletedActions(_ context.Context, owner string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool)
	for key, a := range r.records {
		if key.owner == owner && a.IsActionComplete {
			out[key.id] = true
		}
	}
	return out
}
