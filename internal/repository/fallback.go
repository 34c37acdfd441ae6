package repository

import (
	"context"

	"jobinbox/contracts/db"
	"jobinbox/internal/taxonomy"
)

// FallbackStore 优先使用持久化存储，未配置时退回到内存存储。
// Available 只反映持久化存储是否可用。
type FallbackStore struct {
	durable   CategorizationStore
	ephemeral CategorizationStore
}

func NewFallbackStore(durable, ephemeral CategorizationStore) *FallbackStore {
	return &FallbackStore{durable: durable, ephemeral: ephemeral}
}

func (s *FallbackStore) active() CategorizationStore {
	if s.durable != nil && s.durable.Available() {
		return s.durable
	}
	return s.ephemeral
}

func (s *FallbackStore) Available() bool {
	return s.durable != nil && s.durable.Available()
}

func (s *FallbackStore) Upsert(ctx context.Context, a db.Assignment) *db.Assignment {
	return s.active().Upsert(ctx, a)
}

func (s *FallbackStore) MergeGet(ctx context.Context, ids []string, owner string) map[string]db.Assignment {
	return s.active().MergeGet(ctx, ids, owner)
}

func (s *FallbackStore) SetCategory(ctx context.Context, id, owner string, category taxonomy.Category) *db.Assignment {
	return s.active().SetCategory(ctx, id, owner, category)
}

func (s *FallbackStore) ToggleActionComplete(ctx context.Context, id, owner string) *bool {
	return s.active().ToggleActionComplete(ctx, id, owner)
}

func (s *FallbackStore) ListCategorized(ctx context.Context, owner string, opts ListOptions) []db.Assignment {
	return s.active().ListCategorized(ctx, owner, opts)
}

func (s *FallbackStore) CompletedActions(ctx context.Context, owner string) map[string]bool {
	return s.active().CompletedActions(ctx, owner)
}
