package credential

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"jobinbox/pkg/logger"
)

// FallbackStore 先查持久化存储，再查内存。写入时两边都写。
type FallbackStore struct {
	durable Store
	memory  *MemoryStore
	logger  *zap.Logger
}

// NewFallbackStore durable 可为 nil（未配置数据库）。
func NewFallbackStore(durable Store, memory *MemoryStore, logger *zap.Logger) *FallbackStore {
	return &FallbackStore{durable: durable, memory: memory, logger: logger}
}

func (s *FallbackStore) Get(ctx context.Context, owner string) (*Credential, error) {
	if s.durable != nil {
		c, err := s.durable.Get(ctx, owner)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			logger.WithTrace(ctx, s.logger).Warn("Durable credential lookup failed, trying memory",
				zap.String("owner", owner),
				zap.Error(err),
			)
		}
	}
	return s.memory.Get(ctx, owner)
}

func (s *FallbackStore) Put(ctx context.Context, c Credential) error {
	_ = s.memory.Put(ctx, c)
	if s.durable == nil {
		return nil
	}
	if err := s.durable.Put(ctx, c); err != nil {
		logger.WithTrace(ctx, s.logger).Warn("Durable credential write failed, kept in memory",
			zap.String("owner", c.Owner),
			zap.Error(err),
		)
	}
	return nil
}

// PutProfile 与 Put 相同，持久化存储支持时同时写入用户资料
func (s *FallbackStore) PutProfile(ctx context.Context, c Credential, name, picture string) error {
	pg, ok := s.durable.(*PostgresStore)
	if !ok {
		return s.Put(ctx, c)
	}
	_ = s.memory.Put(ctx, c)
	if err := pg.PutProfile(ctx, c, name, picture); err != nil {
		logger.WithTrace(ctx, s.logger).Warn("Durable credential write failed, kept in memory",
			zap.String("owner", c.Owner),
			zap.Error(err),
		)
	}
	return nil
}
