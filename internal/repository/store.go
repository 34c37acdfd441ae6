package repository

import (
	"context"
	"time"

	"jobinbox/contracts/db"
	"jobinbox/internal/taxonomy"
)

// DefaultListLimit 是 ListCategorized 的默认条数上限
const DefaultListLimit = 100

// ListOptions 过滤已分类邮件
type ListOptions struct {
	Category *taxonomy.Category
	Limit    int
}

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// CategorizationStore 持久化邮件分类。
// 后端不可用时所有方法返回 nil / 空结果，不向调用方返回错误。
type CategorizationStore interface {
	Upsert(ctx context.Context, a db.Assignment) *db.Assignment
	MergeGet(ctx context.Context, ids []string, owner string) map[string]db.Assignment
	SetCategory(ctx context.Context, id, owner string, category taxonomy.Category) *db.Assignment
	ToggleActionComplete(ctx context.Context, id, owner string) *bool
	ListCategorized(ctx context.Context, owner string, opts ListOptions) []db.Assignment
	CompletedActions(ctx context.Context, owner string) map[string]bool
	Available() bool
}

// Merge applies an incoming upsert to an existing record. Non-nil incoming
// classification fields win; nil ones keep the stored value. Message metadata
// already stored is kept. The action flag survives, and the manual flag
// survives unless a new category arrives.
func Merge(existing *db.Assignment, incoming db.Assignment, now time.Time) db.Assignment {
	if existing == nil {
		out := incoming
		out.UpdatedAt = now
		return out
	}

	out := *existing
	out.ThreadID = coalesceString(existing.ThreadID, incoming.ThreadID)
	out.Sender = coalesceString(existing.Sender, incoming.Sender)
	out.Subject = coalesceString(existing.Subject, incoming.Subject)
	out.Snippet = coalesceString(existing.Snippet, incoming.Snippet)
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = incoming.ReceivedAt
	}

	if incoming.Category != nil {
		out.Category = incoming.Category
		out.Manual = incoming.Manual
	}
	if incoming.Confidence != nil {
		out.Confidence = incoming.Confidence
	}
	if incoming.Company != nil {
		out.Company = incoming.Company
	}
	if incoming.ActionNeeded != nil {
		out.ActionNeeded = incoming.ActionNeeded
	}
	if incoming.RelevanceScore != nil {
		out.RelevanceScore = incoming.RelevanceScore
	}
	out.UpdatedAt = now
	return out
}

// ManualOverride 手动设置分类：置信度 1.0，其余字段不变
func ManualOverride(existing *db.Assignment, id, owner string, category taxonomy.Category, now time.Time) db.Assignment {
	var out db.Assignment
	if existing != nil {
		out = *existing
	} else {
		out = db.Assignment{MessageID: id, Owner: owner}
	}
	confidence := 1.0
	out.Category = &category
	out.Confidence = &confidence
	out.Manual = true
	out.UpdatedAt = now
	return out
}

func coalesceString(stored, incoming string) string {
	if stored != "" {
		return stored
	}
	return incoming
}
