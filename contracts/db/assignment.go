package db

import (
	"time"

	"jobinbox/internal/taxonomy"
)

// Assignment 表示 emails 表的一行：某个用户邮箱中一封邮件的分类结果。
// 主键为 (MessageID, Owner)。指针字段为 nil 表示"未知"，upsert 时不会覆盖已有值。
type Assignment struct {
	MessageID        string             `json:"id"`
	Owner            string             `json:"owner"`
	ThreadID         string             `json:"threadId,omitempty"`
	Sender           string             `json:"from,omitempty"`
	Subject          string             `json:"subject,omitempty"`
	Snippet          string             `json:"snippet,omitempty"`
	ReceivedAt       time.Time          `json:"date,omitempty"`
	Category         *taxonomy.Category `json:"category"`
	Confidence       *float64           `json:"confidence"`
	Company          *string            `json:"company"`
	ActionNeeded     *string            `json:"actionNeeded"`
	RelevanceScore   *int               `json:"relevanceScore"`
	IsActionComplete bool               `json:"isActionComplete"`
	Manual           bool               `json:"manual,omitempty"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// Categorized 是否已有分类
func (a Assignment) Categorized() bool {
	return a.Category != nil
}
