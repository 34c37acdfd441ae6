// Package mailbox reads messages from the owner's Gmail account and manages
// the provider-side change watch.
package mailbox

import (
	"context"
	"errors"
	"time"

	"jobinbox/internal/credential"
)

// Format 获取邮件时的详细程度
type Format string

const (
	FormatMetadata Format = "metadata"
	FormatFull     Format = "full"
)

const InboxLabel = "INBOX"

var ErrNoTopic = errors.New("change watch topic not configured")

// MessageRef 列表接口返回的邮件引用
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Message 邮件内容。Body 仅在 FormatFull 时填充。
type Message struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	Owner    string   `json:"-"`
	Sender   string   `json:"from"`
	To       string   `json:"to,omitempty"`
	Subject  string   `json:"subject"`
	Snippet  string   `json:"snippet"`
	Body     string   `json:"body,omitempty"`
	Date     string   `json:"date"`
	Labels   []string `json:"labelIds,omitempty"`
}

// ReceivedAt parses the Date header, zero when unparseable.
func (m Message) ReceivedAt() time.Time {
	return ParseDate(m.Date)
}

// WatchHandle 变更订阅的结果
type WatchHandle struct {
	HistoryID  uint64    `json:"historyId"`
	Expiration time.Time `json:"expiration"`
}

// Page 一页邮件引用
type Page struct {
	Refs          []MessageRef
	NextPageToken string
}

// Provider 邮箱提供方
type Provider interface {
	ListRecentMessages(ctx context.Context, cred credential.Credential, max int) ([]MessageRef, error)
	ListPage(ctx context.Context, cred credential.Credential, max int, pageToken string) (*Page, error)
	GetMessage(ctx context.Context, cred credential.Credential, id string, format Format) (*Message, error)
	FetchRecent(ctx context.Context, cred credential.Credential, max int) ([]Message, error)
	FetchRefs(ctx context.Context, cred credential.Credential, refs []MessageRef) ([]Message, error)
	RegisterChangeWatch(ctx context.Context, cred credential.Credential, topic string) (*WatchHandle, error)
	Profile(ctx context.Context, cred credential.Credential) (string, error)
}
