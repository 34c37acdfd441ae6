package mq

import "time"

// RoutingKeyMailboxChanged 邮箱变更通知的路由键
const RoutingKeyMailboxChanged = "mailbox.changed"

// QueueMailboxChanged 变更通知队列
const QueueMailboxChanged = "mailbox.changed.q"

// MailboxChangedPayload Gmail 推送的变更通知，经 /pubsub/push 转入 MQ
type MailboxChangedPayload struct {
	EmailAddress string    `json:"emailAddress"`
	HistoryID    string    `json:"historyId"`
	ReceivedAt   time.Time `json:"receivedAt"`
	TraceID      string    `json:"traceId,omitempty"`
}
