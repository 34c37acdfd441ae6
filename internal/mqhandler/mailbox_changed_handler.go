package mqhandler

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	mqcontracts "jobinbox/contracts/mq"
	"jobinbox/internal/watcher"
	"jobinbox/pkg/trace"
)

// NotificationHandler 处理一条变更通知
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n watcher.ChangeNotification) watcher.Outcome
}

// MailboxChangedHandler 消费 mailbox.changed 事件。
// 消息在处理前已 ack，这里的错误只记录日志。
type MailboxChangedHandler struct {
	watcher NotificationHandler
	logger  *zap.Logger
}

func NewMailboxChangedHandler(w NotificationHandler, logger *zap.Logger) *MailboxChangedHandler {
	return &MailboxChangedHandler{
		watcher: w,
		logger:  logger,
	}
}

func (h *MailboxChangedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.MailboxChangedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal MailboxChangedPayload", zap.Error(err))
		return nil
	}
	if p.EmailAddress == "" {
		h.logger.Warn("Dropping mailbox.changed without emailAddress", zap.String("history_id", p.HistoryID))
		return nil
	}
	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}

	h.logger.Info("Handling mailbox.changed event",
		zap.String("owner", p.EmailAddress),
		zap.String("history_id", p.HistoryID),
	)
	h.watcher.HandleNotification(ctx, watcher.ChangeNotification{
		EmailAddress: p.EmailAddress,
		HistoryID:    p.HistoryID,
	})
	return nil
}
