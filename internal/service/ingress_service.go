package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	mqcontracts "jobinbox/contracts/mq"
	"jobinbox/internal/watcher"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/metrics"
	"jobinbox/pkg/trace"
)

// PushEnvelope Pub/Sub push 请求体
type PushEnvelope struct {
	Message struct {
		Data        string    `json:"data"`
		MessageID   string    `json:"messageId"`
		PublishTime time.Time `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

type NotificationHandler interface {
	HandleNotification(ctx context.Context, n watcher.ChangeNotification) watcher.Outcome
}

// IngressService hands push notifications to the queue, or to the watcher
// in the background when no queue is configured or publishing fails.
type IngressService struct {
	publisher Publisher
	watcher   NotificationHandler
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewIngressService publisher 可为 nil
func NewIngressService(publisher Publisher, w NotificationHandler, logger *zap.Logger) *IngressService {
	return &IngressService{
		publisher: publisher,
		watcher:   w,
		logger:    logger,
	}
}

// DecodeEnvelope extracts the change notification carried in the push body.
func DecodeEnvelope(env PushEnvelope) (watcher.ChangeNotification, error) {
	if env.Message.Data == "" {
		return watcher.ChangeNotification{}, fmt.Errorf("%w: empty message data", watcher.ErrMalformedNotification)
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		if data, err = base64.URLEncoding.DecodeString(env.Message.Data); err != nil {
			return watcher.ChangeNotification{}, fmt.Errorf("%w: %v", watcher.ErrMalformedNotification, err)
		}
	}
	return watcher.DecodeNotification(data)
}

// Accept never blocks on processing. Malformed envelopes are logged and
// dropped so the push is not redelivered.
func (s *IngressService) Accept(ctx context.Context, env PushEnvelope) {
	ctx, traceID := trace.Ensure(ctx)
	log := logger.WithTrace(ctx, s.logger).With(zap.String("pubsub_message_id", env.Message.MessageID))

	n, err := DecodeEnvelope(env)
	if err != nil {
		log.Warn("Dropping push notification", zap.Error(err))
		metrics.IncrementChangeNotification(watcher.ResultMalformed)
		return
	}

	if s.publisher != nil {
		err := s.publisher.Publish(ctx, mqcontracts.RoutingKeyMailboxChanged, mqcontracts.MailboxChangedPayload{
			EmailAddress: n.EmailAddress,
			HistoryID:    n.HistoryID,
			ReceivedAt:   time.Now(),
			TraceID:      traceID,
		})
		if err == nil {
			log.Debug("Change notification queued", zap.String("owner", n.EmailAddress))
			return
		}
		log.Warn("Publish failed, handling notification inline",
			zap.String("owner", n.EmailAddress),
			zap.Error(err),
		)
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watcher.HandleNotification(bg, n)
	}()
}

// Wait 等待后台处理结束，用于优雅退出
func (s *IngressService) Wait() {
	s.wg.Wait()
}
