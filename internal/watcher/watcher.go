// Package watcher turns "mailbox changed" push notifications into
// categorized new-message events for the owner's live sessions.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"jobinbox/contracts/db"
	"jobinbox/contracts/ws"
	"jobinbox/internal/classifier"
	"jobinbox/internal/credential"
	"jobinbox/internal/mailbox"
	"jobinbox/internal/relevance"
	"jobinbox/internal/repository"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/metrics"
	"jobinbox/pkg/otel"
	"jobinbox/pkg/util"
)

const DefaultFetchLimit = 5

// 处理结果，用于日志和指标
const (
	ResultNotified      = "notified"
	ResultNothingNew    = "nothing_new"
	ResultDuplicate     = "duplicate"
	ResultNoCredentials = "no_credentials"
	ResultFetchFailed   = "fetch_failed"
	ResultMalformed     = "malformed"
)

var ErrMalformedNotification = errors.New("malformed change notification")

// ChangeNotification Gmail 推送的内容
type ChangeNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

// Fetcher 获取最近邮件
type Fetcher interface {
	FetchRecent(ctx context.Context, cred credential.Credential, max int) ([]mailbox.Message, error)
}

type Classifier interface {
	Classify(ctx context.Context, messages []classifier.Excerpt) []classifier.Result
}

// Deduper 记录已处理的变更标记和邮件
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, id string) bool
	Release(ctx context.Context, scope, id string)
}

type Notifier interface {
	Notify(ctx context.Context, owner string, payload any) int
}

// Outcome 描述一次通知的处理情况
type Outcome struct {
	Result      string
	Fetched     int
	New         int
	Categorized int
}

type Config struct {
	FetchLimit int
	Threshold  int
}

type Watcher struct {
	creds      credential.Store
	fetcher    Fetcher
	classifier Classifier
	store      repository.CategorizationStore
	notifier   Notifier
	deduper    Deduper
	cfg        Config
	logger     *zap.Logger
}

// New 创建 Watcher。deduper 可为 nil，此时每次都上报全部获取到的邮件。
func New(
	creds credential.Store,
	fetcher Fetcher,
	cls Classifier,
	store repository.CategorizationStore,
	notifier Notifier,
	deduper Deduper,
	cfg Config,
	logger *zap.Logger,
) *Watcher {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = relevance.Threshold
	}
	if deduper == nil {
		deduper = (*util.Deduper)(nil)
	}
	return &Watcher{
		creds:      creds,
		fetcher:    fetcher,
		classifier: cls,
		store:      store,
		notifier:   notifier,
		deduper:    deduper,
		cfg:        cfg,
		logger:     logger,
	}
}

// DecodeNotification parses the provider payload.
func DecodeNotification(data []byte) (ChangeNotification, error) {
	var raw struct {
		EmailAddress string      `json:"emailAddress"`
		HistoryID    json.Number `json:"historyId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ChangeNotification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if strings.TrimSpace(raw.EmailAddress) == "" {
		return ChangeNotification{}, fmt.Errorf("%w: missing emailAddress", ErrMalformedNotification)
	}
	return ChangeNotification{EmailAddress: raw.EmailAddress, HistoryID: raw.HistoryID.String()}, nil
}

// HandleRaw decodes and handles a notification. Malformed payloads are
// logged and dropped.
func (w *Watcher) HandleRaw(ctx context.Context, data []byte) Outcome {
	n, err := DecodeNotification(data)
	if err != nil {
		logger.WithTrace(ctx, w.logger).Warn("Dropping change notification", zap.Error(err))
		metrics.IncrementChangeNotification(ResultMalformed)
		return Outcome{Result: ResultMalformed}
	}
	return w.HandleNotification(ctx, n)
}

// HandleNotification runs fetch, score, classify, store and notify for one
// owner. Failures are logged and never returned.
func (w *Watcher) HandleNotification(ctx context.Context, n ChangeNotification) Outcome {
	ctx, span := otel.StartSpan(ctx, "watcher.notification")
	defer span.End()
	span.SetAttributes(
		attribute.String("mailbox.owner", n.EmailAddress),
		attribute.String("mailbox.history_id", n.HistoryID),
	)

	log := logger.WithTrace(ctx, w.logger).With(
		zap.String("owner", n.EmailAddress),
		zap.String("history_id", n.HistoryID),
	)
	out := w.handle(ctx, log, n)
	span.SetAttributes(attribute.String("watcher.result", out.Result))
	metrics.IncrementChangeNotification(out.Result)
	log.Info("Change notification handled",
		zap.String("result", out.Result),
		zap.Int("fetched", out.Fetched),
		zap.Int("new", out.New),
		zap.Int("categorized", out.Categorized),
	)
	return out
}

func (w *Watcher) handle(ctx context.Context, log *zap.Logger, n ChangeNotification) Outcome {
	owner := n.EmailAddress

	cred, err := w.creds.Get(ctx, owner)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			log.Warn("Credential lookup failed", zap.Error(err))
		}
		return Outcome{Result: ResultNoCredentials}
	}

	if n.HistoryID != "" && !w.deduper.AcquireOnce(ctx, "history:"+owner, n.HistoryID) {
		return Outcome{Result: ResultDuplicate}
	}

	msgs, err := w.fetcher.FetchRecent(ctx, *cred, w.cfg.FetchLimit)
	if err != nil {
		_, errType := util.IsRetryableError(err)
		log.Error("Failed to fetch recent messages", zap.String("error_type", errType), zap.Error(err))
		return Outcome{Result: ResultFetchFailed}
	}
	out := Outcome{Fetched: len(msgs)}

	fresh := make([]ws.NewMessage, 0, len(msgs))
	var relevant []int
	for _, m := range msgs {
		if !w.deduper.AcquireOnce(ctx, "seen:"+owner, m.ID) {
			continue
		}
		score := relevance.Score(relevance.Input{Sender: m.Sender, Subject: m.Subject, Snippet: m.Snippet})
		metrics.RecordRelevanceScore(score.Score)
		fresh = append(fresh, ws.NewMessage{
			ID:        m.ID,
			ThreadID:  m.ThreadID,
			From:      m.Sender,
			Subject:   m.Subject,
			Snippet:   m.Snippet,
			Date:      m.Date,
			LabelIDs:  m.Labels,
			IsNew:     true,
			Relevance: ws.Relevance(score),
		})
		if score.Score >= w.cfg.Threshold {
			relevant = append(relevant, len(fresh)-1)
		}
	}
	out.New = len(fresh)

	if len(relevant) > 0 {
		excerpts := make([]classifier.Excerpt, len(relevant))
		for i, idx := range relevant {
			m := fresh[idx]
			excerpts[i] = classifier.Excerpt{Sender: m.From, Subject: m.Subject, Snippet: m.Snippet}
		}
		results := w.classifier.Classify(ctx, excerpts)
		for i, idx := range relevant {
			if i >= len(results) {
				break
			}
			r := results[i]
			fresh[idx].Category = &ws.Category{
				Category:     string(r.Category),
				Confidence:   r.Confidence,
				Company:      r.Company,
				ActionNeeded: r.ActionNeeded,
				Error:        r.Error,
			}
			if r.Error == "" {
				out.Categorized++
			} else {
				// degraded: let a later notification classify it again
				w.deduper.Release(ctx, "seen:"+owner, fresh[idx].ID)
			}
			w.store.Upsert(ctx, assignmentFor(owner, fresh[idx], r))
		}
	}

	if len(fresh) == 0 {
		out.Result = ResultNothingNew
		return out
	}
	w.notifier.Notify(ctx, owner, ws.NewMessages(fresh))
	out.Result = ResultNotified
	return out
}

// assignmentFor builds the upsert for one message. A degraded classification
// stores only the relevance score so an earlier category survives.
func assignmentFor(owner string, m ws.NewMessage, r classifier.Result) db.Assignment {
	score := m.Relevance.Score
	a := db.Assignment{
		MessageID:      m.ID,
		Owner:          owner,
		ThreadID:       m.ThreadID,
		Sender:         m.From,
		Subject:        m.Subject,
		Snippet:        m.Snippet,
		ReceivedAt:     mailbox.ParseDate(m.Date),
		RelevanceScore: &score,
	}
	if r.Error != "" {
		return a
	}
	category, confidence := r.Category, r.Confidence
	a.Category = &category
	a.Confidence = &confidence
	a.Company = r.Company
	a.ActionNeeded = r.ActionNeeded
	return a
}
