package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"jobinbox/contracts/db"
	"jobinbox/internal/classifier"
	"jobinbox/internal/credential"
	"jobinbox/internal/mailbox"
	"jobinbox/internal/relevance"
	"jobinbox/internal/repository"
	"jobinbox/internal/taxonomy"
	"jobinbox/pkg/logger"
	"jobinbox/pkg/metrics"
)

const (
	DefaultListMax = 50
	MaxListMax     = 100
	// MaxBatchIDs 单次批量分类处理的邮件数上限
	MaxBatchIDs = 10

	skippedConfidence = 0.8
	fetchConcurrency  = 5
)

var (
	ErrEmptyBatch       = errors.New("emailIds must be a non-empty list")
	ErrStoreUnavailable = errors.New("categorization store not available")
	ErrNotActionable    = errors.New("category has no action to complete")
	ErrNotFound         = errors.New("email not found")
)

type Classifier interface {
	Classify(ctx context.Context, messages []classifier.Excerpt) []classifier.Result
}

// ListParams 列表查询参数
type ListParams struct {
	Max        int
	PageToken  string
	FilterJobs bool
}

// ListedEmail 列表中的一封邮件
type ListedEmail struct {
	ID             string           `json:"id"`
	ThreadID       string           `json:"threadId"`
	From           string           `json:"from"`
	Subject        string           `json:"subject"`
	Snippet        string           `json:"snippet"`
	Date           string           `json:"date"`
	LabelIDs       []string         `json:"labelIds,omitempty"`
	Relevance      relevance.Result `json:"relevance"`
	StoredCategory *db.Assignment   `json:"storedCategory"`
	FromStore      bool             `json:"fromStore,omitempty"`
}

type ListResult struct {
	Emails          []ListedEmail `json:"emails"`
	TotalFetched    int           `json:"totalFetched"`
	JobRelatedCount int           `json:"jobRelatedCount"`
	NextPageToken   string        `json:"nextPageToken,omitempty"`
}

// MessageDetail 单封邮件详情
type MessageDetail struct {
	mailbox.Message
	Relevance relevance.Result `json:"relevance"`
}

// CategorizeResult 一封邮件的分类结果
type CategorizeResult struct {
	EmailID      string            `json:"emailId"`
	Category     taxonomy.Category `json:"category,omitempty"`
	CategoryInfo *taxonomy.Info    `json:"categoryInfo,omitempty"`
	Confidence   float64           `json:"confidence,omitempty"`
	Company      *string           `json:"company,omitempty"`
	ActionNeeded *string           `json:"actionNeeded,omitempty"`
	SkippedAI    bool              `json:"skippedAI,omitempty"`
	Manual       bool              `json:"manual,omitempty"`
	Error        string            `json:"error,omitempty"`
	Relevance    *relevance.Result `json:"relevance,omitempty"`
}

type BatchStats struct {
	Total               int `json:"total"`
	Processed           int `json:"processed"`
	CategorizedWithAI   int `json:"categorizedWithAI"`
	SkippedLowRelevance int `json:"skippedLowRelevance"`
	Errors              int `json:"errors"`
}

type BatchResult struct {
	Results []CategorizeResult `json:"results"`
	Stats   BatchStats         `json:"stats"`
}

type ToggleResult struct {
	EmailID          string `json:"emailId"`
	IsActionComplete bool   `json:"isActionComplete"`
}

// EmailService 按需读取、打分和分类邮件
type EmailService struct {
	mailbox    mailbox.Provider
	classifier Classifier
	store      repository.CategorizationStore
	logger     *zap.Logger
}

func NewEmailService(mb mailbox.Provider, cls Classifier, store repository.CategorizationStore, logger *zap.Logger) *EmailService {
	return &EmailService{
		mailbox:    mb,
		classifier: cls,
		store:      store,
		logger:     logger,
	}
}

// Categories 分类表，按优先级排序
func (s *EmailService) Categories() []taxonomy.Info {
	return taxonomy.All()
}

// List fetches a page of inbox metadata, scores it and joins stored
// categories. With FilterJobs only relevant or already categorized messages
// are kept, followed by older categorized messages from the store.
func (s *EmailService) List(ctx context.Context, cred credential.Credential, p ListParams) (*ListResult, error) {
	max := p.Max
	if max <= 0 {
		max = DefaultListMax
	}
	if max > MaxListMax {
		max = MaxListMax
	}

	page, err := s.mailbox.ListPage(ctx, cred, max, p.PageToken)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	msgs, err := s.mailbox.FetchRefs(ctx, cred, page.Refs)
	if err != nil {
		return nil, fmt.Errorf("fetch inbox: %w", err)
	}

	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	stored := s.store.MergeGet(ctx, ids, cred.Owner)

	emails := make([]ListedEmail, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		score := relevance.Score(relevance.Input{Sender: m.Sender, Subject: m.Subject, Snippet: m.Snippet})
		metrics.RecordRelevanceScore(score.Score)
		e := ListedEmail{
			ID:        m.ID,
			ThreadID:  m.ThreadID,
			From:      m.Sender,
			Subject:   m.Subject,
			Snippet:   m.Snippet,
			Date:      m.Date,
			LabelIDs:  m.Labels,
			Relevance: score,
		}
		if a, ok := stored[m.ID]; ok && a.Categorized() {
			e.StoredCategory = &a
		}
		if p.FilterJobs && score.Score < relevance.Threshold && e.StoredCategory == nil {
			continue
		}
		seen[m.ID] = struct{}{}
		emails = append(emails, e)
	}

	if p.FilterJobs && s.store.Available() {
		older := 0
		for _, a := range s.store.ListCategorized(ctx, cred.Owner, repository.ListOptions{}) {
			if _, ok := seen[a.MessageID]; ok {
				continue
			}
			emails = append(emails, fromAssignment(a))
			older++
		}
		if older > 0 {
			logger.WithTrace(ctx, s.logger).Debug("Added older categorized emails from store",
				zap.String("owner", cred.Owner),
				zap.Int("count", older),
			)
		}
	}

	return &ListResult{
		Emails:          emails,
		TotalFetched:    len(msgs),
		JobRelatedCount: len(emails),
		NextPageToken:   page.NextPageToken,
	}, nil
}

// Get 获取完整邮件并打分
func (s *EmailService) Get(ctx context.Context, cred credential.Credential, id string) (*MessageDetail, error) {
	m, err := s.mailbox.GetMessage(ctx, cred, id, mailbox.FormatFull)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &MessageDetail{
		Message:   *m,
		Relevance: relevance.Score(relevance.Input{Sender: m.Sender, Subject: m.Subject, Snippet: m.Snippet}),
	}, nil
}

// Categorize classifies one message. A negative relevance score skips the
// model unless force is set.
func (s *EmailService) Categorize(ctx context.Context, cred credential.Credential, id string, force bool) (*CategorizeResult, error) {
	m, err := s.mailbox.GetMessage(ctx, cred, id, mailbox.FormatFull)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	score := relevance.Score(relevance.Input{Sender: m.Sender, Subject: m.Subject, Snippet: m.Snippet})
	metrics.RecordRelevanceScore(score.Score)

	if score.Score < 0 && !force {
		return skipped(id, score), nil
	}

	// 调用方断开后仍然完成分类和写入
	work := context.WithoutCancel(ctx)
	r := s.classifier.Classify(work, []classifier.Excerpt{excerptOf(m)})[0]
	s.store.Upsert(work, assignmentOf(cred.Owner, m, score, r))

	res := resultOf(id, r)
	res.Relevance = &score
	return &res, nil
}

// CategorizeBatch classifies up to MaxBatchIDs messages in one classifier
// call. Messages scoring below zero are skipped and only their relevance is
// recorded; fetch failures are reported per id.
func (s *EmailService) CategorizeBatch(ctx context.Context, cred credential.Credential, ids []string) (*BatchResult, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyBatch
	}
	batch := ids
	if len(batch) > MaxBatchIDs {
		batch = batch[:MaxBatchIDs]
	}

	type fetched struct {
		msg   *mailbox.Message
		score relevance.Result
		err   error
	}
	slots := make([]fetched, len(batch))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(fetchConcurrency)
	for i, id := range batch {
		eg.Go(func() error {
			m, err := s.mailbox.GetMessage(egCtx, cred, id, mailbox.FormatFull)
			if err != nil {
				slots[i] = fetched{err: err}
				return nil
			}
			slots[i] = fetched{
				msg:   m,
				score: relevance.Score(relevance.Input{Sender: m.Sender, Subject: m.Subject, Snippet: m.Snippet}),
			}
			return nil
		})
	}
	_ = eg.Wait()

	work := context.WithoutCancel(ctx)
	var (
		valid    []int
		low      []int
		failed   []int
		excerpts []classifier.Excerpt
	)
	for i, f := range slots {
		switch {
		case f.err != nil:
			failed = append(failed, i)
		case f.score.Score < 0:
			low = append(low, i)
		default:
			valid = append(valid, i)
			excerpts = append(excerpts, excerptOf(f.msg))
		}
	}

	results := make([]CategorizeResult, 0, len(batch))
	if len(excerpts) > 0 {
		classified := s.classifier.Classify(work, excerpts)
		for j, i := range valid {
			f := slots[i]
			s.store.Upsert(work, assignmentOf(cred.Owner, f.msg, f.score, classified[j]))
			res := resultOf(batch[i], classified[j])
			score := f.score
			res.Relevance = &score
			results = append(results, res)
		}
	}
	for _, i := range low {
		f := slots[i]
		score := f.score.Score
		s.store.Upsert(work, db.Assignment{
			MessageID:      f.msg.ID,
			Owner:          cred.Owner,
			ThreadID:       f.msg.ThreadID,
			Sender:         f.msg.Sender,
			Subject:        f.msg.Subject,
			Snippet:        f.msg.Snippet,
			ReceivedAt:     f.msg.ReceivedAt(),
			RelevanceScore: &score,
		})
		results = append(results, *skipped(batch[i], f.score))
	}
	for _, i := range failed {
		logger.WithTrace(ctx, s.logger).Warn("Batch categorize fetch failed",
			zap.String("owner", cred.Owner),
			zap.String("message_id", batch[i]),
			zap.Error(slots[i].err),
		)
		results = append(results, CategorizeResult{EmailID: batch[i], Error: slots[i].err.Error()})
	}

	return &BatchResult{
		Results: results,
		Stats: BatchStats{
			Total:               len(ids),
			Processed:           len(batch),
			CategorizedWithAI:   len(valid),
			SkippedLowRelevance: len(low),
			Errors:              len(failed),
		},
	}, nil
}

// SetCategory 手动设置分类
func (s *EmailService) SetCategory(ctx context.Context, owner, id, category string) (*CategorizeResult, error) {
	c, err := taxonomy.Parse(category)
	if err != nil {
		return nil, err
	}
	if !s.store.Available() {
		return nil, ErrStoreUnavailable
	}
	if s.store.SetCategory(context.WithoutCancel(ctx), id, owner, c) == nil {
		return nil, ErrStoreUnavailable
	}
	info, _ := taxonomy.Lookup(c)
	return &CategorizeResult{
		EmailID:      id,
		Category:     c,
		CategoryInfo: &info,
		Confidence:   1.0,
		Manual:       true,
	}, nil
}

// ToggleComplete flips the action flag of a stored actionable email.
func (s *EmailService) ToggleComplete(ctx context.Context, owner, id string) (*ToggleResult, error) {
	if !s.store.Available() {
		return nil, ErrStoreUnavailable
	}
	stored, ok := s.store.MergeGet(ctx, []string{id}, owner)[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Category == nil || !taxonomy.IsActionable(*stored.Category) {
		return nil, ErrNotActionable
	}
	complete := s.store.ToggleActionComplete(context.WithoutCancel(ctx), id, owner)
	if complete == nil {
		return nil, ErrNotFound
	}
	return &ToggleResult{EmailID: id, IsActionComplete: *complete}, nil
}

// CompletedActions 用户已完成的邮件
func (s *EmailService) CompletedActions(ctx context.Context, owner string) map[string]bool {
	return s.store.CompletedActions(ctx, owner)
}

func excerptOf(m *mailbox.Message) classifier.Excerpt {
	return classifier.Excerpt{Sender: m.Sender, Subject: m.Subject, Snippet: m.Snippet, Body: m.Body}
}

func skipped(id string, score relevance.Result) *CategorizeResult {
	info, _ := taxonomy.Lookup(taxonomy.NotJobRelated)
	return &CategorizeResult{
		EmailID:      id,
		Category:     taxonomy.NotJobRelated,
		CategoryInfo: &info,
		Confidence:   skippedConfidence,
		SkippedAI:    true,
		Relevance:    &score,
	}
}

func resultOf(id string, r classifier.Result) CategorizeResult {
	res := CategorizeResult{
		EmailID:      id,
		Category:     r.Category,
		Confidence:   r.Confidence,
		Company:      r.Company,
		ActionNeeded: r.ActionNeeded,
		Error:        r.Error,
	}
	if info, ok := taxonomy.Lookup(r.Category); ok {
		res.CategoryInfo = &info
	}
	return res
}

// assignmentOf 降级的分类结果只记录相关度
func assignmentOf(owner string, m *mailbox.Message, score relevance.Result, r classifier.Result) db.Assignment {
	s := score.Score
	a := db.Assignment{
		MessageID:      m.ID,
		Owner:          owner,
		ThreadID:       m.ThreadID,
		Sender:         m.Sender,
		Subject:        m.Subject,
		Snippet:        m.Snippet,
		ReceivedAt:     m.ReceivedAt(),
		RelevanceScore: &s,
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

func fromAssignment(a db.Assignment) ListedEmail {
	e := ListedEmail{
		ID:             a.MessageID,
		ThreadID:       a.ThreadID,
		From:           a.Sender,
		Subject:        a.Subject,
		Snippet:        a.Snippet,
		StoredCategory: &a,
		FromStore:      true,
	}
	if !a.ReceivedAt.IsZero() {
		e.Date = a.ReceivedAt.Format(time.RFC1123Z)
	}
	if a.RelevanceScore != nil {
		e.Relevance = relevance.Result{
			Score:        *a.RelevanceScore,
			IsJobRelated: *a.RelevanceScore >= relevance.Threshold,
			Reasons:      []string{},
		}
	}
	return e
}
