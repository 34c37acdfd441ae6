package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobinbox/contracts/db"
	"jobinbox/internal/classifier"
	"jobinbox/internal/credential"
	"jobinbox/internal/mailbox"
	"jobinbox/internal/repository"
	"jobinbox/internal/taxonomy"
)

const owner = "me@example.com"

var cred = credential.Credential{Owner: owner, AccessToken: "at"}

type fakeMailbox struct {
	msgs   map[string]mailbox.Message
	order  []string
	failOn map[string]bool
}

func newFakeMailbox(msgs ...mailbox.Message) *fakeMailbox {
	f := &fakeMailbox{msgs: map[string]mailbox.Message{}, failOn: map[string]bool{}}
	for _, m := range msgs {
		f.msgs[m.ID] = m
		f.order = append(f.order, m.ID)
	}
	return f
}

func (f *fakeMailbox) ListRecentMessages(_ context.Context, _ credential.Credential, max int) ([]mailbox.MessageRef, error) {
	var refs []mailbox.MessageRef
	for _, id := range f.order {
		if len(refs) == max {
			break
		}
		refs = append(refs, mailbox.MessageRef{ID: id})
	}
	return refs, nil
}

func (f *fakeMailbox) ListPage(ctx context.Context, c credential.Credential, max int, _ string) (*mailbox.Page, error) {
	refs, _ := f.ListRecentMessages(ctx, c, max)
	return &mailbox.Page{Refs: refs, NextPageToken: "next"}, nil
}

func (f *fakeMailbox) GetMessage(_ context.Context, _ credential.Credential, id string, _ mailbox.Format) (*mailbox.Message, error) {
	if f.failOn[id] {
		return nil, errors.New("gmail: 500")
	}
	m, ok := f.msgs[id]
	if !ok {
		return nil, errors.New("gmail: 404")
	}
	return &m, nil
}

func (f *fakeMailbox) FetchRecent(ctx context.Context, c credential.Credential, max int) ([]mailbox.Message, error) {
	refs, _ := f.ListRecentMessages(ctx, c, max)
	return f.FetchRefs(ctx, c, refs)
}

func (f *fakeMailbox) FetchRefs(_ context.Context, _ credential.Credential, refs []mailbox.MessageRef) ([]mailbox.Message, error) {
	out := make([]mailbox.Message, 0, len(refs))
	for _, r := range refs {
		out = append(out, f.msgs[r.ID])
	}
	return out, nil
}

func (f *fakeMailbox) RegisterChangeWatch(context.Context, credential.Credential, string) (*mailbox.WatchHandle, error) {
	return &mailbox.WatchHandle{HistoryID: 1}, nil
}

func (f *fakeMailbox) Profile(context.Context, credential.Credential) (string, error) {
	return owner, nil
}

type fakeClassifier struct {
	mu     sync.Mutex
	calls  [][]classifier.Excerpt
	result classifier.Result
}

func (f *fakeClassifier) Classify(_ context.Context, in []classifier.Excerpt) []classifier.Result {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	out := make([]classifier.Result, len(in))
	for i := range out {
		out[i] = f.result
	}
	return out
}

func strPtr(s string) *string { return &s }

var offer = classifier.Result{Category: taxonomy.Offer, Confidence: 0.9, Company: strPtr("Acme")}

func jobMsg(id string) mailbox.Message {
	return mailbox.Message{
		ID:      id,
		Sender:  "recruiting@greenhouse.io",
		Subject: "Interview Availability - Next Steps",
		Snippet: "please pick a time for your technical interview",
		Date:    "Mon, 02 Jan 2026 15:04:05 +0000",
	}
}

func noiseMsg(id string) mailbox.Message {
	return mailbox.Message{
		ID:      id,
		Sender:  "billing@shop.com",
		Subject: "Invoice",
		Snippet: "payment receipt attached",
	}
}

func casualMsg(id string) mailbox.Message {
	return mailbox.Message{ID: id, Sender: "friend@example.com", Subject: "lunch?"}
}

type fixture struct {
	svc        *EmailService
	mailbox    *fakeMailbox
	classifier *fakeClassifier
	store      *repository.MemoryCategorizationRepository
}

func newFixture(msgs ...mailbox.Message) *fixture {
	f := &fixture{
		mailbox:    newFakeMailbox(msgs...),
		classifier: &fakeClassifier{result: offer},
		store:      repository.NewMemoryCategorizationRepository(),
	}
	f.svc = NewEmailService(f.mailbox, f.classifier, f.store, zap.NewNop())
	return f
}

func TestList_FilterJobs(t *testing.T) {
	f := newFixture(jobMsg("job"), casualMsg("casual"), noiseMsg("noise"))
	ctx := context.Background()

	cat := taxonomy.Rejection
	f.store.Upsert(ctx, db.Assignment{MessageID: "casual", Owner: owner, Category: &cat})
	f.store.Upsert(ctx, db.Assignment{
		MessageID:  "old",
		Owner:      owner,
		Subject:    "Update on your application",
		Category:   &cat,
		ReceivedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	res, err := f.svc.List(ctx, cred, ListParams{FilterJobs: true})
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalFetched)
	assert.Equal(t, "next", res.NextPageToken)
	require.Len(t, res.Emails, 3)
	assert.Equal(t, "job", res.Emails[0].ID)
	assert.Nil(t, res.Emails[0].StoredCategory)
	assert.Equal(t, "casual", res.Emails[1].ID)
	require.NotNil(t, res.Emails[1].StoredCategory)
	assert.Equal(t, taxonomy.Rejection, *res.Emails[1].StoredCategory.Category)
	assert.Equal(t, "old", res.Emails[2].ID)
	assert.True(t, res.Emails[2].FromStore)
	assert.Equal(t, 3, res.JobRelatedCount)
}

func TestList_Unfiltered(t *testing.T) {
	f := newFixture(jobMsg("job"), noiseMsg("noise"))

	res, err := f.svc.List(context.Background(), cred, ListParams{Max: 500})
	require.NoError(t, err)

	require.Len(t, res.Emails, 2)
	assert.Less(t, res.Emails[1].Relevance.Score, 0)
}

func TestCategorize_SkipsLowRelevance(t *testing.T) {
	f := newFixture(noiseMsg("noise"))

	res, err := f.svc.Categorize(context.Background(), cred, "noise", false)
	require.NoError(t, err)

	assert.True(t, res.SkippedAI)
	assert.Equal(t, taxonomy.NotJobRelated, res.Category)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Empty(t, f.classifier.calls)
}

func TestCategorize_ForceClassifiesAndStores(t *testing.T) {
	f := newFixture(noiseMsg("noise"))
	ctx := context.Background()

	res, err := f.svc.Categorize(ctx, cred, "noise", true)
	require.NoError(t, err)

	assert.False(t, res.SkippedAI)
	assert.Equal(t, taxonomy.Offer, res.Category)
	require.NotNil(t, res.CategoryInfo)
	assert.Equal(t, "Offer", res.CategoryInfo.Name)
	require.Len(t, f.classifier.calls, 1)

	stored := f.store.MergeGet(ctx, []string{"noise"}, owner)["noise"]
	require.NotNil(t, stored.Category)
	assert.Equal(t, taxonomy.Offer, *stored.Category)
	require.NotNil(t, stored.RelevanceScore)
	assert.Equal(t, res.Relevance.Score, *stored.RelevanceScore)
}

func TestCategorize_CancelledCallerStillStores(t *testing.T) {
	f := newFixture(jobMsg("job"))
	ctx, cancel := context.WithCancel(context.Background())

	// the fake mailbox ignores ctx, so the fetch still succeeds
	cancel()
	_, err := f.svc.Categorize(ctx, cred, "job", false)
	require.NoError(t, err)

	stored := f.store.MergeGet(context.Background(), []string{"job"}, owner)
	assert.Contains(t, stored, "job")
}

func TestCategorize_DegradedResultKeepsStoredCategory(t *testing.T) {
	f := newFixture(jobMsg("job"))
	ctx := context.Background()
	f.classifier.result = classifier.Result{Category: taxonomy.StatusUpdate, Confidence: 0.3, Error: "rate limited"}
	cat := taxonomy.InterviewSchedule
	f.store.Upsert(ctx, db.Assignment{MessageID: "job", Owner: owner, Category: &cat})

	res, err := f.svc.Categorize(ctx, cred, "job", false)
	require.NoError(t, err)
	assert.Equal(t, "rate limited", res.Error)

	stored := f.store.MergeGet(ctx, []string{"job"}, owner)["job"]
	assert.Equal(t, taxonomy.InterviewSchedule, *stored.Category)
}

func TestCategorize_FetchError(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Categorize(context.Background(), cred, "missing", false)
	assert.Error(t, err)
}

func TestCategorizeBatch(t *testing.T) {
	f := newFixture(jobMsg("a"), noiseMsg("b"), casualMsg("c"), jobMsg("d"))
	f.mailbox.failOn["d"] = true
	ctx := context.Background()

	res, err := f.svc.CategorizeBatch(ctx, cred, []string{"a", "b", "c", "d"})
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Total: 4, Processed: 4, CategorizedWithAI: 2, SkippedLowRelevance: 1, Errors: 1}, res.Stats)
	require.Len(t, f.classifier.calls, 1)
	assert.Len(t, f.classifier.calls[0], 2)

	require.Len(t, res.Results, 4)
	assert.Equal(t, "a", res.Results[0].EmailID)
	assert.Equal(t, "c", res.Results[1].EmailID)
	assert.Equal(t, "b", res.Results[2].EmailID)
	assert.True(t, res.Results[2].SkippedAI)
	assert.Equal(t, "d", res.Results[3].EmailID)
	assert.NotEmpty(t, res.Results[3].Error)

	stored := f.store.MergeGet(ctx, []string{"a", "b", "d"}, owner)
	assert.Equal(t, taxonomy.Offer, *stored["a"].Category)
	require.Contains(t, stored, "b")
	assert.Nil(t, stored["b"].Category)
	assert.NotNil(t, stored["b"].RelevanceScore)
	assert.NotContains(t, stored, "d")
}

func TestCategorizeBatch_Limits(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CategorizeBatch(context.Background(), cred, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	ids := make([]string, 15)
	for i := range ids {
		ids[i] = string(rune('a' + i))
		f.mailbox.msgs[ids[i]] = jobMsg(ids[i])
	}
	res, err := f.svc.CategorizeBatch(context.Background(), cred, ids)
	require.NoError(t, err)
	assert.Equal(t, 15, res.Stats.Total)
	assert.Equal(t, MaxBatchIDs, res.Stats.Processed)
	assert.Len(t, res.Results, MaxBatchIDs)
}

func TestSetCategory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.SetCategory(ctx, owner, "x", "SPAM")
	assert.ErrorIs(t, err, taxonomy.ErrInvalidCategory)

	res, err := f.svc.SetCategory(ctx, owner, "x", "follow_up")
	require.NoError(t, err)
	assert.Equal(t, taxonomy.FollowUp, res.Category)
	assert.True(t, res.Manual)
	assert.Equal(t, 1.0, res.Confidence)

	stored := f.store.MergeGet(ctx, []string{"x"}, owner)["x"]
	assert.True(t, stored.Manual)
}

type unavailableStore struct {
	repository.CategorizationStore
}

func (unavailableStore) Available() bool { return false }

func TestStoreUnavailable(t *testing.T) {
	svc := NewEmailService(newFakeMailbox(), &fakeClassifier{}, unavailableStore{}, zap.NewNop())
	ctx := context.Background()

	_, err := svc.SetCategory(ctx, owner, "x", "OFFER")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = svc.ToggleComplete(ctx, owner, "x")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestToggleComplete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.ToggleComplete(ctx, owner, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	rejection := taxonomy.Rejection
	f.store.Upsert(ctx, db.Assignment{MessageID: "r", Owner: owner, Category: &rejection})
	_, err = f.svc.ToggleComplete(ctx, owner, "r")
	assert.ErrorIs(t, err, ErrNotActionable)

	oa := taxonomy.OARequired
	f.store.Upsert(ctx, db.Assignment{MessageID: "oa", Owner: owner, Category: &oa})
	res, err := f.svc.ToggleComplete(ctx, owner, "oa")
	require.NoError(t, err)
	assert.True(t, res.IsActionComplete)
	assert.Equal(t, map[string]bool{"oa": true}, f.svc.CompletedActions(ctx, owner))

	res, err = f.svc.ToggleComplete(ctx, owner, "oa")
	require.NoError(t, err)
	assert.False(t, res.IsActionComplete)
}
