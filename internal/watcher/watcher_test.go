package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobinbox/contracts/db"
	"jobinbox/contracts/ws"
	"jobinbox/internal/classifier"
	"jobinbox/internal/credential"
	"jobinbox/internal/mailbox"
	"jobinbox/internal/repository"
	"jobinbox/internal/taxonomy"
)

type fakeFetcher struct {
	msgs  []mailbox.Message
	err   error
	calls int
	max   int
}

func (f *fakeFetcher) FetchRecent(_ context.Context, _ credential.Credential, max int) ([]mailbox.Message, error) {
	f.calls++
	f.max = max
	return f.msgs, f.err
}

type fakeClassifier struct {
	seen   []classifier.Excerpt
	result func(classifier.Excerpt) classifier.Result
}

func (f *fakeClassifier) Classify(_ context.Context, in []classifier.Excerpt) []classifier.Result {
	f.seen = append(f.seen, in...)
	out := make([]classifier.Result, len(in))
	for i, e := range in {
		out[i] = f.result(e)
	}
	return out
}

type fakeNotifier struct {
	mu       sync.Mutex
	owners   []string
	payloads []ws.NewMessagesPayload
}

func (f *fakeNotifier) Notify(_ context.Context, owner string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, owner)
	f.payloads = append(f.payloads, payload.(ws.NewMessagesPayload))
	return 1
}

func offerResult(classifier.Excerpt) classifier.Result {
	company := "Acme"
	return classifier.Result{Category: taxonomy.Offer, Confidence: 0.9, Company: &company}
}

const owner = "alice@example.com"

// memDeduper is an in-process stand-in for the Redis deduper.
type memDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemDeduper() *memDeduper { return &memDeduper{keys: map[string]bool{}} }

func (d *memDeduper) AcquireOnce(_ context.Context, scope, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys[scope+"|"+id] {
		return false
	}
	d.keys[scope+"|"+id] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, scope, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, scope+"|"+id)
}

type fixture struct {
	creds      *credential.MemoryStore
	watcher    *Watcher
	fetcher    *fakeFetcher
	classifier *fakeClassifier
	store      *repository.MemoryCategorizationRepository
	notifier   *fakeNotifier
}

func newFixture(t *testing.T, msgs []mailbox.Message) *fixture {
	t.Helper()
	creds := credential.NewMemoryStore()
	require.NoError(t, creds.Put(context.Background(), credential.Credential{Owner: owner, AccessToken: "at"}))

	f := &fixture{
		creds:      creds,
		fetcher:    &fakeFetcher{msgs: msgs},
		classifier: &fakeClassifier{result: offerResult},
		store:      repository.NewMemoryCategorizationRepository(),
		notifier:   &fakeNotifier{},
	}
	f.watcher = New(creds, f.fetcher, f.classifier, f.store, f.notifier, nil, Config{}, zap.NewNop())
	return f
}

var inbox = []mailbox.Message{
	{ID: "job", ThreadID: "t1", Sender: "recruiting@greenhouse.io", Subject: "Interview Availability - Next Steps", Snippet: "please pick a time for your technical interview", Date: "Tue, 07 May 2024 10:00:00 +0000"},
	{ID: "spam", ThreadID: "t2", Sender: "noreply@discord.com", Subject: "comment on your post", Snippet: "someone replied"},
	{ID: "meh", ThreadID: "t3", Sender: "friend@example.com", Subject: "lunch?", Snippet: "tomorrow"},
}

func TestHandleNotification_ClassifiesRelevantAndNotifies(t *testing.T) {
	f := newFixture(t, inbox)

	out := f.watcher.HandleNotification(context.Background(), ChangeNotification{EmailAddress: owner, HistoryID: "1"})

	assert.Equal(t, ResultNotified, out.Result)
	assert.Equal(t, 3, out.Fetched)
	assert.Equal(t, 1, out.Categorized)
	assert.Equal(t, DefaultFetchLimit, f.fetcher.max)

	require.Len(t, f.classifier.seen, 1, "only the relevant message reaches the classifier")
	assert.Equal(t, "recruiting@greenhouse.io", f.classifier.seen[0].Sender)

	stored := f.store.MergeGet(context.Background(), []string{"job", "spam", "meh"}, owner)
	require.Len(t, stored, 1)
	assert.Equal(t, taxonomy.Offer, *stored["job"].Category)
	assert.Equal(t, "Acme", *stored["job"].Company)
	assert.False(t, stored["job"].ReceivedAt.IsZero())

	require.Equal(t, []string{owner}, f.notifier.owners)
	payload := f.notifier.payloads[0]
	assert.Equal(t, ws.TypeNewMessages, payload.Type)
	assert.Equal(t, 3, payload.Count)
	require.Len(t, payload.Messages, 3)
	require.NotNil(t, payload.Messages[0].Category)
	assert.Equal(t, string(taxonomy.Offer), payload.Messages[0].Category.Category)
	assert.Equal(t, "Acme", *payload.Messages[0].Category.Company)
	assert.True(t, payload.Messages[0].Relevance.IsJobRelated)
	assert.Nil(t, payload.Messages[1].Category)
	assert.Equal(t, -100, payload.Messages[1].Relevance.Score)
	assert.True(t, payload.Messages[2].IsNew)
}

func TestHandleNotification_NoCredentialsSkipsSilently(t *testing.T) {
	f := newFixture(t, inbox)

	out := f.watcher.HandleNotification(context.Background(), ChangeNotification{EmailAddress: "stranger@example.com"})

	assert.Equal(t, ResultNoCredentials, out.Result)
	assert.Zero(t, f.fetcher.calls)
	assert.Empty(t, f.notifier.owners)
}

func TestHandleNotification_FetchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.err = errors.New("401 unauthorized")

	out := f.watcher.HandleNotification(context.Background(), ChangeNotification{EmailAddress: owner})

	assert.Equal(t, ResultFetchFailed, out.Result)
	assert.Empty(t, f.notifier.owners)
}

func TestHandleNotification_EmptyInboxDoesNotNotify(t *testing.T) {
	f := newFixture(t, []mailbox.Message{})

	out := f.watcher.HandleNotification(context.Background(), ChangeNotification{EmailAddress: owner})

	assert.Equal(t, ResultNothingNew, out.Result)
	assert.Empty(t, f.notifier.owners)
}

func TestHandleNotification_DegradedClassificationKeepsStoredCategory(t *testing.T) {
	f := newFixture(t, inbox[:1])
	ctx := context.Background()
	rejection := taxonomy.Rejection
	f.store.Upsert(ctx, repositoryAssignment("job", &rejection))

	f.classifier.result = func(classifier.Excerpt) classifier.Result {
		return classifier.Result{Category: taxonomy.StatusUpdate, Confidence: 0.3, Error: "rate limited"}
	}
	out := f.watcher.HandleNotification(ctx, ChangeNotification{EmailAddress: owner})

	assert.Zero(t, out.Categorized)
	stored := f.store.MergeGet(ctx, []string{"job"}, owner)["job"]
	assert.Equal(t, taxonomy.Rejection, *stored.Category)
	require.NotNil(t, stored.RelevanceScore)
	assert.GreaterOrEqual(t, *stored.RelevanceScore, 6)
}

func (f *fixture) withDeduper(d Deduper) {
	f.watcher = New(f.creds, f.fetcher, f.classifier, f.store, f.notifier, d, Config{}, zap.NewNop())
}

func TestHandleNotification_DuplicateChangeMarker(t *testing.T) {
	f := newFixture(t, inbox)
	f.withDeduper(newMemDeduper())
	ctx := context.Background()

	first := f.watcher.HandleNotification(ctx, ChangeNotification{EmailAddress: owner, HistoryID: "7"})
	second := f.watcher.HandleNotification(ctx, ChangeNotification{EmailAddress: owner, HistoryID: "7"})

	assert.Equal(t, ResultNotified, first.Result)
	assert.Equal(t, ResultDuplicate, second.Result)
	assert.Equal(t, 1, f.fetcher.calls)
}

func TestHandleNotification_MarkerKeptUntilCredentialsExist(t *testing.T) {
	f := newFixture(t, inbox)
	f.withDeduper(newMemDeduper())
	ctx := context.Background()
	const late = "late@example.com"

	out := f.watcher.HandleNotification(ctx, ChangeNotification{EmailAddress: late, HistoryID: "42"})
	assert.Equal(t, ResultNoCredentials, out.Result)

	require.NoError(t, f.creds.Put(ctx, credential.Credential{Owner: late, AccessToken: "at"}))
	out = f.watcher.HandleNotification(ctx, ChangeNotification{EmailAddress: late, HistoryID: "42"})

	assert.Equal(t, ResultNotified, out.Result)
	assert.Equal(t, 1, f.fetcher.calls)
}

func TestHandleNotification_DegradedMessageRetriedLater(t *testing.T) {
	f := newFixture(t, inbox)
	f.withDeduper(newMemDeduper())
	ctx := context.Background()

	f.classifier.result = func(classifier.Excerpt) classifier.Result {
		return classifier.Result{Category: taxonomy.StatusUpdate, Confidence: 0.3, Error: "rate limited"}
	}
	out := f.watcher.HandleNotification(ctx, ChangeNotification{EmailAddress: owner, HistoryID: "1"})
	assert.Equal(t, 3, out.New)
	assert.Zero(t, out.Categorized)

	f.classifier.result = offerResult
	out = f.watcher.HandleNotification(ctx, ChangeNotification{EmailAddress: owner, HistoryID: "2"})

	// only the degraded message comes back
	assert.Equal(t, 1, out.New)
	assert.Equal(t, 1, out.Categorized)
	stored := f.store.MergeGet(ctx, []string{"job"}, owner)["job"]
	require.NotNil(t, stored.Category)
	assert.Equal(t, taxonomy.Offer, *stored.Category)
}

func TestHandleRaw(t *testing.T) {
	f := newFixture(t, inbox)

	assert.Equal(t, ResultMalformed, f.watcher.HandleRaw(context.Background(), []byte(`{oops`)).Result)
	assert.Equal(t, ResultMalformed, f.watcher.HandleRaw(context.Background(), []byte(`{"historyId":1}`)).Result)
	assert.Equal(t, ResultNotified, f.watcher.HandleRaw(context.Background(), []byte(`{"emailAddress":"alice@example.com","historyId":9876}`)).Result)
}

func TestDecodeNotification(t *testing.T) {
	n, err := DecodeNotification([]byte(`{"emailAddress":"a@b.c","historyId":"123"}`))
	require.NoError(t, err)
	assert.Equal(t, "123", n.HistoryID)

	n, err = DecodeNotification([]byte(`{"emailAddress":"a@b.c","historyId":456}`))
	require.NoError(t, err)
	assert.Equal(t, "456", n.HistoryID)

	_, err = DecodeNotification([]byte(`[]`))
	assert.ErrorIs(t, err, ErrMalformedNotification)
}

func repositoryAssignment(id string, c *taxonomy.Category) db.Assignment {
	return db.Assignment{MessageID: id, Owner: owner, Category: c}
}
