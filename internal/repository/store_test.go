package repository

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobinbox/contracts/db"
	"jobinbox/internal/taxonomy"
)

func ptr[T any](v T) *T { return &v }

func fullAssignment() db.Assignment {
	return db.Assignment{
		MessageID:      "m1",
		Owner:          "a@example.com",
		Sender:         "hr@acme.com",
		Subject:        "Offer",
		Category:       ptr(taxonomy.Offer),
		Confidence:     ptr(0.9),
		Company:        ptr("Acme"),
		ActionNeeded:   ptr("Sign"),
		RelevanceScore: ptr(20),
	}
}

func TestMerge_RelevanceOnlyPassPreservesClassification(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCategorizationRepository()

	store.Upsert(ctx, fullAssignment())
	got := store.Upsert(ctx, db.Assignment{MessageID: "m1", Owner: "a@example.com", RelevanceScore: ptr(3)})

	require.NotNil(t, got)
	assert.Equal(t, taxonomy.Offer, *got.Category)
	assert.Equal(t, 0.9, *got.Confidence)
	assert.Equal(t, "Acme", *got.Company)
	assert.Equal(t, "Sign", *got.ActionNeeded)
	assert.Equal(t, 3, *got.RelevanceScore)
	assert.Equal(t, "Offer", got.Subject)
}

func TestMerge_RefreshesTimestamp(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := Merge(nil, fullAssignment(), t0)
	second := Merge(&first, db.Assignment{}, t0.Add(time.Minute))

	assert.Equal(t, t0, first.UpdatedAt)
	assert.Equal(t, t0.Add(time.Minute), second.UpdatedAt)
}

func TestMerge_NewCategoryClearsManual(t *testing.T) {
	now := time.Now()
	manual := ManualOverride(nil, "m1", "a@example.com", taxonomy.Rejection, now)
	assert.True(t, manual.Manual)

	kept := Merge(&manual, db.Assignment{RelevanceScore: ptr(1)}, now)
	assert.True(t, kept.Manual)

	replaced := Merge(&manual, db.Assignment{Category: ptr(taxonomy.Offer)}, now)
	assert.False(t, replaced.Manual)
	assert.Equal(t, taxonomy.Offer, *replaced.Category)
}

func TestProperty_MergeNeverClobbers(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	optString := gen.PtrOf(gen.AlphaString())
	optScore := gen.PtrOf(gen.IntRange(-100, 60))

	properties.Property("nil incoming fields keep stored values", prop.ForAll(
		func(company, action *string, score *int) bool {
			existing := fullAssignment()
			incoming := db.Assignment{Company: company, ActionNeeded: action, RelevanceScore: score}
			out := Merge(&existing, incoming, time.Now())

			want := func(in, stored *string) string {
				if in != nil {
					return *in
				}
				return *stored
			}
			wantScore := *existing.RelevanceScore
			if score != nil {
				wantScore = *score
			}
			return *out.Category == taxonomy.Offer &&
				*out.Confidence == 0.9 &&
				*out.Company == want(company, existing.Company) &&
				*out.ActionNeeded == want(action, existing.ActionNeeded) &&
				*out.RelevanceScore == wantScore
		},
		optString, optString, optScore,
	))

	properties.TestingRun(t)
}

func TestMemoryStore_OwnerIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCategorizationRepository()
	store.Upsert(ctx, fullAssignment())

	assert.Len(t, store.MergeGet(ctx, []string{"m1", "m2"}, "a@example.com"), 1)
	assert.Empty(t, store.MergeGet(ctx, []string{"m1"}, "b@example.com"))
	assert.Nil(t, store.ToggleActionComplete(ctx, "m1", "b@example.com"))
}

func TestMemoryStore_ToggleActionComplete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCategorizationRepository()
	store.Upsert(ctx, fullAssignment())

	first := store.ToggleActionComplete(ctx, "m1", "a@example.com")
	require.NotNil(t, first)
	assert.True(t, *first)
	assert.Equal(t, map[string]bool{"m1": true}, store.CompletedActions(ctx, "a@example.com"))

	second := store.ToggleActionComplete(ctx, "m1", "a@example.com")
	require.NotNil(t, second)
	assert.False(t, *second)
	assert.Empty(t, store.CompletedActions(ctx, "a@example.com"))

	// toggling survives a later upsert
	store.ToggleActionComplete(ctx, "m1", "a@example.com")
	got := store.Upsert(ctx, db.Assignment{MessageID: "m1", Owner: "a@example.com", Category: ptr(taxonomy.OARequired)})
	assert.True(t, got.IsActionComplete)
}

func TestMemoryStore_SetCategory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCategorizationRepository()
	store.Upsert(ctx, fullAssignment())

	got := store.SetCategory(ctx, "m1", "a@example.com", taxonomy.Rejection)

	require.NotNil(t, got)
	assert.Equal(t, taxonomy.Rejection, *got.Category)
	assert.Equal(t, 1.0, *got.Confidence)
	assert.True(t, got.Manual)
	assert.Equal(t, "Acme", *got.Company)

	created := store.SetCategory(ctx, "m9", "a@example.com", taxonomy.FollowUp)
	require.NotNil(t, created)
	assert.Nil(t, created.RelevanceScore)
}

func TestMemoryStore_ListCategorized(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCategorizationRepository()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, c := range []taxonomy.Category{taxonomy.Offer, taxonomy.Rejection, taxonomy.Offer} {
		store.Upsert(ctx, db.Assignment{
			MessageID:  string(rune('a' + i)),
			Owner:      "o",
			ReceivedAt: base.Add(time.Duration(i) * time.Hour),
			Category:   ptr(c),
		})
	}
	store.Upsert(ctx, db.Assignment{MessageID: "uncategorized", Owner: "o", RelevanceScore: ptr(2)})

	all := store.ListCategorized(ctx, "o", ListOptions{})
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].MessageID)

	offers := store.ListCategorized(ctx, "o", ListOptions{Category: ptr(taxonomy.Offer), Limit: 1})
	require.Len(t, offers, 1)
	assert.Equal(t, "c", offers[0].MessageID)
}

func TestPostgresRepository_UnavailableDegrades(t *testing.T) {
	ctx := context.Background()
	repo := NewPostgresCategorizationRepository(nil, zap.NewNop())

	assert.False(t, repo.Available())
	assert.Nil(t, repo.Upsert(ctx, fullAssignment()))
	assert.Empty(t, repo.MergeGet(ctx, []string{"m1"}, "o"))
	assert.Nil(t, repo.SetCategory(ctx, "m1", "o", taxonomy.Offer))
	assert.Nil(t, repo.ToggleActionComplete(ctx, "m1", "o"))
	assert.Empty(t, repo.ListCategorized(ctx, "o", ListOptions{}))
	assert.Empty(t, repo.CompletedActions(ctx, "o"))
}

func TestFallbackStore(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryCategorizationRepository()
	store := NewFallbackStore(NewPostgresCategorizationRepository(nil, zap.NewNop()), mem)

	assert.False(t, store.Available())
	require.NotNil(t, store.Upsert(ctx, fullAssignment()))
	assert.Len(t, mem.MergeGet(ctx, []string{"m1"}, "a@example.com"), 1)
	assert.Len(t, store.MergeGet(ctx, []string{"m1"}, "a@example.com"), 1)
}
