package storage

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "store.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// One connection serializes sqlite writers; the race guarantees under
	// test live in the upsert logic, not in the driver.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store, err := NewStoreWithDB(db)
	require.NoError(t, err)
	return store
}

func testDraft(source *Source, nativeID, text string) ItemDraft {
	return ItemDraft{
		SourceName: source.Name,
		SourceID:   source.ID,
		NativeID:   nativeID,
		Text:       text,
		Author:     "satoshi",
		AuthorID:   "u_1",
		URL:        "https://example.com/" + nativeID,
		PostedAt:   time.Now().UTC().Add(-time.Hour),
		Likes:      10,
		Language:   "en",
	}
}

func testAnnotation() AnnotationDraft {
	return AnnotationDraft{Label: "positive", Confidence: 0.8, Score: 0.5, Version: "lexicon_v1.0"}
}

func TestUpsertItemIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)

	kw, err := store.CreateKeyword(ctx, "Bitcoin", "crypto")
	require.NoError(t, err)

	draft := testDraft(src, "abc123", "Bitcoin to the moon")
	matches := []MatchDraft{{KeywordID: kw.ID, Count: 1}}

	item, created, err := store.UpsertItem(ctx, draft, testAnnotation(), matches)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "reddit_abc123", item.ID)

	// Second call with identical input: no-op, created=false, nothing
	// rewritten.
	again, created, err := store.UpsertItem(ctx, draft, AnnotationDraft{Label: "negative"}, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, item.ID, again.ID)

	var annCount, matchCount int64
	require.NoError(t, store.DB.Model(&SentimentAnnotation{}).Where("item_id = ?", item.ID).Count(&annCount).Error)
	require.NoError(t, store.DB.Model(&KeywordMatch{}).Where("item_id = ?", item.ID).Count(&matchCount).Error)
	assert.EqualValues(t, 1, annCount)
	assert.EqualValues(t, 1, matchCount)

	// The original annotation survives; enrichment is never overwritten.
	var ann SentimentAnnotation
	require.NoError(t, store.DB.First(&ann, "item_id = ?", item.ID).Error)
	assert.Equal(t, "positive", ann.Label)
}

func TestUpsertItemIdentityKeysDifferAcrossSources(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reddit, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)
	telegram, err := store.EnsureSource(ctx, "telegram")
	require.NoError(t, err)

	// Same native id on two sources must produce two distinct rows.
	a, created, err := store.UpsertItem(ctx, testDraft(reddit, "42", "one"), testAnnotation(), nil)
	require.NoError(t, err)
	assert.True(t, created)

	b, created, err := store.UpsertItem(ctx, testDraft(telegram, "42", "two"), testAnnotation(), nil)
	require.NoError(t, err)
	assert.True(t, created)

	assert.NotEqual(t, a.ID, b.ID)

	var count int64
	require.NoError(t, store.DB.Model(&Item{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestUpsertItemConcurrentRace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)

	const racers = 8
	var createdCount atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.UpsertItem(ctx, testDraft(src, "race1", "same item"), testAnnotation(), nil)
			if err != nil {
				errs <- err
				return
			}
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent upsert error: %v", err)
	}

	assert.EqualValues(t, 1, createdCount.Load(), "exactly one racer must create the row")

	var count int64
	require.NoError(t, store.DB.Model(&Item{}).Where("id = ?", "reddit_race1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestUpsertItemSkipsZeroCountMatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)
	kw, err := store.CreateKeyword(ctx, "ETH", "crypto")
	require.NoError(t, err)

	_, _, err = store.UpsertItem(ctx, testDraft(src, "z1", "no matches"), testAnnotation(),
		[]MatchDraft{{KeywordID: kw.ID, Count: 0}})
	require.NoError(t, err)

	var count int64
	require.NoError(t, store.DB.Model(&KeywordMatch{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestJobLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.EnsureSource(ctx, "telegram")
	require.NoError(t, err)

	job, err := store.CreateJob(ctx, src.ID, "channel_scraping")
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.State)

	// completed straight from pending is an invalid transition
	assert.Error(t, store.MarkJobCompleted(ctx, job.ID, 3))

	require.NoError(t, store.MarkJobRunning(ctx, job.ID))
	// running twice is invalid
	assert.Error(t, store.MarkJobRunning(ctx, job.ID))

	require.NoError(t, store.MarkJobCompleted(ctx, job.ID, 3))

	// terminal states are never left
	assert.Error(t, store.MarkJobFailed(ctx, job.ID, 0, "late failure"))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, loaded.State)
	assert.Equal(t, 3, loaded.ItemsIngested)
	assert.NotNil(t, loaded.StartedAt)
	assert.NotNil(t, loaded.CompletedAt)
}

func TestMarkJobFailedKeepsIngestedCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.EnsureSource(ctx, "telegram")
	require.NoError(t, err)

	job, err := store.CreateJob(ctx, src.ID, "channel_preview")
	require.NoError(t, err)
	require.NoError(t, store.MarkJobRunning(ctx, job.ID))
	require.NoError(t, store.MarkJobFailed(ctx, job.ID, 3, "persistence gave out"))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, loaded.State)
	assert.Equal(t, 3, loaded.ItemsIngested)
	assert.Equal(t, "persistence gave out", loaded.Error)
}

func TestEnsureSourceIsStable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)
	b, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	require.NoError(t, store.SetSourceActive(ctx, "reddit", false))
	c, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)
	assert.False(t, c.Active, "deactivation must survive re-reference")
}

func TestSeedKeywordsLeavesExistingRowsAlone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seeds := []KeywordSeed{{Term: "Bitcoin", Category: "crypto"}, {Term: "DeFi", Category: "protocol"}}
	require.NoError(t, store.SeedKeywords(ctx, seeds))

	kws, err := store.ActiveKeywords(ctx)
	require.NoError(t, err)
	require.Len(t, kws, 2)

	// Operator deactivates one; reseeding must not reactivate it.
	require.NoError(t, store.SetKeywordActive(ctx, kws[0].ID, false))
	require.NoError(t, store.SeedKeywords(ctx, seeds))

	kws, err = store.ActiveKeywords(ctx)
	require.NoError(t, err)
	assert.Len(t, kws, 1)
}

func TestListItemsFiltersBySourceAndLabel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reddit, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)
	telegram, err := store.EnsureSource(ctx, "telegram")
	require.NoError(t, err)

	_, _, err = store.UpsertItem(ctx, testDraft(reddit, "p1", "pump"), AnnotationDraft{Label: "positive", Score: 0.4}, nil)
	require.NoError(t, err)
	_, _, err = store.UpsertItem(ctx, testDraft(reddit, "n1", "dump"), AnnotationDraft{Label: "negative", Score: -0.4}, nil)
	require.NoError(t, err)
	_, _, err = store.UpsertItem(ctx, testDraft(telegram, "p2", "rally"), AnnotationDraft{Label: "positive", Score: 0.3}, nil)
	require.NoError(t, err)

	all, err := store.ListItems(ctx, "", "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	positives, err := store.ListItems(ctx, "", "positive", 10)
	require.NoError(t, err)
	assert.Len(t, positives, 2)

	redditOnly, err := store.ListItems(ctx, "reddit", "positive", 10)
	require.NoError(t, err)
	require.Len(t, redditOnly, 1)
	assert.Equal(t, "reddit_p1", redditOnly[0].ID)
	assert.Equal(t, "positive", redditOnly[0].Label)
}

func TestStatsCountsPerSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	reddit, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)
	_, err = store.EnsureSource(ctx, "telegram")
	require.NoError(t, err)

	_, _, err = store.UpsertItem(ctx, testDraft(reddit, "s1", "a"), testAnnotation(), nil)
	require.NoError(t, err)
	_, _, err = store.UpsertItem(ctx, testDraft(reddit, "s2", "b"), testAnnotation(), nil)
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byName := map[string]SourceStats{}
	for _, st := range stats {
		byName[st.Source] = st
	}
	assert.EqualValues(t, 2, byName["reddit"].TotalItems)
	assert.EqualValues(t, 2, byName["reddit"].Items24h)
	assert.EqualValues(t, 0, byName["telegram"].TotalItems)
}

func TestWindowSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src, err := store.EnsureSource(ctx, "reddit")
	require.NoError(t, err)

	w, err := store.GetWindow(ctx, src.ID, "listing_new")
	require.NoError(t, err)
	assert.Nil(t, w)

	reset := time.Now().UTC().Add(10 * time.Minute).Truncate(time.Second)
	require.NoError(t, store.SaveWindow(ctx, &RateLimitWindow{
		SourceID: src.ID, Endpoint: "listing_new", Made: 1, Allowed: 60, ResetAt: reset,
	}))

	w, err = store.GetWindow(ctx, src.ID, "listing_new")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, 1, w.Made)
	assert.Equal(t, 60, w.Allowed)

	// Saving again for the same pair overwrites rather than duplicating.
	require.NoError(t, store.SaveWindow(ctx, &RateLimitWindow{
		SourceID: src.ID, Endpoint: "listing_new", Made: 7, Allowed: 100, ResetAt: reset,
	}))

	w, err = store.GetWindow(ctx, src.ID, "listing_new")
	require.NoError(t, err)
	assert.Equal(t, 7, w.Made)
	assert.Equal(t, 100, w.Allowed)

	var count int64
	require.NoError(t, store.DB.Model(&RateLimitWindow{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
