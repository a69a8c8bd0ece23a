package db

import (
	"bytes"
	"context"
	"database/sql"
	"feedscroll/db/migrations"
	"feedscroll/db/sqlw"
	"feedscroll/export"
	"feedscroll/models"
	"feedscroll/scraper"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	om "github.com/wk8/go-ordered-map/v2"
)

var testStart = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	store, err := Open(filepath.Join(t.TempDir(), "feedscroll.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	_, err = store.Migrate(context.Background())
	require.NoError(t, err)
	return store
}

func testPost(id string, handle string, likes int) models.Post {
	return models.Post{
		Id:           models.PostId(id),
		AuthorHandle: handle,
		AuthorName:   "Name of " + handle,
		Body:         "body of " + id,
		CreatedAt:    testStart.Add(-time.Hour),
		Likes:        likes,
		Reposts:      0,
		Replies:      0,
		Quotes:       0,
		Mentions:     []string{"carol"},
		Tags:         []string{},
		Urls:         nil,
		Locator:      "/" + handle + "/status/" + id,
		IsReply:      false,
		IsRepost:     true,
		ScrapedAt:    testStart,
	}
}

func testResult(runId string, posts []models.Post, authors ...models.Author) *scraper.Result {
	authorMap := om.New[string, models.Author]()
	for _, author := range authors {
		authorMap.Set(author.Handle, author)
	}
	return &scraper.Result{
		Posts:   posts,
		Authors: authorMap,
		Summary: scraper.RunSummary{ //nolint:exhaustruct
			RunId:            runId,
			Target:           scraper.FeedTarget("alice"),
			Rounds:           2,
			ProductiveRounds: 1,
			ExhaustReason:    scraper.ExhaustReasonStagnation,
			StartedAt:        testStart,
			FinishedAt:       testStart.Add(5 * time.Second),
		},
		Outcome: scraper.OutcomeExhausted,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	applied, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Empty(t, applied)
	require.NoError(t, store.EnsureLatestMigration(ctx))
}

func TestRollbackThenMigrate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	latest := migrations.All[len(migrations.All)-1].Version()
	version, err := store.Rollback(ctx)
	require.NoError(t, err)
	require.Equal(t, latest, version)
	require.Error(t, store.EnsureLatestMigration(ctx))

	applied, err := store.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{latest}, applied)
}

func TestEnsureLatestMigrationOnEmptyDb(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer store.Close()

	err = store.EnsureLatestMigration(context.Background())
	require.ErrorContains(t, err, "not migrated")
}

func TestSaveResultUpsertsPosts(t *testing.T) {
	store := openTestStore(t)
	ctx := sqlw.WithDbDuration(context.Background())

	alice := models.Author{ //nolint:exhaustruct
		Handle:      "alice",
		DisplayName: "Alice",
		Bio:         "Writes things",
		Followers:   1200,
		Verified:    true,
	}
	first := testResult("run-1", []models.Post{testPost("p1", "alice", 1), testPost("p2", "alice", 2)}, alice)
	stats, err := store.SaveResult(ctx, first)
	require.NoError(t, err)
	require.Equal(t, SaveStats{NewPosts: 2, UpdatedPosts: 0, Authors: 1, BusyRetries: 0}, stats)
	require.Positive(t, sqlw.DbDuration(ctx))

	// Minimal author from a post header keeps the stored profile fields
	aliceFromPost := models.Author{ //nolint:exhaustruct
		Handle:      "Alice",
		DisplayName: "Alice B.",
	}
	second := testResult("run-2", []models.Post{testPost("p2", "alice", 20), testPost("p3", "alice", 3)}, aliceFromPost)
	stats, err = store.SaveResult(ctx, second)
	require.NoError(t, err)
	require.Equal(t, SaveStats{NewPosts: 1, UpdatedPosts: 1, Authors: 1, BusyRetries: 0}, stats)

	author, err := store.LoadAuthor(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, "Alice B.", author.DisplayName)
	require.Equal(t, "Writes things", author.Bio)
	require.Equal(t, 1200, author.Followers)
	require.True(t, author.Verified)

	posts, err := store.LoadPosts(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	byId := map[models.PostId]models.Post{}
	for _, post := range posts {
		byId[post.Id] = post
	}
	require.Equal(t, 20, byId["p2"].Likes)
	require.Equal(t, []string{"carol"}, byId["p1"].Mentions)
	require.Equal(t, []string{}, byId["p1"].Tags)
	require.Nil(t, byId["p1"].Urls)
	require.True(t, byId["p1"].IsRepost)
	require.True(t, testStart.Add(-time.Hour).Equal(byId["p1"].CreatedAt))

	limited, err := store.LoadPosts(ctx, "alice", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	dbStats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, dbStats.Runs)
	require.Equal(t, 3, dbStats.Posts)
	require.Equal(t, 1, dbStats.Authors)
	require.NotNil(t, dbStats.MaybeLastFinishedAt)
	require.True(t, testStart.Add(5*time.Second).Equal(*dbStats.MaybeLastFinishedAt))
	require.Equal(t, []AuthorPostCount{{Handle: "alice", Posts: 3}}, dbStats.TopAuthors)
}

func TestSaveResultTwiceFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	result := testResult("run-1", []models.Post{testPost("p1", "alice", 1)})
	_, err := store.SaveResult(ctx, result)
	require.NoError(t, err)
	_, err = store.SaveResult(ctx, result)
	require.Error(t, err)

	// The failed transaction left nothing behind
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Runs)
	require.Equal(t, 1, stats.Posts)
}

func TestLoadAuthorNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.LoadAuthor(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImportFromJsonExport(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	original := testResult("run-1", []models.Post{testPost("p1", "alice", 1)}, models.Author{ //nolint:exhaustruct
		Handle: "alice",
	})
	var buf bytes.Buffer
	require.NoError(t, export.WriteJSON(&buf, original))
	document, err := export.ReadJSON(&buf)
	require.NoError(t, err)

	result, err := ResultFromDocument(document)
	require.NoError(t, err)
	require.Equal(t, scraper.FeedTarget("alice"), result.Summary.Target)
	require.Equal(t, 1, result.Authors.Len())

	stats, err := store.SaveResult(ctx, result)
	require.NoError(t, err)
	require.Equal(t, 1, stats.NewPosts)

	document.Kind = "timeline"
	_, err = ResultFromDocument(document)
	require.Error(t, err)
}

func holdWriteLock(t *testing.T, path string) {
	locker, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	locker.SetMaxOpenConns(1)
	_, err = locker.Exec(`begin exclusive`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = locker.Exec(`rollback`)
		_ = locker.Close()
	})
}

func TestSaveResultGivesUpOnHeldLock(t *testing.T) {
	store := openTestStore(t)
	holdWriteLock(t, store.Path)

	result := testResult("run-locked", []models.Post{testPost("p1", "alice", 1)})
	stats, err := store.SaveResult(context.Background(), result)
	require.Error(t, err)
	require.True(t, isBusy(err))
	require.Equal(t, busyRetries, stats.BusyRetries)
}

func TestSaveResultStopsRetryingOnCancel(t *testing.T) {
	store := openTestStore(t)
	holdWriteLock(t, store.Path)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	result := testResult("run-locked", []models.Post{testPost("p1", "alice", 1)})
	stats, err := store.SaveResult(ctx, result)
	require.Error(t, err)
	require.Less(t, stats.BusyRetries, busyRetries)
}
