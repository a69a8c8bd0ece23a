package db

import (
	"context"
	"database/sql"
	"errors"
	"feedscroll/db/migrations"
	"feedscroll/db/sqlw"
	"feedscroll/models"
	"feedscroll/oops"
	"feedscroll/scraper"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

const (
	sqliteError   = 1
	sqliteBusy    = 5
	busyRetries   = 3
	sqliteTimeFmt = time.RFC3339Nano
)

var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(normal)",
	"journal_size_limit(6144000)",
	"busy_timeout(1000)",
	"foreign_keys(1)",
}

// Store keeps scraped posts and authors across runs. Posts and authors are upserted by
// identity, so rescraping a feed refreshes counters instead of duplicating rows.
type Store struct {
	db   *sqlw.DB
	Path string
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, oops.New("sqlite path is empty")
	}
	var dsn strings.Builder
	dsn.WriteString(path)
	for i, pragma := range pragmas {
		if i == 0 {
			dsn.WriteString("?")
		} else {
			dsn.WriteString("&")
		}
		dsn.WriteString("_pragma=")
		dsn.WriteString(pragma)
	}

	db, err := sql.Open("sqlite", dsn.String())
	if err != nil {
		return nil, oops.Wrapf(err, "opening %s", path)
	}
	// Single writer, concurrent sessions queue up on the pool instead of hitting SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, oops.Wrapf(err, "opening %s", path)
	}
	return &Store{
		db:   sqlw.Wrap(db),
		Path: path,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Extended result codes are on, the primary code is the low byte.
func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqliteBusy
}

func isNoSuchTable(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code() == sqliteError &&
		strings.Contains(sqliteErr.Error(), "no such table")
}

func (s *Store) appliedVersions(conn *sqlw.Conn) (map[string]bool, string, error) {
	conn.MustExec(`create table if not exists schema_migrations (version text primary key)`)
	rows, err := conn.Query(`select version from schema_migrations order by version asc`)
	if err != nil {
		return nil, "", oops.Wrap(err)
	}
	defer rows.Close()

	versions := map[string]bool{}
	var latest string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, "", oops.Wrap(err)
		}
		versions[version] = true
		if version > latest {
			latest = version
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", oops.Wrap(err)
	}
	return versions, latest, nil
}

// Migrate applies pending migrations in version order and returns the versions it applied.
func (s *Store) Migrate(ctx context.Context) (applied []string, err error) {
	conn := s.db.Conn(ctx)
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
	}()

	dbVersions, latestDbVersion, err := s.appliedVersions(conn)
	if err != nil {
		return nil, err
	}
	for _, migration := range migrations.All {
		version := migration.Version()
		if version <= latestDbVersion && !dbVersions[version] {
			return nil, oops.Newf("Old migration is not in db: %s", version)
		}
	}

	for _, migration := range migrations.All {
		version := migration.Version()
		if version <= latestDbVersion {
			continue
		}
		err := s.inTx(conn, func(tx *sqlw.Tx) {
			migration.Up(migrations.WrapTx(tx))
			tx.MustExec(`insert into schema_migrations (version) values (?)`, version)
		})
		if err != nil {
			return applied, oops.Wrapf(err, "migration %s", version)
		}
		applied = append(applied, version)
	}
	return applied, nil
}

// Rollback reverts the latest applied migration.
func (s *Store) Rollback(ctx context.Context) (version string, err error) {
	conn := s.db.Conn(ctx)
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
	}()

	_, latestDbVersion, err := s.appliedVersions(conn)
	if err != nil {
		return "", err
	}
	if latestDbVersion == "" {
		return "", oops.New("No migrations to roll back")
	}

	for _, migration := range migrations.All {
		if migration.Version() != latestDbVersion {
			continue
		}
		err := s.inTx(conn, func(tx *sqlw.Tx) {
			migration.Down(migrations.WrapTx(tx))
			result := tx.MustExec(`delete from schema_migrations where version = ?`, latestDbVersion)
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				panic(err)
			}
			if rowsAffected != 1 {
				panic(fmt.Errorf("Expected to delete a single row, got %d", rowsAffected))
			}
		})
		if err != nil {
			return "", oops.Wrapf(err, "rolling back %s", latestDbVersion)
		}
		return latestDbVersion, nil
	}
	return "", oops.Newf("Migration version %s not found in code", latestDbVersion)
}

// EnsureLatestMigration fails when the database is behind the code.
func (s *Store) EnsureLatestMigration(ctx context.Context) error {
	row := s.db.Conn(ctx).QueryRow(`select max(version) from schema_migrations`)
	var maybeLatestDbVersion *string
	if err := row.Scan(&maybeLatestDbVersion); err != nil {
		if isNoSuchTable(err) {
			return oops.New("Database is not migrated, run \"db migrate\"")
		}
		return oops.Wrap(err)
	}
	for _, migration := range migrations.All {
		if maybeLatestDbVersion == nil || migration.Version() > *maybeLatestDbVersion {
			return oops.Newf("Migration is not in db: %s", migration.Version())
		}
	}
	return nil
}

// inTx runs f in a transaction, turning panics from Must* calls into errors.
func (s *Store) inTx(conn *sqlw.Conn, f func(tx *sqlw.Tx)) (err error) {
	tx, err := conn.Begin()
	if err != nil {
		return oops.Wrap(err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = recoveredError(r)
		}
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				err = oops.Wrapf(err, "rollback error: %v", rollbackErr)
			}
		}
	}()

	f(tx)
	return oops.Wrap(tx.Commit())
}

func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return oops.Wrap(err)
	}
	return oops.Newf("%v", r)
}

type SaveStats struct {
	NewPosts     int
	UpdatedPosts int
	Authors      int
	BusyRetries  int
}

// SaveResult stores the run with its posts and authors in one transaction, retrying when
// another process holds the write lock.
func (s *Store) SaveResult(ctx context.Context, result *scraper.Result) (SaveStats, error) {
	retries := 0
	for {
		stats, err := s.saveResultOnce(ctx, result)
		stats.BusyRetries = retries
		if err == nil || !isBusy(err) || retries >= busyRetries {
			return stats, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, oops.Wrapf(err, "gave up after %d busy retries: %v", retries, ctxErr)
		}
		retries++
	}
}

func (s *Store) saveResultOnce(ctx context.Context, result *scraper.Result) (SaveStats, error) {
	var stats SaveStats
	summaryJson, err := json.Marshal(result.Summary)
	if err != nil {
		return stats, oops.Wrap(err)
	}

	conn := s.db.Conn(ctx)
	err = s.inTx(conn, func(tx *sqlw.Tx) {
		summary := result.Summary
		tx.MustExec(`
			insert into runs (
				id, target, kind, outcome, exhaust_reason, rounds, productive_rounds, posts, retries,
				summary, started_at, finished_at
			)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, summary.RunId, summary.Target.Handle, summary.Target.Kind.String(), string(result.Outcome),
			string(summary.ExhaustReason), summary.Rounds, summary.ProductiveRounds, len(result.Posts),
			summary.Retries, string(summaryJson), formatTime(summary.StartedAt),
			formatTime(summary.FinishedAt),
		)

		for pair := result.Authors.Oldest(); pair != nil; pair = pair.Next() {
			mustUpsertAuthor(tx, &pair.Value, summary.FinishedAt)
			stats.Authors++
		}

		postsBefore := mustCount(tx, `select count(1) from posts`)
		for i := range result.Posts {
			mustUpsertPost(tx, &result.Posts[i], summary.RunId)
		}
		postsAfter := mustCount(tx, `select count(1) from posts`)
		stats.NewPosts = postsAfter - postsBefore
		stats.UpdatedPosts = len(result.Posts) - stats.NewPosts
	})
	if err != nil {
		return stats, oops.Wrapf(err, "saving run %s", result.Summary.RunId)
	}
	return stats, nil
}

func mustCount(tx *sqlw.Tx, query string) int {
	var count int
	if err := tx.QueryRow(query).Scan(&count); err != nil {
		panic(err)
	}
	return count
}

func mustUpsertAuthor(tx *sqlw.Tx, author *models.Author, updatedAt time.Time) {
	tx.MustExec(`
		insert into authors (
			handle, display_name, bio, location, website, followers, following, post_count, verified,
			updated_at
		)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (handle) do update set
			display_name = coalesce(nullif(excluded.display_name, ''), authors.display_name),
			bio = coalesce(nullif(excluded.bio, ''), authors.bio),
			location = coalesce(nullif(excluded.location, ''), authors.location),
			website = coalesce(nullif(excluded.website, ''), authors.website),
			followers = case when excluded.followers > 0 then excluded.followers else authors.followers end,
			following = case when excluded.following > 0 then excluded.following else authors.following end,
			post_count = case when excluded.post_count > 0 then excluded.post_count else authors.post_count end,
			verified = max(excluded.verified, authors.verified),
			updated_at = excluded.updated_at
	`, author.Handle, author.DisplayName, author.Bio, author.Location, author.Website,
		author.Followers, author.Following, author.PostCount, author.Verified, formatTime(updatedAt),
	)
}

func mustUpsertPost(tx *sqlw.Tx, post *models.Post, runId string) {
	tx.MustExec(`
		insert into posts (
			id, author_handle, author_name, body, created_at, likes, reposts, replies, quotes,
			mentions, tags, urls, locator, is_reply, is_repost, scraped_at, first_run_id, last_run_id
		)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		on conflict (id) do update set
			author_name = excluded.author_name,
			likes = excluded.likes,
			reposts = excluded.reposts,
			replies = excluded.replies,
			quotes = excluded.quotes,
			scraped_at = excluded.scraped_at,
			last_run_id = excluded.last_run_id
	`, string(post.Id), post.AuthorHandle, post.AuthorName, post.Body, formatTime(post.CreatedAt),
		post.Likes, post.Reposts, post.Replies, post.Quotes, mustJsonList(post.Mentions),
		mustJsonList(post.Tags), mustJsonList(post.Urls), post.Locator, post.IsReply, post.IsRepost,
		formatTime(post.ScrapedAt), runId, runId,
	)
}

func mustJsonList(values []string) string {
	if values == nil {
		values = []string{}
	}
	bytes, err := json.Marshal(values)
	if err != nil {
		panic(err)
	}
	return string(bytes)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFmt)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeFmt, value)
	if err != nil {
		return time.Time{}, oops.Wrap(err)
	}
	return t, nil
}

// LoadPosts returns the author's posts, newest first. A non-positive limit returns all.
func (s *Store) LoadPosts(ctx context.Context, handle string, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Conn(ctx).Query(`
		select
			id, author_handle, author_name, body, created_at, likes, reposts, replies, quotes,
			mentions, tags, urls, locator, is_reply, is_repost, scraped_at
		from posts
		where author_handle = ?
		order by created_at desc, id asc
		limit ?
	`, handle, limit)
	if err != nil {
		return nil, oops.Wrap(err)
	}
	defer rows.Close()

	posts := []models.Post{}
	for rows.Next() {
		var post models.Post
		var id, createdAt, mentions, tags, urls, scrapedAt string
		err := rows.Scan(
			&id, &post.AuthorHandle, &post.AuthorName, &post.Body, &createdAt, &post.Likes,
			&post.Reposts, &post.Replies, &post.Quotes, &mentions, &tags, &urls, &post.Locator,
			&post.IsReply, &post.IsRepost, &scrapedAt,
		)
		if err != nil {
			return nil, oops.Wrap(err)
		}
		post.Id = models.PostId(id)
		if post.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if post.ScrapedAt, err = parseTime(scrapedAt); err != nil {
			return nil, err
		}
		for _, list := range []struct {
			value  string
			target *[]string
		}{{mentions, &post.Mentions}, {tags, &post.Tags}, {urls, &post.Urls}} {
			if err := json.Unmarshal([]byte(list.value), list.target); err != nil {
				return nil, oops.Wrapf(err, "post %s", id)
			}
		}
		if len(post.Urls) == 0 {
			post.Urls = nil
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Wrap(err)
	}
	return posts, nil
}

func (s *Store) LoadAuthor(ctx context.Context, handle string) (models.Author, error) {
	row := s.db.Conn(ctx).QueryRow(`
		select handle, display_name, bio, location, website, followers, following, post_count, verified
		from authors
		where handle = ?
	`, handle)
	var author models.Author
	err := row.Scan(
		&author.Handle, &author.DisplayName, &author.Bio, &author.Location, &author.Website,
		&author.Followers, &author.Following, &author.PostCount, &author.Verified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Author{}, oops.Wrapf(ErrNotFound, "author %s", handle) //nolint:exhaustruct
	} else if err != nil {
		return models.Author{}, oops.Wrap(err) //nolint:exhaustruct
	}
	return author, nil
}

type AuthorPostCount struct {
	Handle string
	Posts  int
}

type Stats struct {
	Runs                int
	Posts               int
	Authors             int
	MaybeLastFinishedAt *time.Time
	TopAuthors          []AuthorPostCount
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	conn := s.db.Conn(ctx)
	var stats Stats
	var maybeLastFinishedAt *string
	row := conn.QueryRow(`
		select
			(select count(1) from runs),
			(select count(1) from posts),
			(select count(1) from authors),
			(select max(finished_at) from runs)
	`)
	if err := row.Scan(&stats.Runs, &stats.Posts, &stats.Authors, &maybeLastFinishedAt); err != nil {
		return Stats{}, oops.Wrap(err) //nolint:exhaustruct
	}
	if maybeLastFinishedAt != nil {
		lastFinishedAt, err := parseTime(*maybeLastFinishedAt)
		if err != nil {
			return Stats{}, err //nolint:exhaustruct
		}
		stats.MaybeLastFinishedAt = &lastFinishedAt
	}

	rows, err := conn.Query(`
		select author_handle, count(1) as post_count
		from posts
		group by author_handle
		order by post_count desc, author_handle asc
		limit 5
	`)
	if err != nil {
		return Stats{}, oops.Wrap(err) //nolint:exhaustruct
	}
	defer rows.Close()
	stats.TopAuthors = []AuthorPostCount{}
	for rows.Next() {
		var authorPostCount AuthorPostCount
		if err := rows.Scan(&authorPostCount.Handle, &authorPostCount.Posts); err != nil {
			return Stats{}, oops.Wrap(err) //nolint:exhaustruct
		}
		stats.TopAuthors = append(stats.TopAuthors, authorPostCount)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, oops.Wrap(err) //nolint:exhaustruct
	}
	return stats, nil
}
