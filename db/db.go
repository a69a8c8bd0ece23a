package db

import (
	"context"
	"feedscroll/config"
	"feedscroll/export"
	"feedscroll/models"
	"feedscroll/oops"
	"feedscroll/scraper"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	om "github.com/wk8/go-ordered-map/v2"
)

var DbCmd *cobra.Command

var (
	configPath string
	sqlitePath string
)

func init() {
	DbCmd = &cobra.Command{
		Use:   "db",
		Short: "Manage the sqlite store of scraped posts",
	}
	DbCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	DbCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "sqlite file (overrides config)")

	migrateCmd := &cobra.Command{
		Use: "migrate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ config.Config, store *Store) error {
				applied, err := store.Migrate(ctx)
				for _, version := range applied {
					fmt.Println(version)
				}
				return err
			})
		},
	}

	rollbackCmd := &cobra.Command{
		Use: "rollback",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ config.Config, store *Store) error {
				version, err := store.Rollback(ctx)
				if err != nil {
					return err
				}
				fmt.Println(version, "rolled back")
				return nil
			})
		},
	}

	statsCmd := &cobra.Command{
		Use: "stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ config.Config, store *Store) error {
				if err := store.EnsureLatestMigration(ctx); err != nil {
					return err
				}
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				printStats(stats)
				return nil
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file.json>...",
		Short: "Load json exports into the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ config.Config, store *Store) error {
				if err := store.EnsureLatestMigration(ctx); err != nil {
					return err
				}
				for _, path := range args {
					stats, err := importFile(ctx, store, path)
					if err != nil {
						return err
					}
					fmt.Printf(
						"%s: %d new posts, %d updated, %d authors\n",
						path, stats.NewPosts, stats.UpdatedPosts, stats.Authors,
					)
				}
				return nil
			})
		},
	}

	var postsLimit int
	postsCmd := &cobra.Command{
		Use:  "posts <handle>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, _ config.Config, store *Store) error {
				handle, ok := scraper.NormalizeHandle(args[0])
				if !ok {
					return oops.Newf("invalid handle: %q", args[0])
				}
				posts, err := store.LoadPosts(ctx, handle, postsLimit)
				if err != nil {
					return err
				}
				for i := range posts {
					fmt.Println(posts[i].String())
				}
				return nil
			})
		},
	}
	postsCmd.Flags().IntVar(&postsLimit, "limit", 20, "max posts to print, 0 for all")

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload a snapshot of the store to S3 and prune old snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, store *Store) error {
				return backup(ctx, cfg.Backup, store)
			})
		},
	}

	DbCmd.AddCommand(migrateCmd)
	DbCmd.AddCommand(rollbackCmd)
	DbCmd.AddCommand(statsCmd)
	DbCmd.AddCommand(importCmd)
	DbCmd.AddCommand(postsCmd)
	DbCmd.AddCommand(backupCmd)
}

func backup(ctx context.Context, cfg config.Backup, store *Store) error {
	if cfg.S3Bucket == "" {
		return oops.New("No backup bucket, set backup.s3_bucket or FEEDSCROLL_BACKUP_BUCKET")
	}
	tempDir, err := os.MkdirTemp("", "feedscroll-backup")
	if err != nil {
		return oops.Wrap(err)
	}
	defer os.RemoveAll(tempDir)

	snapshotPath := filepath.Join(tempDir, "snapshot.sqlite")
	if err := store.Snapshot(ctx, snapshotPath); err != nil {
		return err
	}
	snapshot, err := os.Open(snapshotPath)
	if err != nil {
		return oops.Wrap(err)
	}
	defer snapshot.Close()

	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return err
	}
	result, err := UploadBackup(ctx, client, snapshot, BackupOptions{
		Bucket:   cfg.S3Bucket,
		Prefix:   cfg.S3Prefix,
		Keep:     cfg.Keep,
		PartSize: 0,
		Now:      time.Now(),
	})
	if err != nil {
		return err
	}
	fmt.Printf(
		"s3://%s/%s: %d bytes in %d parts, %d old backups deleted\n",
		cfg.S3Bucket, result.Key, result.Size, result.Parts, result.Deleted,
	)
	return nil
}

func withStore(
	ctx context.Context, f func(ctx context.Context, cfg config.Config, store *Store) error,
) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	path := cfg.Output.SqlitePath
	if sqlitePath != "" {
		path = sqlitePath
	}
	if path == "" {
		return oops.New("No sqlite path, set output.sqlite_path or pass --sqlite-path")
	}

	store, err := Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	return f(ctx, cfg, store)
}

// ResultFromDocument rebuilds a run result from its json export.
func ResultFromDocument(document export.Document) (*scraper.Result, error) {
	var target scraper.Target
	switch document.Kind {
	case scraper.TargetKindFeed.String():
		target = scraper.FeedTarget(document.Target)
	case scraper.TargetKindProfile.String():
		target = scraper.ProfileTarget(document.Target)
	default:
		return nil, oops.Newf("unknown target kind: %q", document.Kind)
	}
	if document.Summary.RunId == "" {
		return nil, oops.New("document has no run id")
	}

	authors := om.New[string, models.Author]()
	for _, author := range document.Authors {
		authors.Set(author.Handle, author)
	}
	summary := document.Summary
	summary.Target = target
	return &scraper.Result{
		Posts:   document.Posts,
		Authors: authors,
		Summary: summary,
		Outcome: document.Outcome,
	}, nil
}

func importFile(ctx context.Context, store *Store, path string) (SaveStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return SaveStats{}, oops.Wrap(err) //nolint:exhaustruct
	}
	defer file.Close()

	document, err := export.ReadJSON(file)
	if err != nil {
		return SaveStats{}, oops.Wrapf(err, "reading %s", path) //nolint:exhaustruct
	}
	result, err := ResultFromDocument(document)
	if err != nil {
		return SaveStats{}, oops.Wrapf(err, "reading %s", path) //nolint:exhaustruct
	}
	return store.SaveResult(ctx, result)
}

func printStats(stats Stats) {
	fmt.Printf("Runs: %d\n", stats.Runs)
	fmt.Printf("Posts: %d\n", stats.Posts)
	fmt.Printf("Authors: %d\n", stats.Authors)
	if stats.MaybeLastFinishedAt != nil {
		fmt.Printf("Last run finished: %s\n", stats.MaybeLastFinishedAt.Format(time.RFC3339))
	}
	for _, author := range stats.TopAuthors {
		fmt.Printf("  @%s: %d\n", author.Handle, author.Posts)
	}
}
