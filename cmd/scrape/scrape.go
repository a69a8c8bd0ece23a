package scrape

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"feedscroll/config"
	"feedscroll/db"
	"feedscroll/db/sqlw"
	"feedscroll/export"
	"feedscroll/log"
	"feedscroll/oops"
	"feedscroll/scraper"
	"feedscroll/telemetry"
)

const kafkaPublishTimeout = 30 * time.Second

var Scrape *cobra.Command
var Profile *cobra.Command

type options struct {
	ConfigPath     string
	MaxItems       int
	MaxRounds      int
	Threads        int
	Formats        []string
	OutDir         string
	DryRun         bool
	MetricsAddr    string
	SqlitePath     string
	LogDir         string
	IncludeReplies bool
	MinLikes       int
}

var opts options

func init() {
	Scrape = &cobra.Command{
		Use:   "scrape <handle>...",
		Short: "Scroll through the feeds of the given accounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, scraper.TargetKindFeed, args)
		},
	}
	Scrape.Flags().BoolVar(&opts.IncludeReplies, "include-replies", false, "scrape the replies tab")

	Profile = &cobra.Command{
		Use:   "profile <handle>...",
		Short: "Scrape account profiles with their first page of posts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, scraper.TargetKindProfile, args)
		},
	}

	for _, cmd := range []*cobra.Command{Scrape, Profile} {
		cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
		cmd.Flags().IntVar(&opts.MaxItems, "max-items", 0, "posts to collect per target")
		cmd.Flags().IntVar(&opts.MaxRounds, "max-rounds", 0, "scroll rounds per target")
		cmd.Flags().IntVar(&opts.Threads, "threads", 2, "targets scraped concurrently")
		cmd.Flags().StringSliceVar(&opts.Formats, "format", nil, "output formats: json, ndjson, csv, html")
		cmd.Flags().StringVar(&opts.OutDir, "out", "", "output directory")
		cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "serve a synthetic feed instead of a browser")
		cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve /metrics and the /progress websocket on this address")
		cmd.Flags().StringVar(&opts.SqlitePath, "sqlite-path", "", "also store results in this sqlite file")
		cmd.Flags().StringVar(&opts.LogDir, "log-dir", "", "write a log file per target into this directory")
		cmd.Flags().IntVar(&opts.MinLikes, "min-likes", 0, "only keep posts with at least this many likes")
	}
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err //nolint:exhaustruct
	}

	flags := cmd.Flags()
	if flags.Changed("max-items") {
		cfg.Scrape.MaxItems = opts.MaxItems
	}
	if flags.Changed("max-rounds") {
		cfg.Scrape.MaxRounds = opts.MaxRounds
	}
	if flags.Changed("format") {
		cfg.Output.Formats = opts.Formats
	}
	if flags.Changed("out") {
		cfg.Output.Dir = opts.OutDir
	}
	if flags.Changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = opts.MetricsAddr
	}
	if flags.Changed("sqlite-path") {
		cfg.Output.SqlitePath = opts.SqlitePath
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err //nolint:exhaustruct
	}
	return cfg, nil
}

func parseTargets(kind scraper.TargetKind, handles []string) ([]scraper.Target, error) {
	var targets []scraper.Target
	seen := map[string]bool{}
	for _, arg := range handles {
		handle, ok := scraper.NormalizeHandle(arg)
		if !ok {
			return nil, oops.Wrap(fmt.Errorf("%w: %q", scraper.ErrInvalidTarget, arg))
		}
		if seen[handle] {
			continue
		}
		seen[handle] = true

		var target scraper.Target
		switch kind {
		case scraper.TargetKindFeed:
			target = scraper.FeedTarget(handle)
			target.IncludeReplies = opts.IncludeReplies
		case scraper.TargetKindProfile:
			target = scraper.ProfileTarget(handle)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func run(cmd *cobra.Command, kind scraper.TargetKind, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := log.Setup(cfg.Log.Level, cfg.Log.Console); err != nil {
		return oops.Wrapf(err, "log level")
	}
	targets, err := parseTargets(kind, args)
	if err != nil {
		return err
	}
	formats := make([]export.Format, 0, len(cfg.Output.Formats))
	for _, value := range cfg.Output.Formats {
		format, err := export.ParseFormat(value)
		if err != nil {
			return err
		}
		formats = append(formats, format)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Tracing shutdown error")
		}
	}()

	recorder := telemetry.NewRecorder()
	var sink scraper.ProgressSink = recorder
	if cfg.Telemetry.MetricsAddr != "" {
		hub := telemetry.NewProgressHub()
		sink = telemetry.Tee{recorder, hub}
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			err := telemetry.Serve(metricsCtx, cfg.Telemetry.MetricsAddr, telemetry.NewRouter(recorder, hub))
			if err != nil {
				log.Error().Err(err).Msg("Metrics endpoint failed")
			}
		}()
	}

	out := &outputs{
		Cfg:        cfg.Output,
		Formats:    formats,
		MaybeStore: nil,
		MaybeKafka: nil,
	}
	if cfg.Output.SqlitePath != "" {
		store, err := db.Open(cfg.Output.SqlitePath)
		if err != nil {
			return err
		}
		defer store.Close()
		applied, err := store.Migrate(ctx)
		if err != nil {
			return err
		}
		for _, version := range applied {
			log.Info().Str("version", version).Msg("Applied migration")
		}
		out.MaybeStore = store
	}
	if len(cfg.Output.KafkaBrokers) > 0 {
		writer := export.NewKafkaWriter(cfg.Output.KafkaBrokers, cfg.Output.KafkaTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				log.Warn().Err(err).Msg("Kafka writer close error")
			}
		}()
		out.MaybeKafka = writer
	}

	var source scraper.ContentSource
	if opts.DryRun {
		source = newDryRunSource()
	} else {
		rodLogger := scraper.NewZeroLogger(log.With().Str("component", "browser").Logger())
		source = scraper.NewRodSource(cfg.Browser, rodLogger)
	}

	runner := &Runner{
		Source:         source,
		Cfg:            cfg.Scrape,
		Threads:        opts.Threads,
		Sink:           sink,
		MaybeLogDir:    opts.LogDir,
		MaybeClock:     nil,
		StatusInterval: 0,
	}
	results := runner.RunAll(ctx, targets, out.Save)

	counts, err := writeReport(os.Stdout, results)
	if err != nil {
		return err
	}
	if counts.Failed > 0 {
		return oops.Newf("%d of %d targets failed", counts.Failed, len(results))
	}
	if counts.Cancelled > 0 {
		log.Warn().Int("cancelled", counts.Cancelled).Msg("Interrupted, partial results were saved")
	}
	return nil
}

type outputs struct {
	Cfg        config.Output
	Formats    []export.Format
	MaybeStore *db.Store
	MaybeKafka export.MessageWriter
}

// Save persists partial results too. It runs after cancellation, so it doesn't take the session
// context.
func (o *outputs) Save(targetResult TargetResult) {
	target := targetResult.Target.String()
	if targetResult.Err != nil {
		log.Error().Err(targetResult.Err).Str("target", target).Msg("Scrape ended with error")
	}
	result := targetResult.Result
	if result == nil {
		return
	}
	if opts.MinLikes > 0 {
		result.Posts = export.FilterByEngagement(result.Posts, opts.MinLikes, 0, 0)
	}

	if len(result.Posts) > 0 || result.Authors.Len() > 0 {
		paths, err := export.WriteResult(o.Cfg.Dir, o.Formats, result)
		if err != nil {
			log.Error().Err(err).Str("target", target).Msg("Export failed")
		}
		for _, path := range paths {
			log.Info().Str("target", target).Str("path", path).Msg("Exported")
		}
	}

	if o.MaybeKafka != nil && len(result.Posts) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), kafkaPublishTimeout)
		published, err := export.PublishPosts(ctx, o.MaybeKafka, result)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("target", target).Int("published", published).Msg("Publishing failed")
		} else {
			log.Info().Str("target", target).Int("published", published).Msg("Published to kafka")
		}
	}

	if o.MaybeStore != nil {
		ctx := sqlw.WithDbDuration(context.Background())
		stats, err := o.MaybeStore.SaveResult(ctx, result)
		if err != nil {
			log.Error().Err(err).Str("target", target).Msg("Saving to sqlite failed")
			return
		}
		log.Info().
			Str("target", target).
			Int("new_posts", stats.NewPosts).
			Int("updated_posts", stats.UpdatedPosts).
			Int("busy_retries", stats.BusyRetries).
			Dur("db_duration", sqlw.DbDuration(ctx)).
			Msg("Saved to sqlite")
	}
}
