package scrape

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"feedscroll/config"
	"feedscroll/log"
	"feedscroll/oops"
	"feedscroll/scraper"
	"feedscroll/telemetry"
)

type TargetResult struct {
	Index  int
	Target scraper.Target
	// Nil only when the session couldn't be set up at all
	Result *scraper.Result
	Err    error
}

// Runner scrapes targets on a fixed number of threads sharing one content source.
type Runner struct {
	Source         scraper.ContentSource
	Cfg            config.Scrape
	Threads        int
	Sink           scraper.ProgressSink
	MaybeLogDir    string
	MaybeClock     scraper.Clock
	StatusInterval time.Duration
}

// RunAll returns one result per target, in target order. onResult is called from a single
// goroutine as soon as each target finishes.
func (r *Runner) RunAll(
	ctx context.Context, targets []scraper.Target, onResult func(TargetResult),
) []TargetResult {
	startTime := time.Now()
	threads := r.Threads
	if threads > len(targets) {
		threads = len(targets)
	}
	if threads < 1 {
		threads = 1
	}

	type input struct {
		Index  int
		Target scraper.Target
	}
	inputChan := make(chan input)
	go func() {
		for i, target := range targets {
			inputChan <- input{Index: i, Target: target}
		}
		close(inputChan)
	}()

	resultChan := make(chan TargetResult, len(targets))

	type Progress struct {
		ThreadIdx int
		Target    string
	}
	progressChan := make(chan Progress, len(targets)+threads)

	for threadIdx := 0; threadIdx < threads; threadIdx++ {
		go func() {
			for in := range inputChan {
				progressChan <- Progress{
					ThreadIdx: threadIdx,
					Target:    in.Target.String(),
				}
				result := r.runSingle(ctx, in.Target)
				result.Index = in.Index
				resultChan <- result
			}
			progressChan <- Progress{
				ThreadIdx: threadIdx,
				Target:    "",
			}
		}()
	}

	statusInterval := r.StatusInterval
	if statusInterval <= 0 {
		statusInterval = 5 * time.Second
	}
	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	progresses := make([]string, threads)
	results := make([]TargetResult, len(targets))
	finished := 0
	for finished < len(targets) {
		select {
		case progress := <-progressChan:
			progresses[progress.ThreadIdx] = progress.Target
		case result := <-resultChan:
			results[result.Index] = result
			finished++
			if onResult != nil {
				onResult(result)
			}
		case <-statusTicker.C:
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			running := 0
			for _, target := range progresses {
				if target != "" {
					running++
				}
			}
			event := log.Info().
				Str("elapsed", formatElapsed(time.Since(startTime))).
				Int("total", len(targets)).
				Int("to_process", len(targets)-finished).
				Int("running", running).
				Strs("threads", progresses).
				Uint64("heap_mb", memStats.HeapAlloc/1024/1024)
			// Browser tabs live outside the Go heap
			if vmem, err := mem.VirtualMemory(); err == nil {
				event = event.Uint64("sys_used_mb", vmem.Used/1024/1024).
					Float64("sys_used_pct", vmem.UsedPercent)
			}
			if cpuPercents, err := cpu.Percent(0, false); err == nil && len(cpuPercents) > 0 {
				event = event.Float64("cpu_pct", cpuPercents[0])
			}
			event.Msg("Scrape status")
		}
	}
	return results
}

func (r *Runner) runSingle(ctx context.Context, target scraper.Target) (result TargetResult) {
	result.Target = target
	defer func() {
		if rvr := recover(); rvr != nil {
			result.Err = oops.Newf("%s panicked: %v", target, rvr)
		}
	}()

	logger, closeLogger, err := r.newLogger(target)
	if err != nil {
		result.Err = err
		return result
	}
	defer closeLogger()

	sinks := telemetry.Tee{scraper.NewMockProgressSink(logger)}
	if r.Sink != nil {
		sinks = append(sinks, r.Sink)
	}
	opts := []scraper.SessionOption{
		scraper.WithLogger(logger),
		scraper.WithProgressSink(sinks),
	}
	if r.MaybeClock != nil {
		opts = append(opts, scraper.WithClock(r.MaybeClock))
	}
	session := scraper.NewSession(r.Source, r.Cfg, opts...)
	result.Result, result.Err = session.Run(ctx, target)
	return result
}

func (r *Runner) newLogger(target scraper.Target) (scraper.Logger, func(), error) {
	if r.MaybeLogDir == "" {
		logger := scraper.NewZeroLogger(log.With().Str("target", target.String()).Logger())
		return logger, func() {}, nil
	}

	dir := filepath.Join(r.MaybeLogDir, fmt.Sprintf("%s_%s", target.Kind, target.Handle))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, oops.Wrap(err)
	}
	logFile, err := os.Create(filepath.Join(dir, "log.txt"))
	if err != nil {
		return nil, nil, oops.Wrap(err)
	}
	logger := &FileLogger{ //nolint:exhaustruct
		File: logFile,
		Dir:  dir,
	}
	closeLogger := func() {
		if err := logFile.Close(); err != nil {
			log.Warn().Err(err).Str("target", target.String()).Msg("Couldn't close log file")
		}
	}
	return logger, closeLogger, nil
}

func formatElapsed(elapsed time.Duration) string {
	elapsedSeconds := int(elapsed.Seconds())
	if elapsedSeconds < 60 {
		return fmt.Sprintf("%ds", elapsedSeconds)
	} else if elapsedSeconds < 3600 {
		return fmt.Sprintf("%dm%02ds", elapsedSeconds/60, elapsedSeconds%60)
	}
	return fmt.Sprintf(
		"%dh%02dm%02ds", elapsedSeconds/3600, (elapsedSeconds%3600)/60, elapsedSeconds%60,
	)
}
