package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docucrawl/internal/api"
	"github.com/JakeFAU/docucrawl/internal/app"
	"github.com/JakeFAU/docucrawl/internal/config"
	"github.com/JakeFAU/docucrawl/internal/crawler"
	"github.com/JakeFAU/docucrawl/internal/orchestrator"
	"github.com/JakeFAU/docucrawl/internal/report"
	localstorage "github.com/JakeFAU/docucrawl/internal/storage/local"
)

const closeTimeout = 10 * time.Second

// errCanceled reports an interrupted crawl after its partial report is written.
var errCanceled = errors.New("crawl canceled")

type crawlFlags struct {
	urlsFile    string
	output      string
	strategy    string
	concurrency int
	delay       float64
	headless    bool
	persist     bool
	quiet       bool
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd(state *cliState) *cobra.Command {
	flags := &crawlFlags{}
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Crawl URLs and write a markdown report",
		Long: `Fetches every URL with the configured strategy chain, converts each page to
markdown, and writes the combined report. Failed pages appear in the report
as error blocks; they never abort the run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, state, flags, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.urlsFile, "urls-file", "f", "", "file with one URL per line (# starts a comment)")
	f.StringVarP(&flags.output, "output", "o", report.DefaultFilename, `report path, or "-" for stdout`)
	f.StringVar(&flags.strategy, "strategy", "", "strategy order: hybrid, direct-only, browser-http, browser-raw-html")
	f.IntVarP(&flags.concurrency, "concurrency", "c", 0, "maximum tasks in flight")
	f.Float64Var(&flags.delay, "delay", 0, "seconds to wait before each task beyond the first batch")
	f.BoolVar(&flags.headless, "headless", true, "enable headless browser strategies")
	f.BoolVar(&flags.persist, "persist", false, "also store the report through the configured storage backend")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

func runCrawl(cmd *cobra.Command, state *cliState, flags *crawlFlags, args []string) error {
	cfg := state.cfg
	if err := applyCrawlFlags(cmd, flags, &cfg); err != nil {
		return err
	}
	urls, err := collectURLs(args, flags.urlsFile)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return errors.New("no URLs given: pass them as arguments or with --urls-file")
	}

	logger := state.logger
	// One-shot runs have no scrape endpoint, so skip the progress collectors.
	a, err := buildApp(cmd.Context(), cfg, logger, app.WithRegisterer(nil))
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := a.Close(ctx); cerr != nil {
			logger.Warn("close application failed", zap.Error(cerr))
		}
	}()

	run, err := a.Start(cmd.Context(), api.LaunchRequest{
		URLs:       urls,
		Strategy:   cfg.StrategyOrder(),
		Limits:     cfg.Limits(),
		Extraction: cfg.RunExtraction(),
	})
	if err != nil {
		return err
	}
	logger.Info("crawl started", zap.String("run_id", run.ID()), zap.Int("urls", len(urls)))

	var tracked <-chan struct{}
	if !flags.quiet {
		tracked = trackProgress(run, len(urls), cmd.ErrOrStderr())
	}
	rep, err := run.Wait(context.Background())
	if err != nil {
		return fmt.Errorf("wait for run: %w", err)
	}
	if tracked != nil {
		<-tracked
	}

	location, err := writeReport(cmd.Context(), cmd.OutOrStdout(), flags.output, rep)
	if err != nil {
		return err
	}
	if flags.persist {
		record, perr := a.Persist(context.WithoutCancel(cmd.Context()), rep)
		if perr != nil {
			return perr
		}
		location = record.BlobURI
	}
	printSummary(cmd.ErrOrStderr(), rep, run.Canceled(), location)
	if run.Canceled() {
		return errCanceled
	}
	return nil
}

// applyCrawlFlags copies explicitly set flags over cfg and revalidates it.
func applyCrawlFlags(cmd *cobra.Command, flags *crawlFlags, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	if changed("strategy") {
		cfg.Crawl.Strategy = flags.strategy
	}
	if changed("concurrency") {
		cfg.Crawl.Concurrency = flags.concurrency
	}
	if changed("delay") {
		cfg.Crawl.DelaySeconds = flags.delay
	}
	if changed("headless") {
		cfg.Headless.Enabled = flags.headless
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// collectURLs merges positional URLs with those read from path.
func collectURLs(args []string, path string) ([]string, error) {
	urls := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if path == "" {
		return urls, nil
	}
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer func() { _ = file.Close() }()
	fromFile, err := readURLs(file)
	if err != nil {
		return nil, err
	}
	return append(urls, fromFile...), nil
}

// readURLs returns one URL per non-blank line, skipping # comments.
func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

// trackProgress draws a bar from run snapshots. The returned channel closes
// once the final snapshot has been drawn.
func trackProgress(run *orchestrator.Run, total int, w io.Writer) <-chan struct{} {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("crawling"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	done := make(chan struct{})
	sub := run.Subscribe()
	go func() {
		defer close(done)
		defer sub.Unsubscribe()
		for snap := range sub.C() {
			bar.Describe(describeSnapshot(snap))
			_ = bar.Set(snap.Done())
			if snap.Complete {
				_ = bar.Finish()
			}
		}
	}()
	return done
}

func describeSnapshot(snap crawler.ProgressSnapshot) string {
	if snap.Complete {
		return "done"
	}
	if len(snap.InFlightURL) == 0 {
		return "crawling"
	}
	return "crawling " + crawler.TruncateRunes(snap.InFlightURL[0], 48)
}

// writeReport renders rep to stdout or atomically to path.
func writeReport(ctx context.Context, stdout io.Writer, path string, rep crawler.CrawlReport) (string, error) {
	rendered := report.Render(rep)
	if path == "-" {
		if _, err := io.WriteString(stdout, rendered); err != nil {
			return "", fmt.Errorf("write report: %w", err)
		}
		return "stdout", nil
	}
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	blobs, err := localstorage.New(localstorage.Config{BaseDir: dir})
	if err != nil {
		return "", fmt.Errorf("open output directory: %w", err)
	}
	uri, err := blobs.PutObject(ctx, name, "text/markdown; charset=utf-8", strings.NewReader(rendered))
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return uri, nil
}
