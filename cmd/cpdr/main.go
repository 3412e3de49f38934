package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ihaveasegway/cpdr/internal/clipboard"
	"github.com/ihaveasegway/cpdr/internal/config"
	"github.com/ihaveasegway/cpdr/internal/engine"
	"github.com/ihaveasegway/cpdr/internal/event"
	"github.com/ihaveasegway/cpdr/internal/filter"
	"github.com/ihaveasegway/cpdr/internal/payload"
	"github.com/ihaveasegway/cpdr/internal/stats"
	"github.com/ihaveasegway/cpdr/internal/ui"
)

var version = "dev"

// newClipboard opens the system clipboard. Tests replace it.
var newClipboard = func() (clipboard.Writer, error) {
	cb, err := clipboard.NewSystem()
	if err != nil {
		return nil, err
	}
	return cb, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "string" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// flags holds every command-line option of the root command.
type flags struct {
	output         string
	ignore         string
	format         string
	filterFile     string
	minSize        string
	maxSize        string
	bwLimit        string
	logFile        string
	configFile     string
	depth          int
	workers        int
	stdout         bool
	structure      bool
	followSymlinks bool
	overwrite      bool
	failFast       bool
	preserve       bool
	verify         bool
	dryRun         bool
	benchmark      bool
	verbose        bool
	quiet          bool
	showVersion    bool
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	chain := filter.NewChain()

	rootCmd := &cobra.Command{
		Use:   "cpdr [flags] <path>...",
		Short: "Copy directory trees into the clipboard or another directory",
		Long: `cpdr serializes one or more directory trees, plus the contents of their
files, into a single text payload and places it in the system clipboard.

With --output it instead copies a directory (or file) recursively into
another location, writing every file atomically.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if f.showVersion {
				return nil
			}
			if len(args) == 0 {
				cmd.PrintErrln(cmd.UsageString())
				return errors.New("at least one path is required")
			}
			if f.output != "" && len(args) != 1 {
				return fmt.Errorf("--output takes exactly one source, got %d", len(args))
			}
			if f.output != "" && f.stdout {
				return errors.New("--output and --stdout are mutually exclusive")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.showVersion {
				fmt.Fprintf(stdout, "cpdr %s\n", version)
				return nil
			}
			return execute(cmd, args, &f, chain, stdout, stderr)
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	fl := rootCmd.Flags()
	fl.BoolVar(&f.showVersion, "version", false, "print version and exit")
	fl.StringVarP(&f.output, "output", "o", "", "copy into DIR instead of the clipboard")
	fl.BoolVar(&f.stdout, "stdout", false, "write the payload to stdout instead of the clipboard")
	fl.BoolVarP(&f.structure, "structure", "s", false, "only include the directory tree, no file contents")
	fl.StringVarP(&f.ignore, "ignore", "i", "", "comma-separated names to ignore (added to the defaults)")
	fl.IntVarP(&f.depth, "depth", "d", -1, "maximum depth below each root (-1 or 0 for no limit)")
	fl.StringVarP(&f.format, "format", "f", "text", "payload format: text, json or yaml")
	fl.BoolVarP(&f.followSymlinks, "follow-symlinks", "L", false, "follow symlinks instead of copying the link")
	fl.BoolVar(&f.overwrite, "overwrite", false, "replace existing destination entries")
	fl.BoolVar(&f.failFast, "fail-fast", false, "stop at the first failed entry")
	fl.IntVarP(&f.workers, "workers", "n", 0, "number of copy workers (default: min(NumCPU*2, 32))")
	fl.BoolVarP(&f.preserve, "preserve", "p", false, "preserve mode and times of copied entries")
	fl.BoolVar(&f.verify, "verify", false, "verify checksums after copy (BLAKE3)")
	fl.StringVar(&f.bwLimit, "bwlimit", "", "bandwidth limit (e.g. 100M, 1G)")
	fl.BoolVar(&f.dryRun, "dry-run", false, "show what would be copied without writing")
	fl.BoolVar(&f.benchmark, "benchmark", false, "measure throughput before --output copies and auto-tune workers")
	fl.VarP(&filterFlag{chain: chain, include: false}, "exclude", "", "exclude files matching PATTERN (repeatable)")
	fl.VarP(&filterFlag{chain: chain, include: true}, "include", "", "include files matching PATTERN (repeatable)")
	fl.StringVar(&f.filterFile, "filter", "", "read filter rules from FILE")
	fl.StringVar(&f.minSize, "min-size", "", "skip files smaller than SIZE (e.g. 1M, 100K)")
	fl.StringVar(&f.maxSize, "max-size", "", "skip files larger than SIZE (e.g. 1G, 500M)")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "verbose output")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "suppress all output except errors")
	fl.StringVar(&f.logFile, "log", "", "write structured JSON log to FILE")
	fl.StringVar(&f.configFile, "config", config.Path(), "config file")
	fl.VisitAll(func(pf *pflag.Flag) {
		if pf.Name == "exclude" || pf.Name == "include" {
			pf.NoOptDefVal = ""
		}
	})

	rootCmd.AddCommand(newDocsCmd())
	return rootCmd
}

//nolint:gocyclo,revive // cyclomatic,cognitive-complexity: CLI entry point orchestrates flag parsing and mode selection
func execute(
	cmd *cobra.Command,
	args []string,
	f *flags,
	chain *filter.Chain,
	stdout, stderr io.Writer,
) error {
	var (
		cfg    config.Config
		cfgErr error
	)
	if cmd.Flags().Changed("config") {
		cfg, cfgErr = config.LoadFile(f.configFile)
	} else {
		cfg, cfgErr = config.Load()
	}
	applyConfigDefaults(cmd, cfg.Defaults, f)

	// Configure logging.
	logLevel := slog.LevelWarn
	if f.verbose {
		logLevel = slog.LevelDebug
	} else if !f.quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel})
	var logHandler slog.Handler = textHandler
	if f.logFile != "" {
		lf, err := os.Create(f.logFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer lf.Close()
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	if cfgErr != nil {
		logger.Warn("failed to load config", "path", f.configFile, "error", cfgErr)
	}

	// The ignore list only shapes the clipboard payload: config replaces the
	// built-in defaults there. A filesystem copy honours only -i.
	if f.output == "" {
		ignores := filter.DefaultIgnores
		if cfg.Defaults.Ignore != nil {
			ignores = cfg.Defaults.Ignore
		}
		chain.AddIgnores(ignores)
	}
	chain.AddIgnores(filter.ParseList(f.ignore))

	if f.filterFile != "" {
		if err := chain.LoadFile(f.filterFile); err != nil {
			return fmt.Errorf("load filter file: %w", err)
		}
	}
	if f.minSize != "" {
		n, err := filter.ParseSize(f.minSize)
		if err != nil {
			return fmt.Errorf("invalid --min-size: %w", err)
		}
		chain.SetMinSize(n)
	}
	if f.maxSize != "" {
		n, err := filter.ParseSize(f.maxSize)
		if err != nil {
			return fmt.Errorf("invalid --max-size: %w", err)
		}
		chain.SetMaxSize(n)
	}

	var bwLimit int64
	if f.bwLimit != "" {
		n, err := filter.ParseSize(f.bwLimit)
		if err != nil {
			return fmt.Errorf("invalid --bwlimit: %w", err)
		}
		bwLimit = n
	}

	format, err := payload.ParseFormat(f.format)
	if err != nil {
		return fmt.Errorf("invalid --format: %w", err)
	}

	if f.dryRun {
		logger.Info("dry run mode")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.benchmark && f.output != "" {
		res, err := engine.RunBenchmark(ctx, nil, args[0], f.output, 0)
		if err != nil {
			logger.Warn("benchmark failed", "error", err)
		} else {
			fmt.Fprintln(stderr, engine.FormatBenchmark(res))
			if !cmd.Flags().Changed("workers") {
				f.workers = res.SuggestedWorkers
			}
		}
	}

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)

	// Tee events through a logging goroutine when they can reach a log.
	presenterEvents := (<-chan event.Event)(events)
	if f.logFile != "" || f.verbose {
		teed := make(chan event.Event, 256)
		go func() {
			for ev := range events {
				attrs := []slog.Attr{
					slog.String("type", ev.Type.String()),
					slog.String("path", ev.Path),
					slog.Int64("size", ev.Size),
					slog.Int("worker", ev.WorkerID),
				}
				if ev.Error != nil {
					attrs = append(attrs, slog.String("error", ev.Error.Error()))
				}
				logger.LogAttrs(context.Background(), slog.LevelDebug, "cpdr.event", attrs...)
				teed <- ev
			}
			close(teed)
		}()
		presenterEvents = teed
	}

	root := ""
	if len(args) == 1 {
		if abs, err := filepath.Abs(args[0]); err == nil {
			root = abs
		}
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:    stderr,
		ErrWriter: stderr,
		Stats:     collector,
		Theme:     ui.NewTheme(cfg.Theme),
		Root:      root,
		Width:     termWidth(stderr),
		IsTTY:     isTerminal(stderr),
		Quiet:     f.quiet,
		Verbose:   f.verbose,
	})

	opts := engine.Options{
		Stats:          collector,
		Events:         events,
		Workers:        f.workers,
		MaxDepth:       max(f.depth, 0),
		BWLimit:        bwLimit,
		FollowSymlinks: f.followSymlinks,
		Overwrite:      f.overwrite,
		Preserve:       f.preserve,
		Verify:         f.verify,
		DryRun:         f.dryRun,
	}
	if f.failFast {
		opts.Policy = engine.FailFast
	}
	// Only set filter if it has rules/size constraints.
	if !chain.Empty() {
		opts.Filter = chain
	}

	logger.Debug("starting",
		"paths", args,
		"output", f.output,
		"workers", opts.Workers,
		"policy", opts.Policy.String(),
		"format", format.String(),
	)

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	var result engine.Result
	if f.output != "" {
		result = engine.Copy(ctx, args[0], f.output, opts)
	} else {
		var cb clipboard.Writer
		if f.stdout {
			cb = clipboard.NewStream(stdout)
		} else {
			sys, err := newClipboard()
			if err != nil {
				logger.Debug("clipboard not available", "error", err)
			} else {
				cb = sys
			}
		}
		if cb != nil && f.verbose {
			cb = &echoWriter{Writer: cb, logger: logger}
		}
		result = engine.CopyToClipboard(ctx, args, cb, engine.ClipboardOptions{
			Options:   opts,
			Format:    format,
			Structure: f.structure,
		})
	}
	stop()
	close(events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(stderr, "presenter: %v\n", presenterErr)
	}

	if summary := presenter.Summary(); summary != "" {
		fmt.Fprintln(stderr, summary)
	}

	if result.Err != nil {
		if result.Fatal {
			logger.Error("copy failed", "error", result.Err)
			return &exitError{code: 2}
		}
		logger.Warn("copy incomplete", "failed", len(result.Failures), "error", result.Err)
		return &exitError{code: 1}
	}
	return nil
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, defaults config.DefaultsConfig, f *flags) {
	changed := cmd.Flags().Changed
	if !changed("workers") && defaults.Workers != nil {
		f.workers = *defaults.Workers
	}
	if !changed("follow-symlinks") && defaults.FollowSymlinks != nil {
		f.followSymlinks = *defaults.FollowSymlinks
	}
	if !changed("overwrite") && defaults.Overwrite != nil {
		f.overwrite = *defaults.Overwrite
	}
	if !changed("fail-fast") && defaults.FailFast != nil {
		f.failFast = *defaults.FailFast
	}
	if !changed("preserve") && defaults.Preserve != nil {
		f.preserve = *defaults.Preserve
	}
	if !changed("format") && defaults.Format != nil {
		f.format = *defaults.Format
	}
	if !changed("depth") && defaults.Depth != nil {
		f.depth = *defaults.Depth
	}
	if !changed("bwlimit") && defaults.BWLimit != nil {
		f.bwLimit = *defaults.BWLimit
	}
}

// echoWriter logs the payload before handing it to the clipboard.
type echoWriter struct {
	clipboard.Writer
	logger *slog.Logger
}

func (w *echoWriter) WriteAll(text string) error {
	w.logger.Debug("clipboard payload", "bytes", len(text), "payload", text)
	return w.Writer.WriteAll(text)
}

func (w *echoWriter) Available() error {
	if c, ok := w.Writer.(clipboard.Checker); ok {
		return c.Available()
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ui.IsTTY(f.Fd())
}

func termWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		return ui.TermWidth(f.Fd())
	}
	return 80
}
