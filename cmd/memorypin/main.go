// Command memorypin pins memories to places on a map and keeps them in the
// configured storage slot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"memorypin/internal/blob"
	"memorypin/internal/config"
	"memorypin/internal/core"
	"memorypin/internal/observability"
	"memorypin/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

// usageError marks bad invocations, which exit with status 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type app struct {
	cfg     config.Config
	logger  *zap.Logger
	slot    blob.Store
	store   *core.MemoryStore
	metrics *observability.PrometheusRecorder
	stdout  io.Writer
	stderr  io.Writer
	now     func() time.Time
}

type command struct {
	name    string
	summary string
	// offline commands never open the storage slot.
	offline bool
	run     func(ctx context.Context, a *app, args []string) error
}

var nowFunc = time.Now

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("memorypin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var configPath, metricsOut, tracePath string
	fs.StringVar(&configPath, "config", "", "path to YAML config (defaults apply when absent)")
	fs.StringVar(&metricsOut, "metrics-out", "", "write Prometheus text metrics to this file on exit")
	fs.StringVar(&tracePath, "trace", "", "append JSON trace spans to this file")
	fs.Usage = func() { printUsage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		printUsage(fs)
		return 2
	}
	cmd, ok := lookup(fs.Arg(0))
	if !ok {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", fs.Arg(0))
		printUsage(fs)
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr, now: nowFunc}
	if cfg.Metrics.Enabled {
		a.metrics = observability.NewPrometheusRecorder(cfg.Metrics.Namespace, nil)
	}
	if !cmd.offline {
		closeStore, err := a.openStore(ctx, tracePath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "open storage: %v\n", err)
			return 1
		}
		defer closeStore()
	}

	code := report(stderr, cmd.run(ctx, a, fs.Args()[1:]))
	if metricsOut != "" && a.metrics != nil {
		if err := writeMetrics(metricsOut, a.metrics); err != nil {
			_, _ = fmt.Fprintf(stderr, "metrics: %v\n", err)
			if code == 0 {
				code = 1
			}
		}
	}
	return code
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printUsage(fs *flag.FlagSet) {
	w := fs.Output()
	_, _ = fmt.Fprintln(w, "usage: memorypin [--config path] [--metrics-out path] [--trace path] <command> [flags]")
	_, _ = fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	summaries := make(map[string]string, len(commands))
	for _, c := range commands {
		names = append(names, c.name)
		summaries[c.name] = c.summary
	}
	sort.Strings(names)
	for _, n := range names {
		_, _ = fmt.Fprintf(w, "  %-8s %s\n", n, summaries[n])
	}
	_, _ = fmt.Fprintln(w, "\nglobal flags:")
	fs.PrintDefaults()
}

// report prints err and maps it to an exit status.
func report(stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var ue *usageError
	if errors.As(err, &ue) || errors.Is(err, flag.ErrHelp) {
		if ue != nil {
			_, _ = fmt.Fprintf(stderr, "usage: %s\n", ue.msg)
		}
		return 2
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		header := "invalid memory"
		if ve.Record != "" {
			header += " " + ve.Record
		}
		_, _ = fmt.Fprintln(stderr, header+":")
		for _, p := range ve.Problems {
			_, _ = fmt.Fprintf(stderr, "  - %s\n", p)
		}
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}

func newLogger(cfg config.Log, w io.Writer) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	var enc zapcore.Encoder
	if zcfg.Encoding == "console" {
		enc = zapcore.NewConsoleEncoder(zcfg.EncoderConfig)
	} else {
		enc = zapcore.NewJSONEncoder(zcfg.EncoderConfig)
	}
	zc := zapcore.NewCore(enc, zapcore.AddSync(w), level)
	return zap.New(zc, zap.AddCaller()).Named("memorypin"), nil
}

func (a *app) openStore(ctx context.Context, tracePath string) (func(), error) {
	slot, err := blob.Open(ctx, a.cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.slot = slot
	opts := []core.Option{
		core.WithSlotKey(a.cfg.Storage.Key),
		core.WithLogger(a.logger),
	}
	if a.metrics != nil {
		opts = append(opts, core.WithMetrics(a.metrics))
	}
	var traceFile *os.File
	if tracePath != "" {
		traceFile, err = os.OpenFile(tracePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			closeSlot(slot, a.logger)
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		opts = append(opts, core.WithTracer(core.NewJSONTracer(traceFile)))
	}
	a.store = core.NewMemoryStore(ctx, slot, opts...)
	a.logger.Debug("storage opened",
		zap.String("driver", string(slot.Driver())), zap.String("slot", a.cfg.Storage.Key), zap.Int("records", a.store.Len()))
	return func() {
		if traceFile != nil {
			_ = traceFile.Close()
		}
		closeSlot(slot, a.logger)
	}, nil
}

func closeSlot(slot blob.Store, logger *zap.Logger) {
	if c, ok := slot.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("close storage", zap.Error(err))
		}
	}
}

func writeMetrics(path string, rec *observability.PrometheusRecorder) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rec.WriteText(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// newFlagSet builds a subcommand flag set that reports to stderr.
func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// parse turns flag errors into usage errors and rejects stray arguments.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usagef("%s: %v", fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return usagef("%s: unexpected arguments %s", fs.Name(), strings.Join(fs.Args(), " "))
	}
	return nil
}
