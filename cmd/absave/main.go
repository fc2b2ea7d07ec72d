// absave - ABSave codec CLI tool
//
// Usage:
//
//	absave from-json [files...]   Convert JSON to typed ABSave documents
//	absave to-json [file]         Convert a typed ABSave document to JSON
//	absave inspect [file]         Print the header and token stream
//	absave version                Print version info
//
// If no file is given, input is read from stdin and written to stdout.
// from-json writes each named file next to its input with an .absave
// extension, converting files in parallel.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Neumenon/absave/absave"
	"github.com/Neumenon/absave/metrics"
)

const libVersion = "0.1.0"

func main() {
	if err := newRootCmd(newApp(os.Stderr)).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "absave:", err)
		os.Exit(1)
	}
}

// app is the state shared by every command of one invocation.
type app struct {
	configPath  string
	metricsFile string
	logLevel    string
	logFormat   string

	cfg     cliConfig
	stderr  io.Writer
	log     *slog.Logger
	reg     *prometheus.Registry
	metrics *metrics.Collector
}

func newApp(stderr io.Writer) *app {
	return &app{stderr: stderr}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "absave",
		Short:         "ABSave codec CLI tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.writeMetrics()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML config file")
	pf.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")
	pf.StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	pf.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")
	pf.String("style", "unnamed", "member style: unnamed or named")
	pf.Bool("cache", true, "replace repeated type descriptors with 2-byte keys")
	pf.Bool("omit-terminators", false, "drop the exit bytes that end a document")
	pf.StringSlice("suppress", nil, "error kinds to suppress, e.g. too_many_items (or all)")
	pf.Int("jobs", 0, "parallel from-json conversions (0: one per CPU)")

	root.AddCommand(
		newFromJSONCmd(a),
		newToJSONCmd(a),
		newInspectCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the config file, applies flag overrides, and builds the
// logger and metrics for this invocation.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.applyFlags(cmd.Flags()); err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := newLogger(a.stderr, a.logLevel, a.logFormat)
	if err != nil {
		return err
	}
	a.log = logger.With(slog.String("session", uuid.NewString()), slog.String("cmd", cmd.Name()))

	a.reg = prometheus.NewRegistry()
	a.metrics, err = metrics.NewCollector(a.reg)
	return err
}

func (a *app) writeMetrics() error {
	if a.metricsFile == "" || a.reg == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.metricsFile, a.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	a.log.Debug("metrics written", slog.String("path", a.metricsFile))
	return nil
}

// settings returns the session settings for the loaded config.
func (a *app) settings() (absave.Settings, error) {
	s, suppressed, err := a.cfg.settings()
	if err != nil {
		return s, err
	}
	s.Errors = a.metrics.Handler(suppressed, nil)
	s.Logger = a.log
	return s, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format: %s", format)
}
