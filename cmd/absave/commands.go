package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Neumenon/absave/absave"
	"github.com/Neumenon/absave/metrics"
)

// ============================================================
// from-json
// ============================================================

func newFromJSONCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "from-json [files...]",
		Short: "convert JSON to typed ABSave documents",
		Long: `from-json converts JSON documents to typed ABSave documents.

With no arguments it reads one JSON document from stdin and writes the
encoded document to stdout. Each named file is written next to its input
with the extension replaced by .absave. Files are converted in parallel.
`,
		RunE: a.runFromJSON,
	}
}

func (a *app) runFromJSON(cmd *cobra.Command, args []string) error {
	s, err := a.settings()
	if err != nil {
		return err
	}
	if !s.Typed {
		return fmt.Errorf("from-json writes typed documents; untyped documents cannot hold JSON numbers or booleans")
	}

	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		out, err := a.encodeJSON(data, s)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(a.jobs())
	for _, path := range args {
		g.Go(func() error {
			return a.convertFile(ctx, path, s)
		})
	}
	return g.Wait()
}

func (a *app) jobs() int {
	if a.cfg.Jobs > 0 {
		return a.cfg.Jobs
	}
	return runtime.NumCPU()
}

// convertFile encodes the JSON file at path to path.absave.
func (a *app) convertFile(ctx context.Context, path string, s absave.Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out, err := a.encodeJSON(data, s)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	dst := outputPath(path)
	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return err
	}
	a.log.Info("converted", slog.String("in", path), slog.String("out", dst), slog.Int("bytes", len(out)))
	return nil
}

func outputPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".absave"
}

// encodeJSON parses one JSON document and encodes it as a dynamic root.
func (a *app) encodeJSON(data []byte, s absave.Settings) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	out, err := absave.Marshal(&v, s)
	a.metrics.Session(metrics.OpEncode, len(out), err)
	if err != nil {
		return nil, err
	}
	a.log.Debug("encoded", slog.Int("json_bytes", len(data)), slog.Int("bytes", len(out)))
	return out, nil
}

// ============================================================
// to-json
// ============================================================

func newToJSONCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "to-json [file]",
		Short: "convert a typed ABSave document to JSON",
		Long: `to-json decodes a typed ABSave document and prints it as indented JSON.

The member style is taken from the document header. The cache setting must
match the one the document was written with.
`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runToJSON,
	}
}

func (a *app) runToJSON(cmd *cobra.Command, args []string) error {
	s, err := a.settings()
	if err != nil {
		return err
	}
	s.Style = absave.StyleInfer

	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	v, h, err := a.decode(data, s)
	if err != nil {
		return err
	}
	if !h.Typed {
		return fmt.Errorf("to-json needs a typed document, header is %c", h.Marker())
	}

	out, err := json.MarshalIndent(jsonValue(v), "", "  ")
	if err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	w := cmd.OutOrStdout()
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func (a *app) decode(data []byte, s absave.Settings) (any, absave.Header, error) {
	var v any
	dec := absave.NewDecoder(bytes.NewReader(data), s)
	err := dec.Decode(&v)
	a.metrics.Session(metrics.OpDecode, len(data), err)
	return v, dec.Header(), err
}

// jsonValue rewrites decoded values that encoding/json cannot print
// directly.
func jsonValue(v any) any {
	switch x := v.(type) {
	case apd.Decimal:
		return json.Number(x.String())
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonValue(e)
		}
		return out
	}
	return v
}

// ============================================================
// inspect
// ============================================================

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file]",
		Short: "print the header and token stream of a document",
		Long: `inspect prints the document header followed by one line per token:
the offset of its text, the marker that ends it, and the text itself.

Packed numbers are not recognized and show up inside the text.
`,
		Args: cobra.MaximumNArgs(1),
		RunE: a.runInspect,
	}
}

func (a *app) runInspect(cmd *cobra.Command, args []string) error {
	data, err := readInput(cmd, args)
	if err != nil {
		return err
	}
	sc := absave.NewScanner(data)
	first := sc.Next()
	if first.Type != absave.TokenNextItem {
		return fmt.Errorf("no header separator")
	}
	h, err := absave.ParseHeader(first.Leading)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "header: %c style=%s typed=%t", h.Marker(), h.Style, h.Typed)
	if h.HasVersion {
		fmt.Fprintf(w, " version=%d", h.Version)
	}
	fmt.Fprintln(w)
	for _, tok := range sc.Tokenize() {
		fmt.Fprintf(w, "%6d  %-6s %q\n", tok.Start, tok.Type, tok.Leading)
	}
	return nil
}

// ============================================================
// version
// ============================================================

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "absave version %s\n", libVersion)
		},
	}
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	return os.ReadFile(args[0])
}
