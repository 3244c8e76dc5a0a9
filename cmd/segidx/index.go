package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/index"
)

var (
	indexIDField     string
	indexCommitEvery int
	indexCreate      bool
	indexAppend      bool
)

var indexCmd = &cobra.Command{
	Use:   "index [file...]",
	Short: "Add or update documents from JSON lines",
	Long: `Read one JSON object per line from the given files, or stdin, and index
them. A document replaces any earlier document with the same id.

Examples:
  segidx index -d ./data docs.jsonl
  cat docs.jsonl | segidx index --commit-every 10000`,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexIDField, "id-field", defaultIDField, "field holding the document id")
	indexCmd.Flags().IntVar(&indexCommitEvery, "commit-every", 0, "commit after this many documents (0 commits once at the end)")
	indexCmd.Flags().BoolVar(&indexCreate, "create", false, "drop any existing documents first")
	indexCmd.Flags().BoolVar(&indexAppend, "append", false, "fail unless an index already exists")
}

func runIndex(cmd *cobra.Command, args []string) error {
	if indexCreate && indexAppend {
		return fmt.Errorf("--create and --append are exclusive")
	}
	if cfg.Metrics.Addr != "" {
		stop, err := serveMetrics(cfg.Metrics.Addr, enableMetrics())
		if err != nil {
			return err
		}
		defer stop()
	}
	w, err := openWriter(func(wc *index.WriterConfig) {
		switch {
		case indexCreate:
			wc.OpenMode = index.OpenCreate
		case indexAppend:
			wc.OpenMode = index.OpenAppend
		}
	})
	if err != nil {
		return err
	}
	defer w.Close()

	start := time.Now()
	n := 0
	add := func(_ int, fields map[string]any) error {
		doc, id, err := buildDocument(indexIDField, fields)
		if err != nil {
			return err
		}
		if _, err := w.UpdateDocument(document.NewTerm(indexIDField, id), doc); err != nil {
			return err
		}
		n++
		if indexCommitEvery > 0 && n%indexCommitEvery == 0 {
			log.Info("committing", "docs", n)
			return w.Commit()
		}
		return nil
	}

	inputs := args
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}
	for _, name := range inputs {
		if err := readInput(cmd.InOrStdin(), name, add); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := w.Commit(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents in %v (%.0f docs/sec), %d segments, %d live docs\n",
		n, elapsed.Round(time.Millisecond), float64(n)/elapsed.Seconds(), w.SegmentCount(), w.NumDocs())
	return nil
}

func readInput(stdin io.Reader, name string, fn func(int, map[string]any) error) error {
	if name == "-" {
		return readDocuments(stdin, fn)
	}
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return readDocuments(f, fn)
}
