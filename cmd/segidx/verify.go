package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/logger"
	"harshagw/segidx/internal/search"
	"harshagw/segidx/internal/store"
)

var verifyKeep bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Build a scratch index and check query results end to end",
	Long: `Index a fixed corpus into a temporary directory across several segments,
run known queries, then update, delete, merge and check the index and run
them again.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyKeep, "keep", false, "keep the scratch index directory")
}

type verifier struct {
	out            io.Writer
	passed, failed int
}

func (v *verifier) check(s *search.Searcher, tc verifyCase) {
	results, err := s.Query(tc.query, 0)
	if err != nil {
		fmt.Fprintf(v.out, "  ✗ %s\n    Error: %v\n", tc.query, err)
		v.failed++
		return
	}
	got := make([]string, 0, len(results))
	for _, r := range results {
		got = append(got, r.Doc.Get("id"))
	}
	slices.Sort(got)
	want := slices.Sorted(slices.Values(tc.want))
	if !slices.Equal(got, want) {
		fmt.Fprintf(v.out, "  ✗ %s\n    Expected: %v\n    Got:      %v\n", tc.query, want, got)
		v.failed++
		return
	}
	fmt.Fprintf(v.out, "  ✓ %s\n", tc.query)
	v.passed++
}

func (v *verifier) expect(ok bool, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if ok {
		fmt.Fprintf(v.out, "  ✓ %s\n", msg)
		v.passed++
	} else {
		fmt.Fprintf(v.out, "  ✗ %s\n", msg)
		v.failed++
	}
}

func (v *verifier) section(name string) {
	fmt.Fprintf(v.out, "\n%s\n%s\n", name, strings.Repeat("-", len(name)))
}

var lifecycleCases = []verifyCase{
	{"database", []string{"doc5", "doc7"}},
	{"football", nil},
	{"rugby", []string{"doc15"}},
	{"title:/rul.s/", []string{"doc15", "doc16"}},
	{"tags:sport AND ball", []string{"doc15", "doc16"}},
}

func runVerify(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Index Verification")
	fmt.Fprintln(out, "==================")

	path, err := os.MkdirTemp("", "segidx-verify-*")
	if err != nil {
		return err
	}
	if verifyKeep {
		fmt.Fprintf(out, "Scratch index: %s\n", path)
	} else {
		defer os.RemoveAll(path)
	}
	dir, err := store.OpenFSDirectory(path)
	if err != nil {
		return err
	}
	defer dir.Close()

	wc := index.DefaultWriterConfig()
	wc.MaxBufferedDocs = 5
	wc.MergePolicy = index.NewLogDocMergePolicy()
	wc.MergeScheduler = index.NewSerialMergeScheduler()
	wc.Logger = logger.WithComponent("verify")
	w, err := index.NewWriter(dir, wc)
	if err != nil {
		return err
	}
	defer w.Rollback()

	for _, d := range verifyCorpus {
		doc, _, err := buildDocument("id", d.fields())
		if err != nil {
			return err
		}
		if _, err := w.AddDocument(doc); err != nil {
			return fmt.Errorf("indexing %s: %w", d.id, err)
		}
	}
	if err := w.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Indexed %d documents across %d segments\n", len(verifyCorpus), w.SegmentCount())

	r, err := index.Open(dir)
	if err != nil {
		return err
	}
	defer func() { r.Close() }()

	v := &verifier{out: out}
	s := search.New(r, search.Options{})
	for _, cat := range verifyCategories {
		v.section(cat.name)
		for _, tc := range cat.cases {
			v.check(s, tc)
		}
	}

	v.section("UPDATES AND DELETES")
	rugby, _, err := buildDocument("id", map[string]any{
		"id":    "doc15",
		"title": "Rugby Rules",
		"body":  "Rugby is played by two teams with an oval ball.",
		"tags":  "rugby sport ball",
	})
	if err != nil {
		return err
	}
	if _, err := w.UpdateDocument(idTerm("doc15"), rugby); err != nil {
		return err
	}
	if _, err := w.DeleteDocuments(idTerm("doc4")); err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	current, err := r.IsCurrent()
	if err != nil {
		return err
	}
	v.expect(!current, "old reader is no longer current")
	old := search.New(r, search.Options{})
	v.check(old, verifyCase{"database", []string{"doc4", "doc5", "doc7"}})

	nr, err := index.OpenIfChanged(r)
	if err != nil {
		return err
	}
	v.expect(nr != nil, "reopened reader sees the new commit")
	if nr != nil {
		r.Close()
		r = nr
	}
	v.expect(r.NumDocs() == len(verifyCorpus)-1, "%d live documents", r.NumDocs())
	s = search.New(r, search.Options{})
	for _, tc := range lifecycleCases {
		v.check(s, tc)
	}

	v.section("FORCE MERGE")
	if err := w.ForceMerge(1); err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	v.expect(w.SegmentCount() == 1, "merged into %d segment(s)", w.SegmentCount())
	if nr, err = index.OpenIfChanged(r); err != nil {
		return err
	}
	if nr != nil {
		r.Close()
		r = nr
	}
	v.expect(r.NumDeletedDocs() == 0, "merge dropped deleted documents")
	s = search.New(r, search.Options{})
	for _, tc := range lifecycleCases {
		v.check(s, tc)
	}
	for _, tc := range verifyCategories[0].cases[:3] {
		if tc.query == "database" {
			continue
		}
		v.check(s, tc)
	}

	v.section("CHECK INDEX")
	st, err := index.CheckIndex(dir)
	if err != nil {
		return err
	}
	v.expect(st.Clean(), "no problems in %s", st.SegmentsFileName)
	v.expect(st.NumDocs() == len(verifyCorpus)-1, "check counted %d live documents", st.NumDocs())

	fmt.Fprintln(out)
	fmt.Fprintln(out, "========================================")
	fmt.Fprintf(out, "Results: %d passed, %d failed, %d total\n", v.passed, v.failed, v.passed+v.failed)
	if v.failed > 0 {
		return fmt.Errorf("%d checks failed", v.failed)
	}
	fmt.Fprintln(out, "\nAll checks passed!")
	return nil
}
