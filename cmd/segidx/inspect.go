package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/segment"
)

var dumpLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show segments of the last commit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := openReader()
		if err != nil {
			return err
		}
		defer r.Close()
		printStats(cmd.OutOrStdout(), r.DirectoryReader)
		return nil
	},
}

var commitsCmd = &cobra.Command{
	Use:   "commits",
	Short: "List the commits kept in the index directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := openDirectory()
		if err != nil {
			return err
		}
		defer dir.Close()
		commits, err := index.ListCommits(dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d commits:\n", len(commits))
		for _, c := range commits {
			fmt.Fprintf(out, "  %s gen=%d segments=%d files=%d", c.SegmentsFileName(), c.Generation(), c.SegmentCount(), len(c.FileNames()))
			for _, k := range slices.Sorted(maps.Keys(c.UserData())) {
				fmt.Fprintf(out, " %s=%s", k, c.UserData()[k])
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var checkIndexCmd = &cobra.Command{
	Use:   "checkindex",
	Short: "Verify every file and structure of the last commit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := openDirectory()
		if err != nil {
			return err
		}
		defer dir.Close()
		st, err := (&index.Checker{Dir: dir, Log: log}).Check()
		if err != nil {
			return err
		}
		printCheckStatus(cmd.OutOrStdout(), st)
		if !st.Clean() {
			return fmt.Errorf("index is corrupt")
		}
		return nil
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print raw index contents",
}

var dumpTermsCmd = &cobra.Command{
	Use:   "terms <field> [prefix]",
	Short: "List terms of a field with their frequencies",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withReader(func(out io.Writer, r *index.DirectoryReader, args []string) error {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		return dumpTerms(out, r, args[0], prefix, dumpLimit)
	}),
}

var dumpPostingsCmd = &cobra.Command{
	Use:   "postings <field> <term>",
	Short: "Show the posting list of a term",
	Args:  cobra.ExactArgs(2),
	RunE: withReader(func(out io.Writer, r *index.DirectoryReader, args []string) error {
		return dumpPostings(out, r, args[0], args[1])
	}),
}

var dumpDocCmd = &cobra.Command{
	Use:   "doc <docID>",
	Short: "Show stored fields and term vectors of a document",
	Args:  cobra.ExactArgs(1),
	RunE: withReader(func(out io.Writer, r *index.DirectoryReader, args []string) error {
		doc, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid doc id: %w", err)
		}
		return dumpDoc(out, r, doc)
	}),
}

var dumpDeletionsCmd = &cobra.Command{
	Use:   "deletions [segment]",
	Short: "Show deleted documents per segment",
	Args:  cobra.MaximumNArgs(1),
	RunE: withReader(func(out io.Writer, r *index.DirectoryReader, args []string) error {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return dumpDeletions(out, r, name)
	}),
}

func init() {
	rootCmd.AddCommand(statsCmd, commitsCmd, checkIndexCmd, dumpCmd)
	dumpCmd.AddCommand(dumpTermsCmd, dumpPostingsCmd, dumpDocCmd, dumpDeletionsCmd)
	dumpTermsCmd.Flags().IntVarP(&dumpLimit, "limit", "n", 100, "maximum terms to print (0 prints all)")
}

func withReader(fn func(io.Writer, *index.DirectoryReader, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		r, err := openReader()
		if err != nil {
			return err
		}
		defer r.Close()
		return fn(cmd.OutOrStdout(), r.DirectoryReader, args)
	}
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
	)
	if bytes >= MB {
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	}
	if bytes >= KB {
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	}
	return fmt.Sprintf("%d B", bytes)
}

func printStats(out io.Writer, r *index.DirectoryReader) {
	leaves := r.Leaves()
	fmt.Fprintf(out, "Generation %d, version %d\n", r.Generation(), r.Version())
	fmt.Fprintf(out, "  Documents: %d live, %d deleted\n", r.NumDocs(), r.NumDeletedDocs())
	fmt.Fprintf(out, "  Segments:  %d\n", len(leaves))

	var totalSize int64
	for _, leaf := range leaves {
		sr := leaf.Reader
		size := sr.Core().SizeInBytes()
		totalSize += size
		fields := sr.FieldInfos().List()
		names := make([]string, len(fields))
		for i, fi := range fields {
			names[i] = fi.Name
		}
		info := sr.SegmentInfo()
		fmt.Fprintf(out, "    [%s] base=%d docs=%d deleted=%d %s codec=%s source=%s fields=%v\n",
			sr.Name(), leaf.DocBase, sr.NumDocs(), sr.NumDeletedDocs(), formatBytes(size),
			info.Codec, info.Diagnostics["source"], names)
	}
	fmt.Fprintf(out, "  Total size: %s\n", formatBytes(totalSize))
	if r.MaxDoc() > 0 {
		fmt.Fprintf(out, "  Avg/Doc:    %s\n", formatBytes(totalSize/int64(r.MaxDoc())))
	}
}

func printCheckStatus(out io.Writer, st *index.Status) {
	fmt.Fprintf(out, "Checked %s (generation %d) in %v\n", st.SegmentsFileName, st.Generation, st.Took)
	for _, seg := range st.Segments {
		state := "OK"
		if !seg.Clean() {
			state = "BROKEN"
		}
		fmt.Fprintf(out, "  %s %s: docs=%d/%d fields=%d terms=%d postings=%d positions=%d stored=%d vectors=%d\n",
			state, seg.Name, seg.NumDocs, seg.MaxDoc, seg.Fields, seg.Terms, seg.Postings, seg.Positions, seg.StoredDocs, seg.VectorDocs)
		for _, p := range seg.Problems {
			fmt.Fprintf(out, "    - %s\n", p)
		}
	}
	for _, f := range st.MissingFiles {
		fmt.Fprintf(out, "  missing file %s\n", f)
	}
	for _, p := range st.Problems {
		fmt.Fprintf(out, "  %s\n", p)
	}
	if st.Clean() {
		fmt.Fprintf(out, "No problems found, %d live documents\n", st.NumDocs())
	}
}

func dumpTerms(out io.Writer, r *index.DirectoryReader, field, prefix string, limit int) error {
	terms, err := r.Terms(field)
	if err != nil {
		return err
	}
	if terms == nil {
		fmt.Fprintf(out, "No terms for field %s\n", field)
		return nil
	}
	te := terms.Iterator()
	ok := true
	if prefix != "" {
		st, err := te.SeekCeil([]byte(prefix))
		if err != nil {
			return err
		}
		ok = st != segment.SeekEnd
	} else if ok, err = te.Next(); err != nil {
		return err
	}
	n := 0
	for ok && strings.HasPrefix(string(te.Term()), prefix) {
		if limit > 0 && n == limit {
			fmt.Fprintln(out, "  ...")
			break
		}
		fmt.Fprintf(out, "  %s df=%d ttf=%d\n", te.Term(), te.DocFreq(), te.TotalTermFreq())
		n++
		if ok, err = te.Next(); err != nil {
			return err
		}
	}
	return nil
}

func dumpPostings(out io.Writer, r *index.DirectoryReader, field, term string) error {
	t := document.NewTerm(field, term)
	total := 0
	for _, leaf := range r.Leaves() {
		terms, err := leaf.Reader.Terms(field)
		if err != nil {
			return err
		}
		if terms == nil {
			continue
		}
		flags := segment.FlagFreqs
		if terms.HasPositions() {
			flags = segment.FlagPositions
		}
		pe, err := leaf.Reader.Postings(t, flags)
		if err != nil {
			return err
		}
		if pe == nil {
			continue
		}
		for {
			doc, err := pe.NextDoc()
			if err != nil {
				return err
			}
			if doc == segment.NoMoreDocs {
				break
			}
			var positions []int
			if flags == segment.FlagPositions {
				for range pe.Freq() {
					p, err := pe.NextPosition()
					if err != nil {
						return err
					}
					positions = append(positions, p)
				}
			}
			state := ""
			if !leaf.Reader.IsLive(doc) {
				state = " deleted"
			}
			fmt.Fprintf(out, "  %s doc=%d freq=%d pos=%v%s\n", leaf.Reader.Name(), leaf.DocBase+doc, pe.Freq(), positions, state)
			total++
		}
	}
	if total == 0 {
		fmt.Fprintf(out, "No postings for %s\n", t)
	}
	return nil
}

func dumpDoc(out io.Writer, r *index.DirectoryReader, doc int) error {
	stored, err := r.Document(doc)
	if err != nil {
		return err
	}
	data, err := storedJSON(stored)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	tv, err := r.TermVectors(doc)
	if err != nil {
		return err
	}
	for _, f := range tv {
		fmt.Fprintf(out, "vector %s:\n", f.Field)
		for _, t := range f.Terms {
			fmt.Fprintf(out, "  %s freq=%d pos=%v\n", t.Term, t.Freq, t.Positions)
		}
	}
	return nil
}

func dumpDeletions(out io.Writer, r *index.DirectoryReader, name string) error {
	found := false
	for _, leaf := range r.Leaves() {
		if name != "" && leaf.Reader.Name() != name {
			continue
		}
		found = true
		deleted := leaf.Reader.DeletedDocs()
		if deleted.IsEmpty() {
			fmt.Fprintf(out, "  %s: no deletions\n", leaf.Reader.Name())
			continue
		}
		fmt.Fprintf(out, "  %s (%s): %v\n", leaf.Reader.Name(), leaf.Reader.SegmentInfo().LiveDocsFile(), deleted.ToArray())
	}
	if !found {
		return fmt.Errorf("no segment %s", name)
	}
	return nil
}
