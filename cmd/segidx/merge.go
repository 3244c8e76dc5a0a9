package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	mergeMaxSegments int
	mergeDeletes     bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Force merge segments and commit",
	Long: `Merge the index down to at most --max-segments segments, or with
--expunge-deletes rewrite only segments carrying many deletions.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

func init() {
	rootCmd.AddCommand(mergeCmd)
	mergeCmd.Flags().IntVarP(&mergeMaxSegments, "max-segments", "m", 1, "target segment count")
	mergeCmd.Flags().BoolVar(&mergeDeletes, "expunge-deletes", false, "only merge away deletions")
}

func runMerge(cmd *cobra.Command, _ []string) error {
	w, err := openWriter()
	if err != nil {
		return err
	}
	defer w.Close()

	before := w.SegmentCount()
	start := time.Now()
	if mergeDeletes {
		err = w.ForceMergeDeletes()
	} else {
		err = w.ForceMerge(mergeMaxSegments)
	}
	if err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d segments into %d in %v (%d docs)\n",
		before, w.SegmentCount(), time.Since(start).Round(time.Millisecond), w.MaxDoc())
	return nil
}
