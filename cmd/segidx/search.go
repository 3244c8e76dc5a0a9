package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"harshagw/segidx/internal/search"
)

var (
	searchLimit  int
	searchFields []string
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the last commit",
	Long: `Run a query against the last commit and print the best hits.

Query syntax:
  term  field:term  "a phrase"  pre*  /regexp/  fuzzy~1  [a TO b]  *:*
  AND, OR, NOT or -, and parentheses for grouping.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum hits (default from config)")
	searchCmd.Flags().StringSliceVar(&searchFields, "fields", nil, "fields searched by clauses without a field")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "print stored documents as JSON")
}

func searchOptions() search.Options {
	opts := cfg.SearchOptions()
	if len(searchFields) > 0 {
		opts.DefaultFields = searchFields
	}
	return opts
}

func runSearch(cmd *cobra.Command, args []string) error {
	r, err := openReader()
	if err != nil {
		return err
	}
	defer r.Close()

	limit := searchLimit
	if limit <= 0 {
		limit = cfg.Search.DefaultLimit
	}
	return runQuery(cmd.OutOrStdout(), search.New(r.DirectoryReader, searchOptions()), strings.Join(args, " "), limit, searchJSON)
}

func runQuery(out io.Writer, s *search.Searcher, q string, limit int, asJSON bool) error {
	start := time.Now()
	results, err := s.Query(q, limit)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	if len(results) == 0 {
		fmt.Fprintf(out, "No results for %s\n", q)
		return nil
	}
	fmt.Fprintf(out, "Found %d results for %s (%v):\n", len(results), q, elapsed.Round(time.Microsecond))
	for i, res := range results {
		fmt.Fprintf(out, "  %d. doc=%d %s (%.4f) %v\n", i+1, res.DocID, res.Doc.Get(defaultIDField), res.Score, res.MatchedTerms)
		if asJSON {
			data, err := storedJSON(res.Doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", data)
		}
	}
	return nil
}
