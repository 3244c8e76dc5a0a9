package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/logger"
	"harshagw/segidx/internal/search"
	"harshagw/segidx/internal/store"
)

var (
	benchDocs       int
	benchRuns       int
	benchIterations int
	benchBuffered   int
	benchSeed       int64
)

var benchCmd = &cobra.Command{
	Use:   "bench [docs.jsonl]",
	Short: "Benchmark indexing and query latency",
	Long: `Index documents into a scratch directory, report throughput and index
size, then time a fixed set of queries. Without a file a synthetic corpus
is generated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().IntVar(&benchDocs, "docs", 10000, "documents to index")
	benchCmd.Flags().IntVar(&benchRuns, "runs", 3, "indexing runs to average")
	benchCmd.Flags().IntVar(&benchIterations, "iterations", 200, "timed iterations per query")
	benchCmd.Flags().IntVar(&benchBuffered, "max-buffered-docs", 1000, "documents per flushed segment")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 1, "seed of the synthetic corpus")
}

var benchVocabulary = strings.Fields(`the and of to in was from with united states
kingdom new york city county district population government economy film
movie released directed football basketball player team history war world
music album song river school university church station island language`)

// syntheticDocs draws words with a skewed distribution so that common and
// rare terms both occur.
func syntheticDocs(n int, seed int64) []map[string]any {
	rng := rand.New(rand.NewSource(seed))
	word := func() string {
		i := int(float64(len(benchVocabulary)) * rng.Float64() * rng.Float64())
		return benchVocabulary[i]
	}
	sentence := func(words int) string {
		parts := make([]string, words)
		for i := range parts {
			parts[i] = word()
		}
		return strings.Join(parts, " ")
	}
	docs := make([]map[string]any, n)
	for i := range docs {
		docs[i] = map[string]any{
			"id":    fmt.Sprintf("doc%d", i),
			"title": sentence(2 + rng.Intn(4)),
			"body":  sentence(50 + rng.Intn(250)),
		}
	}
	return docs
}

func loadBenchDocs(cmd *cobra.Command, args []string) ([]map[string]any, error) {
	if len(args) == 0 {
		return syntheticDocs(benchDocs, benchSeed), nil
	}
	var docs []map[string]any
	err := readInput(cmd.InOrStdin(), args[0], func(_ int, fields map[string]any) error {
		if len(docs) < benchDocs {
			docs = append(docs, fields)
		}
		return nil
	})
	return docs, err
}

func runBench(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Index Benchmark")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)

	benchStart := time.Now()
	docs, err := loadBenchDocs(cmd, args)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no documents to index")
	}
	fmt.Fprintf(out, "Loaded %d documents\n\n", len(docs))

	path, err := os.MkdirTemp("", "segidx-bench-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(path)
	dir, err := store.OpenFSDirectory(path)
	if err != nil {
		return err
	}
	defer dir.Close()

	if err := benchIndexing(out, dir, docs); err != nil {
		return err
	}
	r, err := index.Open(dir)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Fprintln(out, "INDEX INFO")
	fmt.Fprintln(out, "----------")
	printStats(out, r)
	fmt.Fprintln(out)

	s := search.New(r, search.Options{SkipStored: true})
	for _, group := range benchQueries {
		fmt.Fprintln(out, group.name)
		fmt.Fprintln(out, strings.Repeat("-", len(group.name)))
		for _, q := range group.queries {
			latency, hits, err := benchmarkQuery(s, q)
			if err != nil {
				fmt.Fprintf(out, "  %-55s error: %v\n", q, err)
				continue
			}
			fmt.Fprintf(out, "  %-55s %s  (%d hits)\n", q, formatLatency(latency), hits)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Total time: %.2f seconds\n", time.Since(benchStart).Seconds())
	return nil
}

// benchIndexing builds the index benchRuns times from scratch and leaves
// the last build committed in dir.
func benchIndexing(out io.Writer, dir store.Directory, docs []map[string]any) error {
	fmt.Fprintln(out, "INDEXING")
	fmt.Fprintln(out, "--------")

	built := make([]*document.Document, len(docs))
	for i, fields := range docs {
		doc, _, err := buildDocument(defaultIDField, fields)
		if err != nil {
			return fmt.Errorf("document %d: %w", i, err)
		}
		built[i] = doc
	}

	var total time.Duration
	runs := max(benchRuns, 1)
	for range runs {
		wc := index.DefaultWriterConfig()
		wc.OpenMode = index.OpenCreate
		wc.MaxBufferedDocs = benchBuffered
		wc.Logger = logger.Discard()
		start := time.Now()
		w, err := index.NewWriter(dir, wc)
		if err != nil {
			return err
		}
		for _, doc := range built {
			if _, err := w.AddDocument(doc); err != nil {
				w.Rollback()
				return err
			}
		}
		if err := w.Close(); err != nil {
			return err
		}
		total += time.Since(start)
	}

	avg := total / time.Duration(runs)
	fmt.Fprintf(out, "  Documents:  %d\n", len(docs))
	fmt.Fprintf(out, "  Time:       %v\n", avg.Round(time.Millisecond))
	fmt.Fprintf(out, "  Throughput: %.0f docs/sec\n", float64(len(docs))/avg.Seconds())
	fmt.Fprintln(out)
	return nil
}

func benchmarkQuery(s *search.Searcher, q string) (time.Duration, int, error) {
	var hits int
	for range 10 {
		results, err := s.Query(q, 0)
		if err != nil {
			return 0, 0, err
		}
		hits = len(results)
	}
	start := time.Now()
	for range benchIterations {
		if _, err := s.Query(q, 10); err != nil {
			return 0, 0, err
		}
	}
	return time.Since(start) / time.Duration(max(benchIterations, 1)), hits, nil
}

func formatLatency(d time.Duration) string {
	return fmt.Sprintf("%8.2f µs", float64(d.Nanoseconds())/1000)
}

type benchGroup struct {
	name    string
	queries []string
}

var benchQueries = []benchGroup{
	{"TERM QUERIES", []string{"the", "united", "football", "island", "title:film", "body:population"}},
	{"PHRASE QUERIES", []string{`"united states"`, `"new york"`, `"the united states"`, `title:"new york"`}},
	{"PREFIX, REGEX AND FUZZY", []string{"co*", "stat*", "title:fil*", "body:/(film|movie)s?/", "footbal~1", "govrnment~2"}},
	{"RANGE", []string{"id:[doc1 TO doc2]", "id:[doc5 TO *]"}},
	{"BOOLEAN", []string{
		"united AND states",
		"the AND and AND was AND from AND with",
		"football OR basketball OR player OR team",
		"united AND -states AND -kingdom",
		"(film OR movie) AND (released OR directed)",
		"((united OR kingdom) AND states) OR island",
		`("united states" OR "new york") AND govern* AND -title:film`,
	}},
}
