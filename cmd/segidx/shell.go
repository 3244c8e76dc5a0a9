package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"harshagw/segidx/internal/index"
	"harshagw/segidx/internal/query"
	"harshagw/segidx/internal/search"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive index shell",
	Long: `Open the index for writing and start an interactive prompt. Searches see
uncommitted changes. Uncommitted changes are committed on quit.`,
	Args: cobra.NoArgs,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

type shell struct {
	out    io.Writer
	w      *writerHandle
	reader *index.DirectoryReader
	done   bool
}

var shellCommands = []prompt.Suggest{
	{Text: "index", Description: "index <docID> <json> - add or replace a document"},
	{Text: "delete", Description: "delete <docID> - delete a document"},
	{Text: "delete-query", Description: "delete-query <query> - delete matching documents"},
	{Text: "search", Description: "search <query> - search, uncommitted changes included"},
	{Text: "count", Description: "count <query> - count matching documents"},
	{Text: "flush", Description: "write buffered documents to a new segment"},
	{Text: "commit", Description: "commit pending changes"},
	{Text: "rollback", Description: "discard changes since the last commit"},
	{Text: "merge", Description: "merge [maxSegments] - force merge"},
	{Text: "stats", Description: "show segments"},
	{Text: "doc", Description: "doc <docNum> - show a stored document"},
	{Text: "dump", Description: "dump terms <field> [prefix] | postings <field> <term> | deletions [segment]"},
	{Text: "check", Description: "check the last commit"},
	{Text: "help", Description: "show this help"},
	{Text: "quit", Description: "commit and exit"},
}

func runShell(cmd *cobra.Command, _ []string) error {
	w, err := openWriter()
	if err != nil {
		return err
	}
	sh := &shell{out: cmd.OutOrStdout(), w: w}
	defer sh.close()

	fmt.Fprintln(sh.out, "segidx shell")
	fmt.Fprintln(sh.out)
	sh.printHelp()
	fmt.Fprintf(sh.out, "\nIndex opened at %s (%d segments, %d docs)\n\n", cfg.Index.Dir, w.SegmentCount(), w.NumDocs())

	p := prompt.New(
		sh.executor,
		sh.completer,
		prompt.OptionPrefix("segidx >> "),
		prompt.OptionTitle("segidx"),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return sh.done }),
	)
	p.Run()
	return nil
}

func (sh *shell) close() {
	if sh.reader != nil {
		sh.reader.Close()
	}
	if err := sh.w.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing index: %v\n", err)
	}
}

func (sh *shell) completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(shellCommands, d.GetWordBeforeCursor(), true)
}

func (sh *shell) printHelp() {
	fmt.Fprintln(sh.out, "Commands:")
	for _, c := range shellCommands {
		fmt.Fprintf(sh.out, "  %-13s %s\n", c.Text, c.Description)
	}
}

// currentReader returns a near-real-time reader, reopened only when the
// writer changed.
func (sh *shell) currentReader() (*index.DirectoryReader, error) {
	if sh.reader == nil {
		r, err := sh.w.GetReader(true)
		if err != nil {
			return nil, err
		}
		sh.reader = r
		return r, nil
	}
	r, err := index.OpenIfChangedWriter(sh.reader, sh.w.IndexWriter, true)
	if err != nil {
		return nil, err
	}
	if r != nil {
		sh.reader.Close()
		sh.reader = r
	}
	return sh.reader, nil
}

func (sh *shell) executor(input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch cmd {
	case "index":
		err = sh.cmdIndex(rest)
	case "delete":
		err = sh.cmdDelete(rest)
	case "delete-query":
		err = sh.cmdDeleteQuery(rest)
	case "search":
		err = sh.cmdSearch(rest)
	case "count":
		err = sh.cmdCount(rest)
	case "flush":
		if err = sh.w.Flush(); err == nil {
			fmt.Fprintf(sh.out, "Flushed. %d segments.\n", sh.w.SegmentCount())
		}
	case "commit":
		if err = sh.w.Commit(); err == nil {
			fmt.Fprintf(sh.out, "Committed generation %d.\n", sh.w.LastCommit().Generation())
		}
	case "rollback":
		err = sh.cmdRollback()
	case "merge":
		err = sh.cmdMerge(rest)
	case "stats", "segments":
		err = sh.withReader(func(r *index.DirectoryReader) error {
			printStats(sh.out, r)
			return nil
		})
	case "doc":
		err = sh.cmdDoc(rest)
	case "dump":
		err = sh.cmdDump(strings.Fields(rest))
	case "check":
		var st *index.Status
		if st, err = (&index.Checker{Dir: sh.w.Directory(), Log: log}).Check(); err == nil {
			printCheckStatus(sh.out, st)
		}
	case "help":
		sh.printHelp()
	case "quit", "exit":
		fmt.Fprintln(sh.out, "Goodbye!")
		sh.done = true
	default:
		fmt.Fprintf(sh.out, "Unknown command: %s\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
	}
}

func (sh *shell) withReader(fn func(*index.DirectoryReader) error) error {
	r, err := sh.currentReader()
	if err != nil {
		return err
	}
	return fn(r)
}

func (sh *shell) cmdIndex(args string) error {
	id, body, ok := strings.Cut(args, " ")
	if !ok {
		return fmt.Errorf("usage: index <docID> <json>")
	}
	fields, err := decodeObject([]byte(body))
	if err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}
	fields[defaultIDField] = id
	doc, _, err := buildDocument(defaultIDField, fields)
	if err != nil {
		return err
	}
	if _, err := sh.w.UpdateDocument(idTerm(id), doc); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Indexed '%s' (%d fields)\n", id, len(fields))
	return nil
}

func (sh *shell) cmdDelete(id string) error {
	if id == "" {
		return fmt.Errorf("usage: delete <docID>")
	}
	if _, err := sh.w.DeleteDocuments(idTerm(id)); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Deleted '%s'\n", id)
	return nil
}

func (sh *shell) cmdDeleteQuery(qs string) error {
	q, err := query.ParseString(qs)
	if err != nil {
		return err
	}
	dq, err := search.NewDeleteQuery(q, searchOptions())
	if err != nil {
		return err
	}
	if _, err := sh.w.DeleteDocumentsQuery(dq); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Deleting documents matching %s\n", dq)
	return nil
}

func (sh *shell) cmdSearch(qs string) error {
	if qs == "" {
		return fmt.Errorf("usage: search <query>")
	}
	return sh.withReader(func(r *index.DirectoryReader) error {
		return runQuery(sh.out, search.New(r, searchOptions()), qs, cfg.Search.DefaultLimit, false)
	})
}

func (sh *shell) cmdCount(qs string) error {
	q, err := query.ParseString(qs)
	if err != nil {
		return err
	}
	return sh.withReader(func(r *index.DirectoryReader) error {
		n, err := search.New(r, searchOptions()).Count(q)
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "%d documents\n", n)
		return nil
	})
}

// cmdRollback discards uncommitted changes and reopens the writer on the
// last commit.
func (sh *shell) cmdRollback() error {
	if sh.reader != nil {
		sh.reader.Close()
		sh.reader = nil
	}
	if err := sh.w.Rollback(); err != nil {
		return err
	}
	w, err := openWriter()
	if err != nil {
		return err
	}
	sh.w = w
	fmt.Fprintf(sh.out, "Rolled back. %d segments, %d docs.\n", w.SegmentCount(), w.NumDocs())
	return nil
}

func (sh *shell) cmdMerge(arg string) error {
	maxSegments := 1
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid segment count: %w", err)
		}
		maxSegments = n
	}
	if err := sh.w.ForceMerge(maxSegments); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Merged. %d segments.\n", sh.w.SegmentCount())
	return nil
}

func (sh *shell) cmdDoc(arg string) error {
	doc, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("usage: doc <docNum>")
	}
	return sh.withReader(func(r *index.DirectoryReader) error {
		return dumpDoc(sh.out, r, doc)
	})
}

func (sh *shell) cmdDump(args []string) error {
	usage := fmt.Errorf("usage: dump terms <field> [prefix] | postings <field> <term> | deletions [segment]")
	if len(args) == 0 {
		return usage
	}
	return sh.withReader(func(r *index.DirectoryReader) error {
		switch {
		case args[0] == "terms" && len(args) >= 2:
			prefix := ""
			if len(args) > 2 {
				prefix = args[2]
			}
			return dumpTerms(sh.out, r, args[1], prefix, 50)
		case args[0] == "postings" && len(args) == 3:
			return dumpPostings(sh.out, r, args[1], args[2])
		case args[0] == "deletions":
			name := ""
			if len(args) > 1 {
				name = args[1]
			}
			return dumpDeletions(sh.out, r, name)
		}
		return usage
	})
}
