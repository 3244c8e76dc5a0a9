package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"harshagw/segidx/internal/document"
	"harshagw/segidx/internal/query"
	"harshagw/segidx/internal/search"
)

var (
	deleteIDField string
	deleteQuery   bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id...>",
	Short: "Delete documents by id or by query",
	Long: `Delete documents and commit.

Examples:
  segidx delete doc1 doc7
  segidx delete --query 'body:draft AND NOT tags:keep'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().StringVar(&deleteIDField, "id-field", defaultIDField, "field holding the document id")
	deleteCmd.Flags().BoolVarP(&deleteQuery, "query", "q", false, "treat the arguments as one query")
}

func runDelete(cmd *cobra.Command, args []string) error {
	w, err := openWriter()
	if err != nil {
		return err
	}
	defer w.Close()

	before := w.NumDocs()
	if deleteQuery {
		q, err := query.ParseString(strings.Join(args, " "))
		if err != nil {
			return err
		}
		dq, err := search.NewDeleteQuery(q, searchOptions())
		if err != nil {
			return err
		}
		if _, err := w.DeleteDocumentsQuery(dq); err != nil {
			return err
		}
	} else {
		terms := make([]document.Term, len(args))
		for i, id := range args {
			terms[i] = document.NewTerm(deleteIDField, id)
		}
		if _, err := w.DeleteDocuments(terms...); err != nil {
			return err
		}
	}
	if err := w.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d documents, %d live docs remain\n", before-w.NumDocs(), w.NumDocs())
	return nil
}
