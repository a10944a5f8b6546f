package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/ragpal/ragpal/internal/app"
	"github.com/ragpal/ragpal/internal/config"
)

var (
	flagKBFile   string
	flagKBOffset int
	flagKBLimit  int
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base",
}

var kbAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Ingest a document into the knowledge base",
	Long: `add chunks and embeds a document, then stores it in the vector store.

The document text is taken from the argument, from --file, or from stdin
when neither is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readKBInput(args)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			doc, err := a.Knowledge.Ingest(ctx, text)
			if err != nil {
				return fmt.Errorf("ingesting document: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %s (%d chunks)\n", doc.ID, len(doc.Chunks))
			return nil
		})
	},
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge-base documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			view, err := a.Knowledge.List(ctx, flagKBOffset, flagKBLimit)
			if err != nil {
				return fmt.Errorf("listing documents: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, doc := range view.Documents {
				fmt.Fprintf(out, "%s  %s  %s\n",
					doc.ID,
					doc.UploadedAt.Format("2006-01-02 15:04"),
					preview(doc.SourceText, 60),
				)
			}
			fmt.Fprintf(out, "%d of %d documents", len(view.Documents), view.Total)
			if view.HasMore() {
				fmt.Fprintf(out, " (next offset %d)", view.NextOffset)
			}
			fmt.Fprintln(out)
			return nil
		})
	},
}

var kbDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			ok, err := a.Knowledge.Delete(ctx, args[0])
			if err != nil {
				return fmt.Errorf("deleting document: %w", err)
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no such document: %s\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		})
	},
}

func init() {
	kbAddCmd.Flags().StringVarP(&flagKBFile, "file", "f", "", "read the document from a file")
	kbListCmd.Flags().IntVar(&flagKBOffset, "offset", 0, "list offset")
	kbListCmd.Flags().IntVar(&flagKBLimit, "limit", 20, "page size")

	kbCmd.AddCommand(kbAddCmd, kbListCmd, kbDeleteCmd)
	rootCmd.AddCommand(kbCmd)
}

// withApp loads configuration, initializes the application, runs fn, and
// tears down.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close() //nolint:errcheck

	return fn(ctx, a)
}

func readKBInput(args []string) (string, error) {
	switch {
	case flagKBFile != "":
		data, err := os.ReadFile(flagKBFile)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", flagKBFile, err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
}

// preview returns the first n runes of s on a single line.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
