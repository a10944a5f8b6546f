package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ragpal/ragpal/internal/app"
	"github.com/ragpal/ragpal/internal/config"
	"github.com/ragpal/ragpal/internal/generate"
)

var (
	flagNoRAG  bool
	flagPretty bool
	flagMemory bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot question from the terminal",
	Long: `ask streams a single answer to the terminal.

Retrieval uses the configured vector store; pass --no-rag to skip the
knowledge base and query the model directly. With --pretty the answer is
rendered as markdown once the stream completes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().BoolVar(&flagNoRAG, "no-rag", false, "answer without knowledge-base retrieval")
	askCmd.Flags().BoolVar(&flagPretty, "pretty", false, "render the final answer as markdown")
	askCmd.Flags().BoolVar(&flagMemory, "memory", false, "use the volatile in-memory store instead of the configured backend")
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, out io.Writer, question string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if flagMemory {
		cfg.StoreBackend = config.StoreMemory
	}

	a, err := app.Setup(ctx, cfg, newLogger())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close() //nolint:errcheck

	sess := a.Sessions.Create()
	transport := &cliTransport{out: out, pretty: flagPretty}

	var opts generate.StreamOptions
	if flagNoRAG {
		off := false
		opts.Retrieval = &off
	}

	if err := a.Coordinator.StreamWith(ctx, sess, question, transport, opts); err != nil {
		return fmt.Errorf("generating answer: %w", err)
	}
	return nil
}

// cliTransport writes the stream to the terminal. In pretty mode fragments
// are held back and the finalized markdown is rendered in one piece.
type cliTransport struct {
	out    io.Writer
	pretty bool
}

func (t *cliTransport) Start(context.Context) error { return nil }

func (t *cliTransport) Fragment(_ context.Context, text string) error {
	if t.pretty {
		return nil
	}
	_, err := io.WriteString(t.out, text)
	return err
}

func (t *cliTransport) Done(_ context.Context, final generate.Final) error {
	if !t.pretty {
		_, err := io.WriteString(t.out, "\n")
		return err
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		// Fall back to the raw text.
		_, werr := fmt.Fprintln(t.out, final.Text)
		return werr
	}

	rendered, err := renderer.Render(final.Text)
	if err != nil {
		_, werr := fmt.Fprintln(t.out, final.Text)
		return werr
	}
	_, err = io.WriteString(t.out, rendered)
	return err
}

func (t *cliTransport) Fail(_ context.Context, err error) {
	fmt.Fprintf(t.out, "\nerror: %v\n", err)
}
