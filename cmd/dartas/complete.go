package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sourcegraph/go-lsp"
	"github.com/spf13/cobra"

	"dartas/internal/completion"
)

var (
	completeLine   int
	completeColumn int
	completeStdin  bool
	completeLSP    bool
)

var completeCmd = &cobra.Command{
	Use:   "complete <file>",
	Short: "List completions at a cursor position",
	Long: `List completions at --line (1-based) and --column (0-based byte column).
With --stdin the buffer is read from standard input and sent to the server
as an overlay, so unsaved edits are completed as the editor sees them.`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

func init() {
	completeCmd.Flags().IntVar(&completeLine, "line", 1, "Cursor line, 1-based")
	completeCmd.Flags().IntVar(&completeColumn, "column", 0, "Cursor byte column, 0-based")
	completeCmd.Flags().BoolVar(&completeStdin, "stdin", false, "Read the buffer from standard input")
	completeCmd.Flags().BoolVar(&completeLSP, "lsp", false, "Emit LSP CompletionItems instead of candidates")
	rootCmd.AddCommand(completeCmd)
}

func runComplete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, file, err := openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.close()

	content, err := readBuffer(cmd.InOrStdin(), file)
	if err != nil {
		return err
	}
	if completeStdin {
		if err := s.client.UpdateFileContent(ctx, file, string(content)); err != nil {
			return err
		}
	}

	offset, err := completion.ByteOffset(content, completeLine, completeColumn)
	if err != nil {
		return err
	}

	resp := &CompleteResponseCLI{File: file, Offset: offset}
	if completeLSP {
		suggestions, err := s.client.GetSuggestions(ctx, file, offset)
		if err != nil {
			return err
		}
		resp.Items = make([]lsp.CompletionItem, 0, len(suggestions))
		for _, sg := range suggestions {
			resp.Items = append(resp.Items, completion.ToCompletionItem(sg))
		}
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		req := completion.Request{Cwd: cwd, BufName: file, Line: completeLine, Column: completeColumn}
		if resp.Candidates, err = completion.Gather(ctx, s.client, req, content); err != nil {
			return err
		}
	}
	return printResponse(cmd.OutOrStdout(), resp)
}

// readBuffer returns the buffer being completed: stdin with --stdin,
// otherwise the file on disk.
func readBuffer(stdin io.Reader, file string) ([]byte, error) {
	if completeStdin {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read buffer from stdin: %w", err)
		}
		return data, nil
	}
	return os.ReadFile(file)
}
