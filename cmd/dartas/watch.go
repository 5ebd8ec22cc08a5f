package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"dartas/internal/analysis"
	"dartas/internal/workspace"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>...",
	Short: "Re-check files every time they are saved",
	Long: `Keep one analysis server running and print each file's errors after
every save. Saved content is sent as an overlay so results never lag behind
the server's own file watching.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, first, err := openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.close()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	files := []string{first}
	for _, a := range args[1:] {
		f, err := workspace.AbsFile(cwd, a)
		if err != nil {
			return err
		}
		files = append(files, f)
	}
	if err := s.tracker.Track(ctx, files...); err != nil {
		return err
	}

	w, err := workspace.NewWatcher(files, workspace.DefaultDebounce, s.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	out := cmd.OutOrStdout()
	for _, f := range files {
		if err := reportErrors(ctx, s.client, out, f); err != nil {
			return err
		}
	}

	// stop watching when the server goes away
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.client.Done():
			cancel()
		case <-watchCtx.Done():
		}
	}()

	s.logger.Info("Watching files", "count", len(files), "project", rootLabel(s.root))
	var saveErr error
	err = w.Run(watchCtx, func(file string) {
		if saveErr != nil {
			return
		}
		saveErr = onSave(watchCtx, s.client, out, file)
		if saveErr != nil {
			cancel()
		}
	})

	switch {
	case saveErr != nil && !errors.Is(saveErr, context.Canceled):
		return saveErr
	case s.client.Err() != nil:
		return s.client.Err()
	case err != nil && !errors.Is(err, context.Canceled):
		return err
	}
	return nil
}

// onSave sends the saved content as an overlay and re-reports errors.
func onSave(ctx context.Context, client *analysis.Client, out io.Writer, file string) error {
	content, err := os.ReadFile(file)
	if err != nil {
		// the file may be mid-rename; the next event will catch it
		return nil
	}
	if err := client.UpdateFileContent(ctx, file, string(content)); err != nil {
		return err
	}
	return reportErrors(ctx, client, out, file)
}

func reportErrors(ctx context.Context, client *analysis.Client, out io.Writer, file string) error {
	errs, err := client.GetErrors(ctx, file)
	if err != nil {
		if analysis.IsConnectionLost(err) {
			return err
		}
		// a server error for one file should not end the watch
		_, werr := fmt.Fprintf(out, "%s: %v\n", file, err)
		return werr
	}
	return printResponse(out, &ErrorsResponseCLI{File: file, Errors: errs})
}
