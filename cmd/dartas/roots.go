package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"dartas/internal/workspace"
)

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "Inspect and edit the project's analysis roots",
}

var rootsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the persisted analysis roots and priority files",
	Args:  cobra.NoArgs,
	RunE:  runRootsList,
}

var rootsAddCmd = &cobra.Command{
	Use:   "add <dir>...",
	Short: "Add directories as analysis roots",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRootsAdd,
}

var rootsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every analysis root and priority file",
	Args:  cobra.NoArgs,
	RunE:  runRootsClear,
}

func init() {
	rootsCmd.AddCommand(rootsListCmd, rootsAddCmd, rootsClearCmd)
	rootCmd.AddCommand(rootsCmd)
}

// runRootsList reads the store directly; no server is started.
func runRootsList(cmd *cobra.Command, _ []string) error {
	s, _, err := setup("")
	if err != nil {
		return err
	}
	defer s.close()

	store, err := workspace.OpenSQLiteStore(s.cfg.StatePath(s.root), s.logger)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, store)

	state, err := store.Load()
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), convertState(state.Roots, state.PriorityFiles, state.UpdatedAt))
}

func runRootsAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, _, err := openSession(ctx, "")
	if err != nil {
		return err
	}
	defer s.close()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	dirs := make([]string, 0, len(args))
	for _, a := range args {
		dir, err := workspace.AbsFile(cwd, a)
		if err != nil {
			return err
		}
		dirs = append(dirs, dir)
	}

	if err := s.tracker.AddRoots(ctx, dirs...); err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), convertState(s.tracker.Roots(), s.tracker.PriorityFiles(), time.Time{}))
}

func runRootsClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, _, err := openSession(ctx, "")
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.tracker.Reset(ctx); err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), convertState(nil, nil, time.Time{}))
}

// convertState labels each root with its pubspec package name.
func convertState(roots, priority []string, updated time.Time) *RootsResponseCLI {
	resp := &RootsResponseCLI{
		Roots:         make([]RootCLI, 0, len(roots)),
		PriorityFiles: append([]string{}, priority...),
	}
	for _, r := range roots {
		root := RootCLI{Path: r}
		if p, err := workspace.ReadPubspec(r); err == nil {
			root.Package = p.Name
		}
		resp.Roots = append(resp.Roots, root)
	}
	if !updated.IsZero() {
		resp.UpdatedAt = updated.Format(time.RFC3339)
	}
	return resp
}

// rootLabel is the short form of a root used in watch output.
func rootLabel(root string) string {
	if p, err := workspace.ReadPubspec(root); err == nil && p.Name != "" {
		return p.Name
	}
	return filepath.Base(root)
}
