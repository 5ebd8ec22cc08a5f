package main

import (
	"github.com/spf13/cobra"
)

var (
	navigateOffset int
	navigateLength int
)

var navigateCmd = &cobra.Command{
	Use:   "navigate <file>",
	Short: "Show where the regions in a range navigate to",
	Args:  cobra.ExactArgs(1),
	RunE:  runNavigate,
}

func init() {
	navigateCmd.Flags().IntVar(&navigateOffset, "offset", 0, "Byte offset of the range")
	navigateCmd.Flags().IntVar(&navigateLength, "length", 0, "Byte length of the range")
	_ = navigateCmd.MarkFlagRequired("offset")
	rootCmd.AddCommand(navigateCmd)
}

func runNavigate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, file, err := openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.close()

	nav, err := s.client.GetNavigation(ctx, file, navigateOffset, navigateLength)
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), convertNavigation(file, nav))
}
