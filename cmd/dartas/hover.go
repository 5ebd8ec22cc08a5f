package main

import (
	"github.com/spf13/cobra"
)

var hoverOffset int

var hoverCmd = &cobra.Command{
	Use:   "hover <file>",
	Short: "Describe the element at an offset",
	Args:  cobra.ExactArgs(1),
	RunE:  runHover,
}

func init() {
	hoverCmd.Flags().IntVar(&hoverOffset, "offset", 0, "Byte offset into the file")
	_ = hoverCmd.MarkFlagRequired("offset")
	rootCmd.AddCommand(hoverCmd)
}

func runHover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, file, err := openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.close()

	hovers, err := s.client.GetHover(ctx, file, hoverOffset)
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), &HoverResponseCLI{File: file, Offset: hoverOffset, Hovers: hovers})
}
