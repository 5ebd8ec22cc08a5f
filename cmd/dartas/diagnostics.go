package main

import (
	"github.com/spf13/cobra"
)

var errorsCmd = &cobra.Command{
	Use:   "errors <file>",
	Short: "List analysis errors for a file",
	Long:  "Start the analysis server for the file's project and print the file's errors, warnings and hints",
	Args:  cobra.ExactArgs(1),
	RunE:  runErrors,
}

func init() {
	rootCmd.AddCommand(errorsCmd)
}

func runErrors(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, file, err := openSession(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.close()

	errs, err := s.client.GetErrors(ctx, file)
	if err != nil {
		return err
	}
	return printResponse(cmd.OutOrStdout(), &ErrorsResponseCLI{File: file, Errors: errs})
}
