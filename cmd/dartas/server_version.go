package main

import (
	"github.com/spf13/cobra"

	"dartas/internal/version"
)

var serverVersionCmd = &cobra.Command{
	Use:   "server-version",
	Short: "Start the analysis server and print its version",
	Args:  cobra.NoArgs,
	RunE:  runServerVersion,
}

func init() {
	rootCmd.AddCommand(serverVersionCmd)
}

func runServerVersion(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, _, err := openSession(ctx, "")
	if err != nil {
		return err
	}
	defer s.close()

	v, err := s.client.GetVersion(ctx)
	if err != nil {
		return err
	}
	info := s.client.ServerInfo()
	return printResponse(cmd.OutOrStdout(), &ServerVersionResponseCLI{
		ClientVersion:   version.Info(),
		ServerVersion:   v,
		ProtocolVersion: info.Version,
		PID:             info.PID,
	})
}
