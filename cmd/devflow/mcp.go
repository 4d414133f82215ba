package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alexcabrera/devflow/internal/config"
	"github.com/alexcabrera/devflow/internal/mcpserver"
	"github.com/alexcabrera/devflow/internal/session"
)

func newMCPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve devflow tools to agents over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				srv := mcpserver.NewServer(services, mcpserver.WithLogger(services.Logger()))
				return srv.Serve(cmd.Context(), os.Stdin, cmd.OutOrStdout())
			})
		},
	}
	return cmd
}
