package main

import (
	"github.com/spf13/cobra"

	"github.com/flemzord/convoq/internal/mcpbridge"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the registered tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd, "gateway")
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.Start(); err != nil {
				return err
			}

			s, err := mcpbridge.New(env.Registry, version)
			if err != nil {
				return err
			}
			env.Logger.Info("serving tools over MCP", "tools", env.Registry.Len())
			return mcpbridge.ServeStdio(commandContext(cmd), s)
		},
	}
}
