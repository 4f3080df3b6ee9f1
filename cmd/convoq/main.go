// Package main is the entry point for the convoq CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/convoq/internal/config"
	"github.com/flemzord/convoq/internal/core"
	"github.com/flemzord/convoq/pkg/app"

	_ "github.com/flemzord/convoq/internal/gateway"
	_ "github.com/flemzord/convoq/modules/assistant/openai"
	_ "github.com/flemzord/convoq/modules/store/sqlite"
	_ "github.com/flemzord/convoq/modules/tool/arangodb"
	_ "github.com/flemzord/convoq/modules/tool/remote"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "convoq",
		Short:         "Conversational query orchestrator over a remote assistant and tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.PersistentFlags().String("data-dir", "", "Override the data directory")

	root.AddCommand(
		versionCmd(),
		serveCmd(),
		configCmd(),
		toolsCmd(),
		historyCmd(),
		chatCmd(),
		initCmd(),
		mcpCmd(),
		serviceCmd(),
	)
	return root
}

// loadEnv builds the application from the persistent flags without loading
// the modules named in skip.
func loadEnv(cmd *cobra.Command, skip ...string) (*app.Env, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return app.Load(commandContext(cmd), app.Options{
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		Version:    version,
		Skip:       skip,
		LogOutput:  cmd.ErrOrStderr(),
	})
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "convoq %s (commit: %s, built: %s)\n", version, commit, date)
			namespaces := core.Namespaces()
			if len(namespaces) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, ns := range namespaces {
				var ids []string
				for _, mod := range core.GetModulesByNamespace(ns) {
					ids = append(ids, string(mod.ID))
				}
				fmt.Fprintf(out, "  %-10s %s\n", ns, strings.Join(ids, ", "))
			}
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start convoq with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			watch, _ := cmd.Flags().GetDuration("watch-interval")
			return app.Run(app.RunParams{
				ConfigPath:    cfgPath,
				DataDir:       dataDir,
				Version:       version,
				Commit:        commit,
				Date:          date,
				WatchInterval: watch,
			})
		},
	}
	cmd.Flags().Duration("watch-interval", 0, "Config file poll interval (negative disables)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration and provision every module",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("config", args[0]); err != nil {
					return err
				}
			}
			env, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			ids := config.Resolve(env.Config)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules, %d tools)\n", len(ids), env.Registry.Len())
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
