package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flemzord/convoq/internal/tool"
)

func toolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools registered by the configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd, "gateway")
			if err != nil {
				return err
			}
			defer env.Close()

			asJSON, _ := cmd.Flags().GetBool("json")
			return printTools(cmd, env.Registry, asJSON)
		},
	}
	cmd.Flags().Bool("json", false, "Print definitions with their parameter schemas as JSON")
	return cmd
}

type toolJSON struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

func printTools(cmd *cobra.Command, reg *tool.Registry, asJSON bool) error {
	defs := reg.Definitions()
	if asJSON {
		out := make([]toolJSON, 0, len(defs))
		for _, def := range defs {
			schema, err := tool.RawSchema(def)
			if err != nil {
				return err
			}
			out = append(out, toolJSON{Name: def.Name, Description: def.Description, Parameters: schema})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(defs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tools registered.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPARAMS\tDESCRIPTION")
	for _, def := range defs {
		fmt.Fprintf(w, "%s\t%d\t%s\n", def.Name, len(def.Params), def.Description)
	}
	return w.Flush()
}
