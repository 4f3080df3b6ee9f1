package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flemzord/convoq/internal/runner"
)

var errNoHistory = errors.New("no interaction history: configure store.sqlite with record_interactions")

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent query executor interactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(cmd, "gateway")
			if err != nil {
				return err
			}
			defer env.Close()
			if env.History == nil {
				return errNoHistory
			}

			limit, _ := cmd.Flags().GetInt("limit")
			items, err := env.History.Recent(commandContext(cmd), limit)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return printHistory(cmd, items, asJSON)
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of interactions (0 for all)")
	cmd.Flags().Bool("json", false, "Print full interactions as JSON")
	return cmd
}

func printHistory(cmd *cobra.Command, items []runner.Interaction, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCONVERSATION\tSTATUS\tELAPSED\tQUERY")
	for _, in := range items {
		status := "ok"
		switch {
		case !in.Success:
			status = "error"
		case in.FromCache:
			status = "cached"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			in.RecordedAt.Format(time.RFC3339),
			in.ConversationID,
			status,
			in.Elapsed.Round(time.Millisecond),
			oneLine(in.Query, 60),
		)
	}
	return w.Flush()
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}
