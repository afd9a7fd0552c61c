package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/codexd/internal/service"
)

var agentsJSON bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents a request can name",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printAgents(cmd.OutOrStdout(), service.Agents(), agentsJSON)
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "print JSON")
}

func printAgents(w io.Writer, list []service.AgentInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tDESCRIPTION")
	for _, a := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.ID, a.Type, a.Description)
	}
	return tw.Flush()
}
