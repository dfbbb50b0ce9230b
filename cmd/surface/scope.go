package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vulnverified/surface/internal/engine"
	"github.com/vulnverified/surface/internal/output"
)

func (a *app) scopeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Manage the domains and networks you are authorized to scan",
	}

	var org string
	add := &cobra.Command{
		Use:   "add <domain|cidr> <value>",
		Short: "Authorize a domain (and its subdomains) or a CIDR",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			e, err := st.AddScope(cmd.Context(), engine.ScopeEntry{Org: org, Kind: args[0], Value: args[1]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s to scope of %s\n", e.Kind, e.Value, e.Org)
			return nil
		},
	}
	add.Flags().StringVar(&org, "org", engine.DefaultOrg, "Organization owning the entry")

	var (
		listOrg    string
		jsonOutput bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List scope entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.ListScopes(cmd.Context(), listOrg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.WriteJSON(os.Stdout, entries)
			}
			output.WriteScopes(os.Stdout, entries, a.noColor)
			return nil
		},
	}
	list.Flags().StringVar(&listOrg, "org", "", "Only entries of this organization")
	list.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")

	cmd.AddCommand(add, list)
	return cmd
}
