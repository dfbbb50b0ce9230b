package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vulnverified/surface/internal/engine"
	"github.com/vulnverified/surface/internal/output"
)

// scanDetail is the JSON shape of "scans show".
type scanDetail struct {
	Scan     engine.Scan      `json:"scan"`
	Assets   []engine.Asset   `json:"assets"`
	Findings []engine.Finding `json:"findings"`
}

func (a *app) scansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scans",
		Short: "Inspect recorded scans",
	}

	var (
		domain     string
		limit      int
		jsonOutput bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			scans, err := st.ListScans(cmd.Context(), domain, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.WriteJSON(os.Stdout, scans)
			}
			output.WriteScans(os.Stdout, scans, a.noColor)
			return nil
		},
	}
	list.Flags().StringVar(&domain, "domain", "", "Only scans of this domain")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of scans, 0 for all")
	list.Flags().BoolVar(&jsonOutput, "json", false, "Output JSON")

	var showJSON bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a finished scan with its assets and findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 0)
			if err != nil {
				return fmt.Errorf("invalid scan id %q", args[0])
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			scan, err := st.GetScan(ctx, uint(id))
			if err != nil {
				return err
			}
			if !scan.Status.Terminal() {
				return fmt.Errorf("scan %d is still %s", scan.ID, scan.Status)
			}
			assets, err := st.ListAssets(ctx, scan.ID)
			if err != nil {
				return err
			}
			findings, err := st.ListFindings(ctx, scan.ID)
			if err != nil {
				return err
			}

			if showJSON {
				return output.WriteJSON(os.Stdout, scanDetail{Scan: scan, Assets: assets, Findings: findings})
			}
			output.WriteScanDetail(os.Stdout, scan, assets, findings, a.noColor)
			return nil
		},
	}
	show.Flags().BoolVar(&showJSON, "json", false, "Output JSON")

	cmd.AddCommand(list, show)
	return cmd
}
