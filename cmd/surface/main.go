package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vulnverified/surface/internal/config"
	"github.com/vulnverified/surface/internal/logging"
	"github.com/vulnverified/surface/internal/output"
	"github.com/vulnverified/surface/internal/store"
)

// Set via ldflags at build time.
var version = "dev"

// app carries state shared by every command once the root pre-run has
// loaded configuration.
type app struct {
	v       *viper.Viper
	cfgFile string
	noColor bool
	cfg     *config.Config
	log     *zap.Logger
}

func main() {
	output.Version = version
	a := &app{v: viper.New()}
	if err := a.rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "surface",
		Short: "External attack surface scanning with finding lifecycle tracking",
		Long: "Resolve a domain's hosts, sweep them for exposed services, fingerprint HTTP, TLS and SSH, " +
			"score findings by risk and track them across scans as new, resolved or regressed.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Respect NO_COLOR env var.
			if _, ok := os.LookupEnv("NO_COLOR"); ok {
				a.noColor = true
			}
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			a.cfg, a.log = cfg, log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./surface.yaml or $HOME/surface.yaml)")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable terminal colors")

	root.AddCommand(a.scanCmd(), a.scopeCmd(), a.scansCmd(), versionCmd())

	root.Version = version
	root.SetVersionTemplate("surface {{.Version}}\n")
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skip config loading.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "surface %s\n", version)
		},
	}
}

func (a *app) openStore() (*store.Store, error) {
	st, err := store.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return st, nil
}

// parsePorts parses a comma-separated list of port numbers.
func parsePorts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	var result []int
	seen := make(map[int]bool)

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("port %d out of range (1-65535)", port)
		}
		if !seen[port] {
			seen[port] = true
			result = append(result, port)
		}
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("no valid ports specified")
	}
	return result, nil
}
