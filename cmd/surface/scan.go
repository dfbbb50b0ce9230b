package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vulnverified/surface/internal/cache"
	"github.com/vulnverified/surface/internal/config"
	"github.com/vulnverified/surface/internal/engine"
	"github.com/vulnverified/surface/internal/notify"
	"github.com/vulnverified/surface/internal/output"
	"github.com/vulnverified/surface/internal/recon"
	"github.com/vulnverified/surface/internal/risk"
	"github.com/vulnverified/surface/internal/wordlist"
)

func (a *app) scanCmd() *cobra.Command {
	var (
		jsonOutput bool
		portsList  string
		silent     bool
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "scan <domain>",
		Short: "Scan a domain that is in scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanPorts := a.cfg.Scan.Ports
			if portsList != "" {
				parsed, err := parsePorts(portsList)
				if err != nil {
					return fmt.Errorf("invalid --ports: %w", err)
				}
				scanPorts = parsed
			}

			// Clean Ctrl+C: probes stop, the scan is recorded as failed.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			model, err := risk.Load(a.cfg.Risk.ControlsFile)
			if err != nil {
				return err
			}

			showProgress := !jsonOutput && !silent
			progress := output.NewProgress(os.Stderr, verbose, !showProgress)
			if showProgress {
				output.WriteHeader(os.Stderr, a.noColor)
			}

			stages, closeStages, err := a.buildStages(progress)
			if err != nil {
				return err
			}
			defer closeStages()

			dispatcher, sinks := a.buildDispatcher()
			done := make(chan struct{})
			go func() {
				dispatcher.Run(context.WithoutCancel(ctx))
				close(done)
			}()

			orch := &engine.Orchestrator{
				Store:    st,
				Stages:   stages,
				Scorer:   model,
				Assets:   config.NewAssetTable(a.cfg.Assets),
				Ports:    scanPorts,
				Logger:   a.log,
				Progress: progress,
			}
			if sinks > 0 {
				orch.Notifier = dispatcher
			}

			result, runErr := orch.Run(ctx, args[0])
			dispatcher.Close()
			<-done

			if runErr != nil {
				if errors.Is(runErr, engine.ErrOutOfScope) {
					return fmt.Errorf("%w (register it with: surface scope add domain <domain>)", runErr)
				}
				return runErr
			}

			if showProgress {
				progress.Complete(result.Scan)
			}
			if jsonOutput {
				return output.WriteJSON(os.Stdout, result)
			}
			output.WriteFindings(os.Stdout, result.Findings, a.noColor)
			output.WriteTransitions(os.Stdout, result.Transitions, a.noColor)
			output.WriteSummary(os.Stdout, result, a.noColor)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&jsonOutput, "json", false, "Output structured JSON to stdout")
	f.StringVar(&portsList, "ports", "", "Comma-separated port list (default: scan.ports)")
	f.Int("concurrency", 500, "Max concurrent connect probes")
	f.Duration("timeout", 0, "Per-connection timeout (default: scan.connect_timeout)")
	f.Float64("rate", 0, "Max connect attempts per second, 0 for unlimited")
	f.Bool("axfr", false, "Also try DNS zone transfers for host discovery")
	f.String("wordlist", "", `Also guess hosts from a wordlist ("builtin" or a file)`)
	f.Bool("refresh-passive", false, "Ignore cached passive results and query every source")
	f.BoolVar(&silent, "silent", false, "Results only, no progress")
	f.BoolVarP(&verbose, "verbose", "v", false, "Verbose per-stage progress")

	_ = a.v.BindPFlag("scan.sweep_concurrency", f.Lookup("concurrency"))
	_ = a.v.BindPFlag("scan.connect_timeout", f.Lookup("timeout"))
	_ = a.v.BindPFlag("scan.rate_limit", f.Lookup("rate"))
	_ = a.v.BindPFlag("scan.axfr", f.Lookup("axfr"))
	_ = a.v.BindPFlag("resolver.wordlist", f.Lookup("wordlist"))
	_ = a.v.BindPFlag("passive.refresh", f.Lookup("refresh-passive"))
	return cmd
}

// buildStages wires the recon stages from configuration. The returned
// func releases the passive cache connection.
func (a *app) buildStages(progress engine.ProgressReporter) (engine.Stages, func(), error) {
	c := a.cfg
	userAgent := fmt.Sprintf("surface/%s (+https://github.com/vulnverified/surface)", version)

	sources, err := recon.SourcesByName(c.Passive.Sources)
	if err != nil {
		return engine.Stages{}, nil, err
	}
	var words []string
	if c.Resolver.Wordlist != "" {
		if words, err = wordlist.Load(c.Resolver.Wordlist); err != nil {
			return engine.Stages{}, nil, err
		}
	}
	nameservers := c.Resolver.Nameservers
	if len(nameservers) == 0 {
		nameservers = recon.DefaultNameservers()
	}

	resolver := &recon.Resolver{
		Sources:      sources,
		Nameservers:  nameservers,
		Concurrency:  c.Resolver.Concurrency,
		Timeout:      c.Resolver.Timeout,
		AXFR:         c.Scan.AXFR,
		Wordlist:     words,
		UserAgent:    userAgent,
		CacheTTL:     c.Passive.CacheTTL,
		RefreshCache: c.Passive.Refresh,
		Logger:       a.log.Named("resolver"),
		Progress:     progress,
	}

	closeFn := func() {}
	if c.Passive.CacheAddr != "" {
		vc, err := cache.New(c.Passive.CacheAddr)
		if err != nil {
			a.log.Warn("passive cache unavailable, continuing without it", zap.Error(err))
			progress.Warn(fmt.Sprintf("passive cache unavailable: %s", err))
		} else {
			resolver.Cache = vc
			closeFn = func() { _ = vc.Close() }
		}
	}

	sweeper := &recon.Sweeper{
		Concurrency: c.Scan.SweepConcurrency,
		Timeout:     c.Scan.ConnectTimeout,
	}
	if c.Scan.RateLimit > 0 {
		sweeper.Limiter = rate.NewLimiter(rate.Limit(c.Scan.RateLimit), max(1, int(c.Scan.RateLimit)))
	}

	return engine.Stages{
		Resolver: resolver,
		Sweeper:  sweeper,
		HTTP: &recon.HTTPProber{
			Concurrency: c.Scan.ProbeConcurrency,
			Timeout:     c.Scan.HTTPTimeout,
			UserAgent:   userAgent,
		},
		TLS: &recon.TLSInspector{
			Concurrency: c.Scan.ProbeConcurrency,
			Timeout:     c.Scan.TLSTimeout,
		},
		SSH: &recon.BannerGrabber{
			Concurrency: c.Scan.ProbeConcurrency,
			Timeout:     c.Scan.SSHTimeout,
		},
	}, closeFn, nil
}

// buildDispatcher creates the notification queue with a sink per
// configured destination.
func (a *app) buildDispatcher() (*notify.Dispatcher, int) {
	var sinks []notify.Sink
	if a.cfg.Notify.SlackWebhook != "" {
		sinks = append(sinks, &notify.SlackSink{Webhook: a.cfg.Notify.SlackWebhook})
	}
	if a.cfg.Notify.AMQPURL != "" {
		sinks = append(sinks, &notify.AMQPSink{URL: a.cfg.Notify.AMQPURL, Queue: a.cfg.Notify.AMQPQueue})
	}
	return notify.NewDispatcher(a.cfg.Notify.Buffer, a.log.Named("notify"), sinks...), len(sinks)
}
