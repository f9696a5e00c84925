package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"hubgrep/internal/modkit"
	"hubgrep/internal/platform/config"
	perr "hubgrep/internal/platform/errors"
	"hubgrep/internal/platform/logger"
	"hubgrep/internal/services/crawl/domain"
	crawlmod "hubgrep/internal/services/crawl/module"
	"hubgrep/internal/services/ops"
)

func newCrawlCommand() *cobra.Command {
	var blockURL string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run blocks from one explicit block endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), func(ctx context.Context, w domain.WorkerPort) error {
				return w.RunBlockURL(ctx, blockURL)
			})
		},
	}
	cmd.Flags().StringVar(&blockURL, "block-url", "", "block endpoint URL (required)")
	_ = cmd.MarkFlagRequired("block-url")
	return cmd
}

func newCrawlHosterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl-hoster <api_domain>...",
		Short: "Run blocks for specific hoster API domains, round-robin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), func(ctx context.Context, w domain.WorkerPort) error {
				return w.RunHosterDomains(ctx, args)
			})
		},
	}
}

func newCrawlTypeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl-type <platform_type>",
		Short: "Run load-balanced blocks for one hoster type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), func(ctx context.Context, w domain.WorkerPort) error {
				return w.RunType(ctx, args[0])
			})
		},
	}
}

func newCrawlStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl-stop",
		Short: "Ask a running worker on this machine to finish and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			opts := crawlmod.FromConfig(config.New())
			data, err := os.ReadFile(opts.PidFile)
			if err != nil {
				return perr.Wrapf(err, perr.ErrorCodeNotFound, "no worker pidfile at %s", opts.PidFile)
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "malformed pidfile %s", opts.PidFile)
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := proc.Signal(syscall.SIGTERM); err != nil {
				return perr.Wrapf(err, perr.ErrorCodeUnavailable, "signal pid %d", pid)
			}
			logger.Get().Info().Int("pid", pid).Msg("stop signal sent")
			return nil
		},
	}
}

// runWorker wires the module, the optional ops server, the pidfile, and the
// signal handling shared by all crawl modes. The first SIGINT/SIGTERM asks the
// worker to finish its current block; the second aborts outright
func runWorker(parent context.Context, run func(context.Context, domain.WorkerPort) error) error {
	deps := modkit.Deps{
		Log: *logger.Get(),
		Cfg: config.New(),
	}

	mod := crawlmod.New(deps)
	opts := mod.Options()
	ports := mod.Ports().(crawlmod.Ports)
	log := deps.Log

	if err := writePidFile(opts.PidFile); err != nil {
		return err
	}
	defer func() { _ = os.Remove(opts.PidFile) }()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			ports.Worker.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			log.Warn().Msg("second signal, aborting")
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.OpsAddr != "" {
		opsSrv := ops.New(opts.OpsAddr, mod)
		go func() {
			if err := opsSrv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("ops server failed")
			}
		}()
		defer func() { _ = opsSrv.Shutdown(context.Background()) }()
	}

	err := run(ctx, ports.Worker)
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func writePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
