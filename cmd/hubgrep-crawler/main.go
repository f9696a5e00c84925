// Package main provides the entry point for the hubgrep crawler worker
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version is stamped via -ldflags at build time
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hubgrep-crawler",
		Short: "HubGrep crawler - fetches repository metadata blocks from an indexer",
		Long: `The crawler worker fetches crawl blocks from a HubGrep indexer, walks the
assigned hoster API, and puts the repository results back.

Commands:
  crawl         Run blocks from one explicit block endpoint
  crawl-hoster  Run blocks for specific hoster API domains, round-robin
  crawl-type    Run load-balanced blocks for one hoster type
  crawl-stop    Ask a running worker on this machine to finish and exit`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newCrawlCommand())
	rootCmd.AddCommand(newCrawlHosterCommand())
	rootCmd.AddCommand(newCrawlTypeCommand())
	rootCmd.AddCommand(newCrawlStopCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "hubgrep-crawler %s\n", version)
		},
	}
}
