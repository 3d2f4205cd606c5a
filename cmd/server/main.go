// Command server runs the metrics exporter: it registers the metrics of a
// configuration file in a collector registry backed by memory, Redis or
// PostgreSQL and serves them for Prometheus scrapes.
//
// Usage:
//
//	# Serve with the in-memory storage and no metrics
//	server
//
//	# Serve the metrics of a configuration file
//	server --config /etc/promexporter/config.yaml
//
//	# Check a configuration file
//	server validate --config config.yaml
//
//	# Remove all stored values
//	server flush --config config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Prometheus metrics exporter",
	Long: `Serves the counters and gauges defined in the configuration file in the
Prometheus text exposition format.

The values are kept in the configured storage (memory, redis or postgres), so
several processes sharing a Redis or PostgreSQL storage export the same values.
The telemetry endpoints are enabled by default. Unlike the Flownative PHP
package, FLOWNATIVE_PROMETHEUS_ENABLE does not need to be set to "true". Set
"enabled: false" in the configuration file or FLOWNATIVE_PROMETHEUS_ENABLE=false
to run the server without them.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration valid (%d metrics, %s storage)\n", len(c.Metrics), c.Storage.Backend)
		return nil
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove all values and collectors from the configured storage",
	RunE:  runFlush,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "configuration file (JSON or YAML)")
	rootCmd.AddCommand(validateCmd, flushCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
