package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rxtrust/rxtrust-api/config"
	"github.com/rxtrust/rxtrust-api/version"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// loadConfig reads --config if given, otherwise the optional default file.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.Load(o.configPath, true)
	}
	return config.Load(config.DefaultPath, false)
}

// NewRootCmd builds the rxtrust command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "rxtrust",
		Short: "Drug batch recall audit service",
		Long: `rxtrust audits a drug batch against public recall portals and the
CDSCO NSQ (Not of Standard Quality) registry, and returns a verdict.

Available commands:
  serve    - Run the HTTP API
  audit    - Audit a single batch from the command line
  cache    - Inspect and maintain the audit cache
  registry - Inspect the NSQ registry`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(versionTemplate())

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", fmt.Sprintf("Path to the configuration file (default %q if present)", config.DefaultPath))
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging output")

	root.AddCommand(
		newServeCmd(opts),
		newAuditCmd(opts),
		newCacheCmd(opts),
		newRegistryCmd(opts),
	)
	return root
}

func versionTemplate() string {
	tmpl := "rxtrust version: {{.Version}}\n"
	if version.Commit != "" {
		tmpl += "Commit: " + version.Commit + "\n"
	}
	if version.Date != "" {
		tmpl += "Build Date: " + version.Date + "\n"
	}
	return tmpl
}

// Execute runs the root command and reports errors on stderr.
func Execute(stderr io.Writer) int {
	if err := NewRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
