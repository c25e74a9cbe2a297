// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/tcpseg/internal/config"
	"firestige.xyz/tcpseg/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tcpseg",
	Short: "tcpseg - zero-copy TCP segment locator",
	Long: `tcpseg locates TCP segments inside captured IPv4 and IPv6 packets without
copying them. It reads pcap and pcapng files, unwraps Ethernet, VLAN, SLL and
optional tunnel encapsulations, and reports where each TCP header sits.

Every rejected packet is classified: malformed header, unsupported IP version,
unsupported protocol, or an IPv6 extension header in front of TCP.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level (debug/info/warn/error)")

	// Add subcommands
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads the config file, applies global flag overrides and
// initialises logging.
func loadConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return nil, err
		}
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}
	return cfg, nil
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
