package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/tcpseg/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without reading any capture.

Environment overrides (TCPSEG_*) are applied before validation, exactly as
they would be for scan.

Examples:
  tcpseg validate -c tcpseg.yml
  TCPSEG_OUTPUT_FORMAT=json tcpseg validate -c tcpseg.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

func runValidateCommand() {
	if configFile == "" {
		exitWithError("validate requires --config", nil)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}

	linkType := cfg.Decoder.LinkType
	if linkType == "" {
		linkType = "from capture"
	}
	fmt.Printf("VALID: log=%s/%s link_type=%s tcp_only=%t output=%s metrics=%t kafka=%t\n",
		cfg.Log.Level,
		cfg.Log.Format,
		linkType,
		cfg.Pipeline.TCPOnly,
		cfg.Output.Format,
		cfg.Metrics.Enabled,
		cfg.Output.Kafka.Enabled,
	)
}
