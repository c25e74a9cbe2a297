package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"firestige.xyz/tcpseg/internal/config"
	"firestige.xyz/tcpseg/internal/core/decoder"
	"firestige.xyz/tcpseg/internal/filter"
	"firestige.xyz/tcpseg/internal/metrics"
	"firestige.xyz/tcpseg/internal/pipeline"
	"firestige.xyz/tcpseg/internal/sink"
	"firestige.xyz/tcpseg/internal/sink/console"
	"firestige.xyz/tcpseg/internal/sink/kafka"
	"firestige.xyz/tcpseg/internal/source/file"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Locate TCP segments in a capture file",
	Long: `Read a pcap or pcapng file and locate the TCP segment of every packet.

Located segments are printed one per line (text, JSON lines or a YAML
stream) on stdout. A summary of the run, including rejections by reason,
follows on stderr, or on stdout when --no-segments is given.

Examples:
  tcpseg scan -f trace.pcap
  tcpseg scan -f trace.pcap --format json --no-segments
  tcpseg scan -f tunnel.pcap -c tcpseg.yml --log-level debug`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runScan(cmd); err != nil {
			exitWithError("scan failed", err)
		}
	},
}

var (
	scanFile       string
	scanFormat     string
	scanLinkType   string
	scanNoSegments bool
	scanAllIP      bool
)

func init() {
	scanCmd.Flags().StringVarP(&scanFile, "file", "f", "", "capture file to read (required)")
	scanCmd.Flags().StringVar(&scanFormat, "format", "", "override output.format (text/json/yaml)")
	scanCmd.Flags().StringVar(&scanLinkType, "link-type", "", "override decoder.link_type")
	scanCmd.Flags().BoolVar(&scanNoSegments, "no-segments", false, "print only the summary")
	scanCmd.Flags().BoolVar(&scanAllIP, "all", false, "disable the TCP-only BPF pre-filter")
	scanCmd.MarkFlagRequired("file")
}

func runScan(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if scanFormat != "" {
		cfg.Output.Format = scanFormat
	}
	if scanLinkType != "" {
		cfg.Decoder.LinkType = scanLinkType
	}
	if scanNoSegments {
		cfg.Output.Segments = false
	}
	if scanAllIP {
		cfg.Pipeline.TCPOnly = false
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	src, err := file.Open(scanFile)
	if err != nil {
		return err
	}
	defer src.Close()

	decCfg, err := decoderConfig(cfg.Decoder)
	if err != nil {
		return err
	}
	linkType := src.LinkType()
	if decCfg.LinkType != nil {
		linkType = *decCfg.LinkType
	}

	b := pipeline.NewBuilder().
		WithCapturer(src).
		WithDecoder(decoder.NewStandardDecoder(decCfg)).
		WithBufferSize(cfg.Pipeline.BufferSize).
		WithLogger(logrus.WithField("source", src.Path()))

	filters, err := buildFilters(cfg, linkType)
	if err != nil {
		return err
	}
	for _, f := range filters {
		b.WithFilter(f)
	}

	sinks, err := buildSinks(cmd, cfg.Output)
	if err != nil {
		return err
	}
	b.WithSinks(sinks...)

	p := b.Build()
	runErr := p.Run(ctx)

	// keep stdout a clean segment stream when segments are printed
	summaryOut := cmd.OutOrStdout()
	if cfg.Output.Segments {
		summaryOut = cmd.ErrOrStderr()
	}
	summary := p.Summary(src.Path(), linkType.String())
	if err := summary.Render(summaryOut, cfg.Output.Format); err != nil {
		return err
	}
	return runErr
}

// decoderConfig turns the decoder section into a decoder.Config.
func decoderConfig(dc config.DecoderConfig) (decoder.Config, error) {
	out := decoder.Config{
		Tunnel: decoder.TunnelConfig{
			VXLAN:  dc.Tunnel.VXLAN,
			GRE:    dc.Tunnel.GRE,
			Geneve: dc.Tunnel.Geneve,
			IPIP:   dc.Tunnel.IPIP,
		},
	}
	if dc.LinkType != "" {
		lt, err := decoder.ParseLinkType(dc.LinkType)
		if err != nil {
			return decoder.Config{}, err
		}
		out.LinkType = &lt
	}
	return out, nil
}

// buildFilters assembles the pre-decode filters in the order they run.
// The stock TCP-only program inspects the outer header only, so it is left
// out when tunnel decapsulation is enabled.
func buildFilters(cfg *config.GlobalConfig, linkType layers.LinkType) ([]filter.Filter, error) {
	pc := cfg.Pipeline
	var filters []filter.Filter
	if pc.MinLength > 0 {
		filters = append(filters, filter.MinLength(pc.MinLength))
	}
	if pc.TCPOnly && cfg.Decoder.Tunnel.Any() {
		logrus.Info("tcp_only pre-filter skipped: tunnel decapsulation is enabled")
	} else if pc.TCPOnly {
		prog, err := filter.TCPOnly(linkType)
		if err != nil {
			return nil, fmt.Errorf("tcp_only filter: %w", err)
		}
		f, err := filter.NewBPF(prog)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	if pc.BPFRaw != "" {
		raw, err := filter.ParseRaw(pc.BPFRaw)
		if err != nil {
			return nil, err
		}
		f, err := filter.NewRawBPF(raw)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func buildSinks(cmd *cobra.Command, oc config.OutputConfig) ([]sink.Sink, error) {
	var sinks []sink.Sink
	if oc.Segments {
		out, err := console.NewSink(cmd.OutOrStdout(), oc.Format)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, out)
	}
	if oc.Kafka.Enabled {
		k, err := kafka.NewSink(kafka.Config{
			Brokers:      oc.Kafka.Brokers,
			Topic:        oc.Kafka.Topic,
			BatchSize:    oc.Kafka.BatchSize,
			BatchTimeout: oc.Kafka.BatchTimeout,
			Compression:  oc.Kafka.Compression,
			MaxAttempts:  oc.Kafka.MaxAttempts,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
	}
	return sinks, nil
}
