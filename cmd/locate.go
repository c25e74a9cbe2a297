package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/tcpseg/internal/core"
	"firestige.xyz/tcpseg/internal/core/decoder"
	"firestige.xyz/tcpseg/internal/core/segment"
	"firestige.xyz/tcpseg/internal/sink"
	"firestige.xyz/tcpseg/internal/sink/console"
)

var locateCmd = &cobra.Command{
	Use:   "locate <hex>",
	Short: "Locate the TCP segment in one hex-encoded packet",
	Long: `Locate the TCP segment in a single packet given as hex. Spaces, colons
and a leading 0x are ignored.

Without offsets the packet is decoded according to --link-type (raw IP by
default). With --packet-offset and --segment-offset the locator is called
directly on those offsets and no decoding takes place.

Examples:
  tcpseg locate 4500002800000000400600000a0000010a000002...
  tcpseg locate --link-type ethernet "00 11 22 33 44 55 ..."
  tcpseg locate --packet-offset 0 --segment-offset 20 4500...`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLocate(cmd, args[0]); err != nil {
			exitWithError(fmt.Sprintf("rejected (%s)", core.Reason(err)), err)
		}
	},
}

var (
	locatePacketOffset  int
	locateSegmentOffset int
	locateLinkType      string
	locateFormat        string
)

func init() {
	locateCmd.Flags().IntVar(&locatePacketOffset, "packet-offset", 0, "offset of the IP header")
	locateCmd.Flags().IntVar(&locateSegmentOffset, "segment-offset", 0, "offset of the TCP header")
	locateCmd.Flags().StringVar(&locateLinkType, "link-type", "raw", "link type used to decode the packet")
	locateCmd.Flags().StringVar(&locateFormat, "format", "", "override output.format (text/json/yaml)")
}

func runLocate(cmd *cobra.Command, input string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if locateFormat != "" {
		cfg.Output.Format = locateFormat
	}

	data, err := parseHex(input)
	if err != nil {
		return err
	}

	var seg *segment.Segment
	explicitPacket := cmd.Flags().Changed("packet-offset")
	explicitSegment := cmd.Flags().Changed("segment-offset")
	switch {
	case explicitPacket && explicitSegment:
		buf, err := core.NewBufferView(data, 0)
		if err != nil {
			return err
		}
		seg, err = segment.Locate(buf, locatePacketOffset, locateSegmentOffset)
		if err != nil {
			return err
		}
	case explicitPacket || explicitSegment:
		return fmt.Errorf("--packet-offset and --segment-offset must be given together")
	default:
		cfg.Decoder.LinkType = locateLinkType
		decCfg, err := decoderConfig(cfg.Decoder)
		if err != nil {
			return err
		}
		env, err := decoder.NewStandardDecoder(decCfg).Decode(core.RawPacket{
			Data:       data,
			Timestamp:  time.Now(),
			CaptureLen: uint32(len(data)),
			OrigLen:    uint32(len(data)),
		})
		if err != nil {
			return err
		}
		seg, err = segment.FromEnvelope(env)
		if err != nil {
			return err
		}
	}

	out, err := console.NewSink(cmd.OutOrStdout(), cfg.Output.Format)
	if err != nil {
		return err
	}
	if err := out.Emit(context.Background(), sink.Record{Index: 1, Timestamp: time.Now(), Segment: seg}); err != nil {
		return err
	}
	return out.Flush(context.Background())
}

// parseHex accepts "45 00 ...", "45:00:..." and "0x4500..." forms.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return data, nil
}
