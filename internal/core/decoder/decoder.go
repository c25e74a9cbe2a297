// Package decoder turns captured frames into IP envelopes for the segment locator.
package decoder

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"

	"firestige.xyz/tcpseg/internal/core"
)

const (
	loopbackHeaderLen = 4  // BSD loopback address family
	linuxSLLHeaderLen = 16 // Linux "cooked" capture v1
)

// Decoder decodes raw packets into IP envelopes.
type Decoder interface {
	Decode(raw core.RawPacket) (core.Envelope, error)
}

// Config configures StandardDecoder.
type Config struct {
	// LinkType overrides the link type carried by each RawPacket when non-nil.
	LinkType *layers.LinkType
	Tunnel   TunnelConfig
}

// StandardDecoder finds the outermost (or, with tunnels enabled, the inner)
// IP header of a frame. It keeps no per-packet state and is safe for
// concurrent use.
type StandardDecoder struct {
	cfg Config
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	return &StandardDecoder{cfg: cfg}
}

// Decode locates the IP header of raw.Data and returns its envelope.
func (d *StandardDecoder) Decode(raw core.RawPacket) (core.Envelope, error) {
	if len(raw.Data) == 0 {
		return nil, core.ErrPacketTooShort
	}

	linkType := layers.LinkType(raw.LinkType)
	if d.cfg.LinkType != nil {
		linkType = *d.cfg.LinkType
	}

	offset, err := networkOffset(raw.Data, linkType)
	if err != nil {
		return nil, err
	}

	buf, err := core.NewBufferView(raw.Data, 0)
	if err != nil {
		return nil, err
	}

	env, err := decodeIP(buf, offset)
	if err != nil {
		return nil, err
	}

	if d.cfg.Tunnel.any() {
		if inner, ok := decodeTunnel(env, d.cfg.Tunnel); ok {
			return inner, nil
		}
	}
	return env, nil
}

// networkOffset returns where the L3 header starts for the given link type.
func networkOffset(data []byte, linkType layers.LinkType) (int, error) {
	switch linkType {
	case layers.LinkTypeEthernet:
		_, offset, err := decodeEthernet(data)
		return offset, err

	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return 0, nil

	case layers.LinkTypeNull, layers.LinkTypeLoop:
		if len(data) < loopbackHeaderLen {
			return 0, core.ErrPacketTooShort
		}
		return loopbackHeaderLen, nil

	case layers.LinkTypeLinuxSLL:
		if len(data) < linuxSLLHeaderLen {
			return 0, core.ErrPacketTooShort
		}
		proto := binary.BigEndian.Uint16(data[14:16])
		if proto != etherTypeIPv4 && proto != etherTypeIPv6 {
			return 0, core.ErrNonIPFrame
		}
		return linuxSLLHeaderLen, nil

	default:
		return 0, fmt.Errorf("%w: %s", core.ErrUnsupportedLinkType, linkType)
	}
}

var linkTypeNames = map[string]layers.LinkType{
	"ethernet":  layers.LinkTypeEthernet,
	"raw":       layers.LinkTypeRaw,
	"ipv4":      layers.LinkTypeIPv4,
	"ipv6":      layers.LinkTypeIPv6,
	"null":      layers.LinkTypeNull,
	"loop":      layers.LinkTypeLoop,
	"linux_sll": layers.LinkTypeLinuxSLL,
}

// ParseLinkType maps a configuration name such as "ethernet" or "linux_sll"
// to the link type it selects.
func ParseLinkType(name string) (layers.LinkType, error) {
	lt, ok := linkTypeNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", core.ErrUnsupportedLinkType, name)
	}
	return lt, nil
}
