package decoder

import (
	"encoding/binary"

	"firestige.xyz/tcpseg/internal/core"
)

const (
	// Protocol numbers
	protocolIPIP = 4
	protocolIPv6 = 41
	protocolGRE  = 47

	// Well-known UDP ports
	vxlanPort  = 4789
	genevePort = 6081

	// Header lengths
	udpHeaderLen    = 8
	vxlanHeaderLen  = 8
	geneveHeaderLen = 8
	greHeaderMinLen = 4
)

// TunnelConfig selects which encapsulations are unwrapped before locating
// the TCP segment. All are off by default.
type TunnelConfig struct {
	VXLAN  bool
	GRE    bool
	Geneve bool
	IPIP   bool
}

func (c TunnelConfig) any() bool {
	return c.VXLAN || c.GRE || c.Geneve || c.IPIP
}

// decodeTunnel attempts to decapsulate one level of tunnelling.
// Returns the inner envelope, or false if env does not carry a tunnel.
func decodeTunnel(env core.Envelope, cfg TunnelConfig) (core.Envelope, bool) {
	buf := env.Buffer()
	payload := env.PayloadOffset()

	switch protocolOf(env) {
	case protocolGRE:
		if cfg.GRE {
			return decodeGRE(buf, payload)
		}
	case protocolIPIP, protocolIPv6:
		if cfg.IPIP {
			return decodeIPIP(buf, payload)
		}
	case core.ProtocolUDP:
		// Check for VXLAN or Geneve based on port
		if buf.Len()-payload < udpHeaderLen {
			return nil, false
		}
		dstPort := binary.BigEndian.Uint16(buf.Bytes()[payload+2 : payload+4])
		switch {
		case dstPort == vxlanPort && cfg.VXLAN:
			return decodeVXLAN(buf, payload+udpHeaderLen)
		case dstPort == genevePort && cfg.Geneve:
			return decodeGeneve(buf, payload+udpHeaderLen)
		}
	}
	return nil, false
}

// decodeVXLAN decapsulates VXLAN tunnel.
func decodeVXLAN(buf core.BufferView, offset int) (core.Envelope, bool) {
	if buf.Len()-offset < vxlanHeaderLen {
		return nil, false
	}

	// VXLAN header format:
	// 0-3: Flags (1 byte) + Reserved (3 bytes)
	// 4-7: VNI (3 bytes) + Reserved (1 byte)

	// Check if VNI flag is set (bit 3 of first byte)
	if buf.At(offset)&0x08 == 0 {
		return nil, false
	}

	// Inner Ethernet frame starts after VXLAN header
	return decodeInnerFrame(buf, offset+vxlanHeaderLen)
}

// decodeGeneve decapsulates Geneve tunnel.
func decodeGeneve(buf core.BufferView, offset int) (core.Envelope, bool) {
	if buf.Len()-offset < geneveHeaderLen {
		return nil, false
	}

	// Geneve header format (simplified):
	// 0: Version (2 bits) + Opt Len (6 bits)
	// 1: Flags
	// 2-3: Protocol Type
	// 4-6: VNI
	// 7: Reserved
	first := buf.At(offset)
	if first>>6 != 0 {
		// Unsupported version
		return nil, false
	}

	headerLen := geneveHeaderLen + int(first&0x3F)*4
	if buf.Len()-offset < headerLen {
		return nil, false
	}

	return decodeInnerFrame(buf, offset+headerLen)
}

// decodeInnerFrame decodes an encapsulated Ethernet frame at offset.
func decodeInnerFrame(buf core.BufferView, offset int) (core.Envelope, bool) {
	_, l3, err := decodeEthernet(buf.Bytes()[offset:])
	if err != nil {
		return nil, false
	}
	inner, err := decodeIP(buf, offset+l3)
	if err != nil {
		return nil, false
	}
	return inner, true
}

// decodeGRE decapsulates GRE tunnel.
func decodeGRE(buf core.BufferView, offset int) (core.Envelope, bool) {
	if buf.Len()-offset < greHeaderMinLen {
		return nil, false
	}

	// GRE header format:
	// 0-1: Flags and Version
	// 2-3: Protocol Type
	data := buf.Bytes()[offset:]
	flags := binary.BigEndian.Uint16(data[0:2])
	protocolType := binary.BigEndian.Uint16(data[2:4])

	headerLen := greHeaderMinLen
	// Checksum present (bit 15)
	if flags&0x8000 != 0 {
		headerLen += 4
	}
	// Key present (bit 13)
	if flags&0x2000 != 0 {
		headerLen += 4
	}
	// Sequence present (bit 12)
	if flags&0x1000 != 0 {
		headerLen += 4
	}

	if len(data) < headerLen {
		return nil, false
	}
	if protocolType != etherTypeIPv4 && protocolType != etherTypeIPv6 {
		return nil, false
	}

	return decodeIPIP(buf, offset+headerLen)
}

// decodeIPIP decapsulates IP-in-IP; the outer payload is the inner header.
func decodeIPIP(buf core.BufferView, offset int) (core.Envelope, bool) {
	inner, err := decodeIP(buf, offset)
	if err != nil {
		return nil, false
	}
	return inner, true
}
