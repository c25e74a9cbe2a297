// Package segment locates TCP segments inside IP packets without copying.
package segment

import "firestige.xyz/tcpseg/internal/core"

// layout carries the version-specific field offsets of an IP header. The set
// of implementations is closed: ipv4Layout and ipv6Layout.
type layout interface {
	version() core.IPVersion
	// protocolOffset is the position of the protocol / next-header byte
	// relative to the start of the IP header.
	protocolOffset() int
	// checkProtocol reports why proto does not announce a TCP segment.
	checkProtocol(proto uint8) error
}

type ipv4Layout struct{}

func (ipv4Layout) version() core.IPVersion { return core.IPv4 }
func (ipv4Layout) protocolOffset() int { return 9 }

func (ipv4Layout) checkProtocol(proto uint8) error {
	if proto != core.ProtocolTCP {
		return core.ErrUnsupportedProtocol
	}
	return nil
}

// ipv6Layout only covers the fixed 40-byte base header.
type ipv6Layout struct{}

func (ipv6Layout) version() core.IPVersion { return core.IPv6 }
func (ipv6Layout) protocolOffset() int { return 6 }

func (ipv6Layout) checkProtocol(proto uint8) error {
	switch {
	case proto == core.ProtocolTCP:
		return nil
	case isExtensionHeader(proto):
		return core.ErrNextHeaderIsExtension
	default:
		return core.ErrUnsupportedProtocol
	}
}

// layoutFor maps a version nibble onto its layout.
func layoutFor(v core.IPVersion) (layout, bool) {
	switch v {
	case core.IPv4:
		return ipv4Layout{}, true
	case core.IPv6:
		return ipv6Layout{}, true
	default:
		return nil, false
	}
}

// IPv6 extension header numbers (IANA "IPv6 Extension Header Types").
const (
	nhHopByHop    = 0
	nhRouting     = 43
	nhFragment    = 44
	nhESP         = 50
	nhAH          = 51
	nhDestOptions = 60
	nhMobility    = 135
	nhHIP         = 139
	nhShim6       = 140
	nhTest1       = 253
	nhTest2       = 254
)

func isExtensionHeader(nh uint8) bool {
	switch nh {
	case nhHopByHop, nhRouting, nhFragment, nhESP, nhAH, nhDestOptions,
		nhMobility, nhHIP, nhShim6, nhTest1, nhTest2:
		return true
	}
	return false
}
