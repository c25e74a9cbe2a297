// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is; wrapped messages carry
// the offsets involved.
var (
	// Segment locating errors
	ErrMalformedHeader      = errors.New("tcpseg: malformed header")
	ErrUnsupportedIPVersion = errors.New("tcpseg: unsupported ip version")
	ErrUnsupportedProtocol  = errors.New("tcpseg: unsupported protocol")

	// ErrNextHeaderIsExtension is returned for IPv6 packets whose base header
	// points at an extension header. Extension chains are not traversed, so it
	// also matches ErrUnsupportedProtocol.
	ErrNextHeaderIsExtension = fmt.Errorf("%w: ipv6 next header is an extension header", ErrUnsupportedProtocol)

	// Envelope decoding errors
	ErrPacketTooShort      = errors.New("tcpseg: packet too short")
	ErrNonIPFrame          = errors.New("tcpseg: non-ip frame")
	ErrUnsupportedLinkType = errors.New("tcpseg: unsupported link type")
	ErrNonInitialFragment  = errors.New("tcpseg: non-initial ip fragment")

	// Configuration errors
	ErrConfigInvalid = errors.New("tcpseg: invalid configuration")
)

// Reason maps an error to a short, stable label for counters and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNextHeaderIsExtension):
		return "ipv6_extension"
	case errors.Is(err, ErrUnsupportedProtocol):
		return "unsupported_protocol"
	case errors.Is(err, ErrUnsupportedIPVersion):
		return "unsupported_ip_version"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, ErrPacketTooShort):
		return "packet_too_short"
	case errors.Is(err, ErrNonIPFrame):
		return "non_ip"
	case errors.Is(err, ErrUnsupportedLinkType):
		return "unsupported_link_type"
	case errors.Is(err, ErrNonInitialFragment):
		return "non_initial_fragment"
	default:
		return "other"
	}
}
