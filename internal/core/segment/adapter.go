package segment

import (
	"fmt"

	"firestige.xyz/tcpseg/internal/core"
)

// FromEnvelope locates the TCP segment that follows a parsed IP header. The
// IP header start and the payload start are always passed as two separate
// offsets, for both versions.
func FromEnvelope(env core.Envelope) (*Segment, error) {
	seg, err := Locate(env.Buffer(), env.PacketOffset(), env.PayloadOffset())
	if err != nil {
		return nil, err
	}
	if seg.version != env.Version() {
		return nil, fmt.Errorf("%w: %s envelope over a %s header at offset %d",
			core.ErrUnsupportedIPVersion, env.Version(), seg.version, env.PacketOffset())
	}
	return seg, nil
}

// FromIPv4 locates the TCP segment after an IPv4 header, options included.
func FromIPv4(env core.IPv4Envelope) (*Segment, error) {
	return FromEnvelope(env)
}

// FromIPv6 locates the TCP segment directly after the IPv6 base header.
func FromIPv6(env core.IPv6Envelope) (*Segment, error) {
	return FromEnvelope(env)
}
