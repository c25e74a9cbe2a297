package decoder

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/tcpseg/internal/core"
)

const (
	ipv4HeaderMinLen = core.MinIPHeaderLen
	ipv6HeaderLen    = core.IPv6HeaderLen
)

// decodeIP builds the envelope of the IP header starting at offset.
// The buffer is not copied; the envelope only records offsets.
func decodeIP(buf core.BufferView, offset int) (core.Envelope, error) {
	if offset < 0 || offset >= buf.Len() {
		return nil, core.ErrPacketTooShort
	}

	switch core.VersionNibble(buf.At(offset)) {
	case core.IPv4:
		return decodeIPv4(buf, offset)
	case core.IPv6:
		return decodeIPv6(buf, offset)
	default:
		return nil, fmt.Errorf("%w: version nibble %d", core.ErrUnsupportedIPVersion, core.VersionNibble(buf.At(offset)))
	}
}

// decodeIPv4 decodes IPv4 header.
func decodeIPv4(buf core.BufferView, offset int) (core.Envelope, error) {
	data := buf.Bytes()[offset:]
	if len(data) < ipv4HeaderMinLen {
		return nil, core.ErrPacketTooShort
	}

	// IHL (Internet Header Length) - lower 4 bits of first byte, in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen || len(data) < headerLen {
		return nil, fmt.Errorf("%w: ihl %d bytes, %d available", core.ErrPacketTooShort, headerLen, len(data))
	}

	if isIPFragment(data, 4) && fragmentOffset(data) != 0 {
		return nil, core.ErrNonInitialFragment
	}

	view, err := buf.Rebase(offset)
	if err != nil {
		return nil, err
	}
	return core.IPv4Envelope{Data: view, Offset: offset, Payload: offset + headerLen}, nil
}

// decodeIPv6 decodes the IPv6 base header. Extension headers are left to the
// segment locator, which reports them instead of walking the chain.
func decodeIPv6(buf core.BufferView, offset int) (core.Envelope, error) {
	if buf.Len()-offset < ipv6HeaderLen {
		return nil, core.ErrPacketTooShort
	}

	view, err := buf.Rebase(offset)
	if err != nil {
		return nil, err
	}
	return core.IPv6Envelope{Data: view, Offset: offset, Payload: offset + ipv6HeaderLen}, nil
}

// protocolOf returns the protocol / next-header byte of the envelope's header.
func protocolOf(env core.Envelope) uint8 {
	b := env.Buffer()
	if env.Version() == core.IPv4 {
		return b.At(env.PacketOffset() + 9)
	}
	return b.At(env.PacketOffset() + 6)
}

// isIPFragment checks if an IP packet is a fragment.
func isIPFragment(ipData []byte, version uint8) bool {
	if version == 4 {
		if len(ipData) < ipv4HeaderMinLen {
			return false
		}
		// Flags and Fragment Offset (2 bytes at offset 6)
		flagsOffset := binary.BigEndian.Uint16(ipData[6:8])
		moreFragments := (flagsOffset & 0x2000) != 0 // MF flag
		return moreFragments || flagsOffset&0x1FFF != 0
	}
	// IPv6 fragmentation is signalled by an extension header
	return false
}

// fragmentOffset returns the IPv4 fragment offset in 8-byte units.
func fragmentOffset(ipData []byte) uint16 {
	return binary.BigEndian.Uint16(ipData[6:8]) & 0x1FFF
}
