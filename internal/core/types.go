// Package core defines core types with zero external dependencies.
package core

import "fmt"

// Wire constants shared by the decoder and the segment locator.
const (
	MinIPHeaderLen  = 20
	IPv6HeaderLen   = 40
	MinTCPHeaderLen = 20

	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// EthernetHeader represents L2 Ethernet frame header.
type EthernetHeader struct {
	SrcMAC    [6]byte
	DstMAC    [6]byte
	EtherType uint16   // 0x0800=IPv4, 0x86DD=IPv6, 0x8100=VLAN
	VLANs     []uint16 // 0~2 VLAN IDs (QinQ scenarios have 2)
}

// IPVersion is the value of the version nibble of an IP header.
type IPVersion uint8

const (
	IPv4 IPVersion = 4
	IPv6 IPVersion = 6
)

func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("ip(%d)", uint8(v))
	}
}

// VersionNibble extracts the IP version from the first byte of an IP header.
// The mask is applied before the shift so the high nibble is isolated.
func VersionNibble(b byte) IPVersion {
	return IPVersion((b & 0xF0) >> 4)
}

// BufferView is a read-only window over packet bytes owned by the pipeline.
// It never copies and never writes; holders must not outlive the packet.
type BufferView struct {
	data []byte
	base int
}

// NewBufferView wraps data without copying. base must lie within data.
func NewBufferView(data []byte, base int) (BufferView, error) {
	if base < 0 || base > len(data) {
		return BufferView{}, fmt.Errorf("%w: base offset %d outside buffer of %d bytes", ErrMalformedHeader, base, len(data))
	}
	return BufferView{data: data, base: base}, nil
}

// Len is the length of the whole underlying buffer, not of the window past Base.
func (v BufferView) Len() int { return len(v.data) }

// Base is the offset where the owning header begins.
func (v BufferView) Base() int { return v.base }

// At returns the byte at absolute offset i. It panics when i is out of range,
// like a slice index; callers check bounds first.
func (v BufferView) At(i int) byte { return v.data[i] }

// Slice returns data[from:to] without copying.
func (v BufferView) Slice(from, to int) ([]byte, error) {
	if from < 0 || to < from || to > len(v.data) {
		return nil, fmt.Errorf("%w: window [%d:%d] outside buffer of %d bytes", ErrMalformedHeader, from, to, len(v.data))
	}
	return v.data[from:to:to], nil
}

// Bytes exposes the underlying buffer. The result must be treated as read-only.
func (v BufferView) Bytes() []byte { return v.data }

// Rebase returns a view over the same bytes anchored at another offset.
func (v BufferView) Rebase(base int) (BufferView, error) {
	return NewBufferView(v.data, base)
}
