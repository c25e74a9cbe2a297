package segment

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"

	"firestige.xyz/tcpseg/internal/core"
)

// TCP flag bits of header byte 13.
const (
	FlagFIN uint8 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

// Segment is a TCP segment located inside a packet buffer. It only holds
// offsets into the shared buffer; nothing is copied.
//
// A Segment exists only if the buffer holds a full minimum IP header at
// PacketOffset announcing TCP, and a full minimum TCP header at SegmentOffset.
type Segment struct {
	data          core.BufferView
	packetOffset  int
	segmentOffset int
	version       core.IPVersion

	checksumValidated atomic.Bool
}

// Locate validates the IP header at packetOffset and the TCP header at
// segmentOffset within buf. Failures wrap ErrMalformedHeader,
// ErrUnsupportedIPVersion or ErrUnsupportedProtocol.
func Locate(buf core.BufferView, packetOffset, segmentOffset int) (*Segment, error) {
	n := buf.Len()

	if packetOffset < 0 || n-core.MinIPHeaderLen < packetOffset {
		return nil, fmt.Errorf("%w: need %d bytes of ip header at offset %d, buffer has %d",
			core.ErrMalformedHeader, core.MinIPHeaderLen, packetOffset, n)
	}

	version := core.VersionNibble(buf.At(packetOffset))
	l, ok := layoutFor(version)
	if !ok {
		return nil, fmt.Errorf("%w: version %d at offset %d", core.ErrUnsupportedIPVersion, uint8(version), packetOffset)
	}

	proto := buf.At(packetOffset + l.protocolOffset())
	if err := l.checkProtocol(proto); err != nil {
		return nil, fmt.Errorf("%w: %s protocol %d", err, version, proto)
	}

	if segmentOffset < 0 || n-core.MinTCPHeaderLen < segmentOffset {
		return nil, fmt.Errorf("%w: need %d bytes of tcp header at offset %d, buffer has %d",
			core.ErrMalformedHeader, core.MinTCPHeaderLen, segmentOffset, n)
	}

	return &Segment{
		data:          buf,
		packetOffset:  packetOffset,
		segmentOffset: segmentOffset,
		version:       l.version(),
	}, nil
}

// Data returns the shared buffer. It must not be modified.
func (s *Segment) Data() core.BufferView { return s.data }

// PacketOffset is where the IP header starts.
func (s *Segment) PacketOffset() int { return s.packetOffset }

// SegmentOffset is where the TCP header starts.
func (s *Segment) SegmentOffset() int { return s.segmentOffset }

func (s *Segment) IPVersion() core.IPVersion { return s.version }

// ChecksumValidated reports whether a checksum stage has verified the segment.
func (s *Segment) ChecksumValidated() bool { return s.checksumValidated.Load() }

// MarkChecksumValidated records a successful checksum verification. It
// returns false if the segment was already marked, so exactly one caller
// observes the transition.
func (s *Segment) MarkChecksumValidated() bool {
	return s.checksumValidated.CompareAndSwap(false, true)
}

// IPHeader returns the minimum IP header window. The slice aliases the buffer.
func (s *Segment) IPHeader() []byte {
	b := s.data.Bytes()
	end := s.packetOffset + core.MinIPHeaderLen
	return b[s.packetOffset:end:end]
}

// TCPHeader returns the fixed 20-byte TCP header window, without options.
func (s *Segment) TCPHeader() []byte {
	b := s.data.Bytes()
	end := s.segmentOffset + core.MinTCPHeaderLen
	return b[s.segmentOffset:end:end]
}

func (s *Segment) SrcPort() uint16 { return binary.BigEndian.Uint16(s.TCPHeader()[0:2]) }
func (s *Segment) DstPort() uint16 { return binary.BigEndian.Uint16(s.TCPHeader()[2:4]) }
func (s *Segment) Seq() uint32 { return binary.BigEndian.Uint32(s.TCPHeader()[4:8]) }
func (s *Segment) Ack() uint32 { return binary.BigEndian.Uint32(s.TCPHeader()[8:12]) }

// HeaderLen is the header length declared by the data-offset nibble. It is
// not checked against the buffer; options may be truncated.
func (s *Segment) HeaderLen() int {
	return int((s.TCPHeader()[12]&0xF0)>>4) * 4
}

// Flags returns the eight flag bits (CWR..FIN).
func (s *Segment) Flags() uint8 { return s.TCPHeader()[13] }

func (s *Segment) HasFlag(flag uint8) bool { return s.Flags()&flag != 0 }

func (s *Segment) String() string {
	return fmt.Sprintf("%s tcp segment ip@%d tcp@%d %d->%d flags=%#02x",
		s.version, s.packetOffset, s.segmentOffset, s.SrcPort(), s.DstPort(), s.Flags())
}

var flagNames = [8]string{"FIN", "SYN", "RST", "PSH", "ACK", "URG", "ECE", "CWR"}

// FlagNames renders flag bits as "SYN|ACK", or "-" when none are set.
func FlagNames(flags uint8) string {
	var b strings.Builder
	for i, name := range flagNames {
		if flags&(1<<i) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(name)
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}
