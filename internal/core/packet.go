// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is read from a capture source, zero-copy reference to the read buffer.
type RawPacket struct {
	Data       []byte    // Raw frame data, zero-copy slice
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Actual captured length
	OrigLen    uint32    // Original frame length
	LinkType   uint8     // Link-layer header type of Data (pcap LINKTYPE_* value)
}

// Envelope is a parsed network-layer header: where the IP header starts and
// where its payload starts within a shared buffer.
type Envelope interface {
	Buffer() BufferView
	PacketOffset() int
	PayloadOffset() int
	Version() IPVersion
}

// IPv4Envelope describes an IPv4 header. PayloadOffset accounts for IHL, so
// options are skipped.
type IPv4Envelope struct {
	Data    BufferView
	Offset  int // IP header start
	Payload int // first byte past the IP header
}

func (e IPv4Envelope) Buffer() BufferView { return e.Data }
func (e IPv4Envelope) PacketOffset() int { return e.Offset }
func (e IPv4Envelope) PayloadOffset() int { return e.Payload }
func (e IPv4Envelope) Version() IPVersion { return IPv4 }

// IPv6Envelope describes the fixed IPv6 base header. Payload is always
// Offset+40; extension headers are not walked.
type IPv6Envelope struct {
	Data    BufferView
	Offset  int
	Payload int
}

func (e IPv6Envelope) Buffer() BufferView { return e.Data }
func (e IPv6Envelope) PacketOffset() int { return e.Offset }
func (e IPv6Envelope) PayloadOffset() int { return e.Payload }
func (e IPv6Envelope) Version() IPVersion { return IPv6 }
