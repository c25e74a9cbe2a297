// Package file replays capture files through the pipeline.
package file

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/tcpseg/internal/core"
)

// pcapng section header block type; identical in both byte orders
const ngSectionHeader = 0x0A0D0D0A

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Source reads a pcap or pcapng file without libpcap.
type Source struct {
	path   string
	file   *os.File
	reader packetReader
}

// Open opens path and reads its file header. The format is detected from
// the magic number.
func Open(path string) (*Source, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}

	r, err := newReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}
	return &Source{path: path, file: f, reader: r}, nil
}

func newReader(br *bufio.Reader) (packetReader, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(magic) == ngSectionHeader {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Path returns the file being read.
func (s *Source) Path() string { return s.path }

// LinkType returns the link type declared in the file header.
func (s *Source) LinkType() layers.LinkType { return s.reader.LinkType() }

// ReadPacket returns the next packet, or io.EOF after the last one. Each
// packet owns its data.
func (s *Source) ReadPacket() (core.RawPacket, error) {
	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return core.RawPacket{}, io.EOF
		}
		return core.RawPacket{}, fmt.Errorf("failed to read packet: %w", err)
	}
	return core.RawPacket{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
		LinkType:   uint8(s.reader.LinkType()),
	}, nil
}

// Capture sends every packet to out until the file ends or ctx is done.
// Reaching the end of the file is not an error.
func (s *Source) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	for {
		raw, err := s.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the file.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
