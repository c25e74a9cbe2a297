package pipeline

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tcpseg/internal/core"
	"firestige.xyz/tcpseg/internal/core/decoder"
	"firestige.xyz/tcpseg/internal/filter"
	"firestige.xyz/tcpseg/internal/sink"
)

// Mock implementations for testing

// sliceCapturer replays a fixed list of packets.
type sliceCapturer struct {
	packets []core.RawPacket
	err     error
}

func (c *sliceCapturer) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	for _, p := range c.packets {
		select {
		case out <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

// blockingCapturer never produces packets and returns once cancelled.
type blockingCapturer struct{}

func (blockingCapturer) Capture(ctx context.Context, _ chan<- core.RawPacket) error {
	<-ctx.Done()
	return ctx.Err()
}

// mockSink keeps copies of every emitted segment.
type mockSink struct {
	mu       sync.Mutex
	views    []sink.SegmentView
	failEmit bool
	flushed  int
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Emit(_ context.Context, rec sink.Record) error {
	if m.failEmit {
		return errors.New("sink unavailable")
	}
	m.mu.Lock()
	m.views = append(m.views, sink.ViewOf(rec))
	m.mu.Unlock()
	return nil
}

func (m *mockSink) Flush(context.Context) error {
	m.mu.Lock()
	m.flushed++
	m.mu.Unlock()
	return nil
}

func (m *mockSink) Views() []sink.SegmentView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sink.SegmentView(nil), m.views...)
}

// Packet builders

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ls...))
	return buf.Bytes()
}

func ethernet(et layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: et,
	}
}

func ipv4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: net.IP{192, 168, 1, 1}, DstIP: net.IP{192, 168, 1, 2}}
}

func ipv6() *layers.IPv6 {
	return &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolTCP,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2")}
}

func raw(data []byte) core.RawPacket {
	return core.RawPacket{
		Data:       data,
		Timestamp:  time.Now(),
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
		LinkType:   uint8(layers.LinkTypeEthernet),
	}
}

func tcpV4(t *testing.T) core.RawPacket {
	return raw(serialize(t, ethernet(layers.EthernetTypeIPv4), ipv4(layers.IPProtocolTCP),
		&layers.TCP{SrcPort: 40000, DstPort: 80, Seq: 1, SYN: true}))
}

func tcpV6(t *testing.T) core.RawPacket {
	return raw(serialize(t, ethernet(layers.EthernetTypeIPv6), ipv6(),
		&layers.TCP{SrcPort: 5060, DstPort: 443, Seq: 2, ACK: true}))
}

func hopByHopV6(t *testing.T) core.RawPacket {
	p := tcpV6(t)
	p.Data[14+6] = 0 // next header: hop-by-hop options
	return p
}

func udpV4(t *testing.T) core.RawPacket {
	return raw(serialize(t, ethernet(layers.EthernetTypeIPv4), ipv4(layers.IPProtocolUDP),
		&layers.UDP{SrcPort: 53, DstPort: 53}))
}

func arp(t *testing.T) core.RawPacket {
	return raw(serialize(t, ethernet(layers.EthernetTypeARP), gopacket.Payload(make([]byte, 28))))
}

// Test cases

func TestPipeline_BasicFlow(t *testing.T) {
	out := &mockSink{}
	p := New(Config{
		Capturer: &sliceCapturer{packets: []core.RawPacket{tcpV4(t), tcpV6(t), hopByHopV6(t), udpV4(t), arp(t)}},
		Decoder:  decoder.NewStandardDecoder(decoder.Config{}),
		Sinks:    []sink.Sink{out},
	})

	require.NoError(t, p.Run(context.Background()))

	stats := p.Stats()
	assert.Equal(t, uint64(5), stats.Received)
	assert.Equal(t, uint64(4), stats.Decoded)
	assert.Equal(t, uint64(1), stats.DecodeErrors)
	assert.Equal(t, uint64(2), stats.Located)
	assert.Equal(t, uint64(2), stats.LocateErrors)
	assert.Equal(t, uint64(2), stats.Emitted)
	assert.Equal(t, map[string]uint64{
		"ipv6_extension":       1,
		"unsupported_protocol": 1,
		"non_ip":               1,
	}, stats.Rejections)

	views := out.Views()
	require.Len(t, views, 2)
	assert.Equal(t, "ipv4", views[0].Version)
	assert.Equal(t, 14, views[0].PacketOffset)
	assert.Equal(t, 34, views[0].SegmentOffset)
	assert.Equal(t, uint16(40000), views[0].SrcPort)
	assert.Equal(t, uint64(1), views[0].Index)
	assert.Equal(t, "ipv6", views[1].Version)
	assert.Equal(t, 54, views[1].SegmentOffset)
	assert.Equal(t, uint64(2), views[1].Index)

	assert.Equal(t, 1, out.flushed)
	_, err := uuid.Parse(p.RunID())
	assert.NoError(t, err)
}

func TestPipeline_FilterDrops(t *testing.T) {
	prog, err := filter.TCPOnly(layers.LinkTypeEthernet)
	require.NoError(t, err)
	bpfFilter, err := filter.NewBPF(prog)
	require.NoError(t, err)

	p := New(Config{
		Capturer: &sliceCapturer{packets: []core.RawPacket{tcpV4(t), udpV4(t), arp(t), tcpV6(t)}},
		Filter:   bpfFilter,
		Decoder:  decoder.NewStandardDecoder(decoder.Config{}),
	})
	require.NoError(t, p.Run(context.Background()))

	stats := p.Stats()
	assert.Equal(t, uint64(4), stats.Received)
	assert.Equal(t, uint64(2), stats.Filtered)
	assert.Equal(t, uint64(2), stats.Located)
	assert.Empty(t, stats.Rejections)
}

func TestPipeline_CaptureError(t *testing.T) {
	boom := errors.New("read failed")
	p := New(Config{
		Capturer: &sliceCapturer{packets: []core.RawPacket{tcpV4(t)}, err: boom},
		Decoder:  decoder.NewStandardDecoder(decoder.Config{}),
	})

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), p.Stats().Located)
}

func TestPipeline_SinkErrorsCounted(t *testing.T) {
	p := New(Config{
		Capturer: &sliceCapturer{packets: []core.RawPacket{tcpV4(t), tcpV6(t)}},
		Decoder:  decoder.NewStandardDecoder(decoder.Config{}),
		Sinks:    []sink.Sink{&mockSink{failEmit: true}},
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, uint64(2), p.Stats().EmitErrors)
	assert.Equal(t, uint64(2), p.Stats().Located)
	assert.Zero(t, p.Stats().Emitted)
}

func TestPipeline_EmittedWhenOneSinkAccepts(t *testing.T) {
	good := &mockSink{}
	p := New(Config{
		Capturer: &sliceCapturer{packets: []core.RawPacket{tcpV4(t)}},
		Decoder:  decoder.NewStandardDecoder(decoder.Config{}),
		Sinks:    []sink.Sink{&mockSink{failEmit: true}, good},
	})

	require.NoError(t, p.Run(context.Background()))
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.EmitErrors)
	assert.Equal(t, uint64(1), stats.Emitted)
	assert.Len(t, good.Views(), 1)
}

func TestPipeline_WaitWithoutStart(t *testing.T) {
	out := &mockSink{}
	p := New(Config{Sinks: []sink.Sink{out}})

	assert.NotPanics(t, func() {
		assert.NoError(t, p.Wait())
	})
	assert.Zero(t, out.flushed)
}

func TestPipeline_Stop(t *testing.T) {
	out := &mockSink{}
	p := New(Config{
		Capturer: blockingCapturer{},
		Decoder:  decoder.NewStandardDecoder(decoder.Config{}),
		Sinks:    []sink.Sink{out},
	})
	require.NoError(t, p.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- p.Stop() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	// A second Wait reports the same result without flushing again
	assert.NoError(t, p.Wait())
	assert.Equal(t, 1, out.flushed)
}

func TestPipeline_StartRequiresDecoder(t *testing.T) {
	p := New(Config{Capturer: blockingCapturer{}})
	err := p.Start(context.Background())
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.NoError(t, p.Stop())
}

func TestPipeline_Summary(t *testing.T) {
	p := New(Config{
		RunID:    "run-1",
		Capturer: &sliceCapturer{packets: []core.RawPacket{tcpV4(t), udpV4(t)}},
		Decoder:  decoder.NewStandardDecoder(decoder.Config{}),
	})
	require.NoError(t, p.Run(context.Background()))

	s := p.Summary("trace.pcap", "Ethernet")
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, "trace.pcap", s.Source)
	assert.Equal(t, uint64(2), s.Received)
	assert.Equal(t, uint64(1), s.Located)
	assert.Equal(t, uint64(1), s.Rejections["unsupported_protocol"])
	assert.NotEmpty(t, s.Elapsed)
}

func TestBuilder_FluentAPI(t *testing.T) {
	out := &mockSink{}
	p := NewBuilder().
		WithRunID("built").
		WithCapturer(&sliceCapturer{packets: []core.RawPacket{tcpV4(t), tcpV6(t), raw(make([]byte, 10))}}).
		WithFilter(filter.MinLength(20)).
		WithDecoder(decoder.NewStandardDecoder(decoder.Config{})).
		WithSinks(out).
		WithBufferSize(1).
		Build()

	assert.Equal(t, "built", p.RunID())
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, uint64(1), p.Stats().Filtered)
	assert.Len(t, out.Views(), 2)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics("r")
	m.Received.Add(3)
	m.Reject("non_ip")
	m.Reset()

	assert.Zero(t, m.Received.Load())
	assert.Empty(t, m.Rejections())
}
