package filter

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/bpf"

	"firestige.xyz/tcpseg/internal/core"
)

func frame(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ls...))
	return buf.Bytes()
}

func eth(et layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: et,
	}
}

func ip4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
}

func ip6(next layers.IPProtocol) *layers.IPv6 {
	return &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: next, SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2")}
}

func tcp() *layers.TCP { return &layers.TCP{SrcPort: 1234, DstPort: 80, SYN: true} }
func udp() *layers.UDP { return &layers.UDP{SrcPort: 1234, DstPort: 53} }

func packet(data []byte, lt layers.LinkType) core.RawPacket {
	return core.RawPacket{Data: data, CaptureLen: uint32(len(data)), OrigLen: uint32(len(data)), LinkType: uint8(lt)}
}

func TestTCPOnlyEthernet(t *testing.T) {
	prog, err := TCPOnly(layers.LinkTypeEthernet)
	require.NoError(t, err)
	f, err := NewBPF(prog)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"ipv4 tcp", frame(t, eth(layers.EthernetTypeIPv4), ip4(layers.IPProtocolTCP), tcp()), true},
		{"ipv6 tcp", frame(t, eth(layers.EthernetTypeIPv6), ip6(layers.IPProtocolTCP), tcp()), true},
		{"vlan ipv4 tcp", frame(t, eth(layers.EthernetTypeDot1Q),
			&layers.Dot1Q{VLANIdentifier: 100, Type: layers.EthernetTypeIPv4}, ip4(layers.IPProtocolTCP), tcp()), true},
		{"qinq ipv4 tcp", frame(t, eth(layers.EthernetTypeQinQ),
			&layers.Dot1Q{VLANIdentifier: 20, Type: layers.EthernetTypeDot1Q},
			&layers.Dot1Q{VLANIdentifier: 10, Type: layers.EthernetTypeIPv4}, ip4(layers.IPProtocolTCP), tcp()), true},
		{"double 802.1q ipv6 tcp", frame(t, eth(layers.EthernetTypeDot1Q),
			&layers.Dot1Q{VLANIdentifier: 20, Type: layers.EthernetTypeDot1Q},
			&layers.Dot1Q{VLANIdentifier: 10, Type: layers.EthernetTypeIPv6}, ip6(layers.IPProtocolTCP), tcp()), true},
		{"qinq ipv4 udp", frame(t, eth(layers.EthernetTypeQinQ),
			&layers.Dot1Q{VLANIdentifier: 20, Type: layers.EthernetTypeDot1Q},
			&layers.Dot1Q{VLANIdentifier: 10, Type: layers.EthernetTypeIPv4}, ip4(layers.IPProtocolUDP), udp()), false},
		{"ipv4 udp", frame(t, eth(layers.EthernetTypeIPv4), ip4(layers.IPProtocolUDP), udp()), false},
		{"ipv6 udp", frame(t, eth(layers.EthernetTypeIPv6), ip6(layers.IPProtocolUDP), udp()), false},
		{"arp", frame(t, eth(layers.EthernetTypeARP), gopacket.Payload(make([]byte, 28))), false},
		{"truncated", []byte{0x00, 0x11, 0x22}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Accept(packet(tt.data, layers.LinkTypeEthernet)))
		})
	}
}

func TestTCPOnlyRawIP(t *testing.T) {
	prog, err := TCPOnly(layers.LinkTypeRaw)
	require.NoError(t, err)
	f, err := NewBPF(prog)
	require.NoError(t, err)

	assert.True(t, f.Accept(packet(frame(t, ip4(layers.IPProtocolTCP), tcp()), layers.LinkTypeRaw)))
	assert.True(t, f.Accept(packet(frame(t, ip6(layers.IPProtocolTCP), tcp()), layers.LinkTypeRaw)))
	assert.False(t, f.Accept(packet(frame(t, ip4(layers.IPProtocolUDP), udp()), layers.LinkTypeRaw)))

	// IPv6 with a hop-by-hop header is not TCP at byte 6
	hbh := frame(t, ip6(layers.IPProtocolTCP), tcp())
	hbh[6] = 0
	assert.False(t, f.Accept(packet(hbh, layers.LinkTypeRaw)))
}

func TestTCPOnlyUnsupportedLinkType(t *testing.T) {
	_, err := TCPOnly(layers.LinkTypeIEEE802_11)
	assert.ErrorIs(t, err, core.ErrUnsupportedLinkType)
}

func TestNewBPFInvalidProgram(t *testing.T) {
	_, err := NewBPF([]bpf.Instruction{bpf.Jump{Skip: 10}})
	assert.Error(t, err)
}

func TestParseRaw(t *testing.T) {
	// tcpdump -ddd "ip"
	const prog = `4
40 0 0 12
21 0 1 2048
6 0 0 262144
6 0 0 0
`
	raw, err := ParseRaw(prog)
	require.NoError(t, err)
	require.Len(t, raw, 4)
	assert.Equal(t, bpf.RawInstruction{Op: 40, Jt: 0, Jf: 0, K: 12}, raw[0])

	f, err := NewRawBPF(raw)
	require.NoError(t, err)
	assert.True(t, f.Accept(packet(frame(t, eth(layers.EthernetTypeIPv4), ip4(layers.IPProtocolUDP), udp()), layers.LinkTypeEthernet)))
	assert.False(t, f.Accept(packet(frame(t, eth(layers.EthernetTypeIPv6), ip6(layers.IPProtocolTCP), tcp()), layers.LinkTypeEthernet)))
}

func TestParseRawErrors(t *testing.T) {
	tests := map[string]string{
		"missing count":  "40 0 0 12\n",
		"short line":     "1\n40 0 0\n",
		"count mismatch": "2\n6 0 0 0\n",
		"jt overflow":    "1\n21 300 0 0\n",
		"not a number":   "x\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRaw(in)
			assert.Error(t, err)
		})
	}
}

func TestChain(t *testing.T) {
	accept := Func(func(core.RawPacket) bool { return true })
	reject := Func(func(core.RawPacket) bool { return false })
	raw := packet(make([]byte, 60), layers.LinkTypeEthernet)

	assert.True(t, Chain{}.Accept(raw))
	assert.True(t, Chain{accept, MinLength(60)}.Accept(raw))
	assert.False(t, Chain{accept, reject}.Accept(raw))
	assert.False(t, Chain{MinLength(61)}.Accept(raw))
}

func BenchmarkTCPOnly(b *testing.B) {
	prog, _ := TCPOnly(layers.LinkTypeEthernet)
	f, _ := NewBPF(prog)
	buf := gopacket.NewSerializeBuffer()
	_ = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		eth(layers.EthernetTypeIPv4), ip4(layers.IPProtocolTCP), tcp())
	raw := packet(buf.Bytes(), layers.LinkTypeEthernet)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Accept(raw)
	}
}
