package decoder

import (
	"errors"
	"testing"

	"firestige.xyz/tcpseg/internal/core"
)

func mustView(t testing.TB, data []byte) core.BufferView {
	t.Helper()
	buf, err := core.NewBufferView(data, 0)
	if err != nil {
		t.Fatalf("NewBufferView failed: %v", err)
	}
	return buf
}

func ipv4Header(ihl int, proto uint8) []byte {
	hdr := make([]byte, ihl*4)
	hdr[0] = 0x40 | byte(ihl) // Version 4, IHL
	hdr[2], hdr[3] = 0x00, byte(len(hdr)+20)
	hdr[8] = 64    // TTL
	hdr[9] = proto // Protocol
	copy(hdr[12:16], []byte{192, 168, 1, 1})
	copy(hdr[16:20], []byte{192, 168, 1, 2})
	return hdr
}

func ipv6Header(nextHeader uint8) []byte {
	hdr := make([]byte, 40)
	hdr[0] = 0x60 // Version 6
	hdr[6] = nextHeader
	hdr[7] = 64 // Hop Limit
	// Src and Dst 2001::
	hdr[8], hdr[9] = 0x20, 0x01
	hdr[24], hdr[25] = 0x20, 0x01
	return hdr
}

func TestDecodeIPv4Basic(t *testing.T) {
	data := append(ipv4Header(5, core.ProtocolTCP), make([]byte, 20)...)

	env, err := decodeIPv4(mustView(t, data), 0)
	if err != nil {
		t.Fatalf("decodeIPv4 failed: %v", err)
	}

	if env.Version() != core.IPv4 {
		t.Errorf("Expected version ipv4, got %s", env.Version())
	}
	if env.PacketOffset() != 0 {
		t.Errorf("Expected packet offset 0, got %d", env.PacketOffset())
	}
	if env.PayloadOffset() != 20 {
		t.Errorf("Expected payload offset 20, got %d", env.PayloadOffset())
	}
	if protocolOf(env) != core.ProtocolTCP {
		t.Errorf("Expected protocol 6, got %d", protocolOf(env))
	}
}

func TestDecodeIPv4WithOptions(t *testing.T) {
	// IHL 6 carries one word of options, the payload moves to byte 24
	prefix := make([]byte, 14)
	data := append(prefix, ipv4Header(6, core.ProtocolTCP)...)
	data = append(data, make([]byte, 20)...)

	env, err := decodeIPv4(mustView(t, data), 14)
	if err != nil {
		t.Fatalf("decodeIPv4 failed: %v", err)
	}

	if env.PacketOffset() != 14 {
		t.Errorf("Expected packet offset 14, got %d", env.PacketOffset())
	}
	if env.PayloadOffset() != 38 {
		t.Errorf("Expected payload offset 38, got %d", env.PayloadOffset())
	}
	if env.Buffer().Base() != 14 {
		t.Errorf("Expected buffer base 14, got %d", env.Buffer().Base())
	}
}

func TestDecodeIPv4BadIHL(t *testing.T) {
	tests := map[string][]byte{
		"ihl below minimum":  func() []byte { h := ipv4Header(5, core.ProtocolTCP); h[0] = 0x44; return h }(),
		"ihl beyond capture": func() []byte { h := ipv4Header(5, core.ProtocolTCP); h[0] = 0x4F; return h }(),
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeIPv4(mustView(t, data), 0)
			if !errors.Is(err, core.ErrPacketTooShort) {
				t.Errorf("Expected ErrPacketTooShort, got %v", err)
			}
		})
	}
}

func TestDecodeIPv4NonInitialFragment(t *testing.T) {
	data := ipv4Header(5, core.ProtocolTCP)
	data[6], data[7] = 0x00, 0xB9 // Fragment offset 185

	_, err := decodeIPv4(mustView(t, data), 0)
	if !errors.Is(err, core.ErrNonInitialFragment) {
		t.Errorf("Expected ErrNonInitialFragment, got %v", err)
	}
}

func TestDecodeIPv4FirstFragment(t *testing.T) {
	// MF set with offset 0 still carries the TCP header
	data := append(ipv4Header(5, core.ProtocolTCP), make([]byte, 20)...)
	data[6] = 0x20

	if _, err := decodeIPv4(mustView(t, data), 0); err != nil {
		t.Errorf("Expected first fragment to decode, got %v", err)
	}
}

func TestDecodeIPv6Basic(t *testing.T) {
	data := append(ipv6Header(core.ProtocolTCP), make([]byte, 20)...)

	env, err := decodeIPv6(mustView(t, data), 0)
	if err != nil {
		t.Fatalf("decodeIPv6 failed: %v", err)
	}

	if env.Version() != core.IPv6 {
		t.Errorf("Expected version ipv6, got %s", env.Version())
	}
	if env.PayloadOffset() != 40 {
		t.Errorf("Expected payload offset 40, got %d", env.PayloadOffset())
	}
	if protocolOf(env) != core.ProtocolTCP {
		t.Errorf("Expected next header 6, got %d", protocolOf(env))
	}
}

func TestDecodeIPTooShort(t *testing.T) {
	tests := map[string]struct {
		data   []byte
		offset int
	}{
		"ipv4":           {data: ipv4Header(5, core.ProtocolTCP)[:10]},
		"ipv6":           {data: ipv6Header(core.ProtocolTCP)[:30]},
		"offset at end":  {data: make([]byte, 14), offset: 14},
		"negative start": {data: make([]byte, 14), offset: -1},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeIP(mustView(t, tt.data), tt.offset)
			if !errors.Is(err, core.ErrPacketTooShort) {
				t.Errorf("Expected ErrPacketTooShort, got %v", err)
			}
		})
	}
}

func TestDecodeIPUnsupportedVersion(t *testing.T) {
	data := make([]byte, 40)
	data[0] = 0x55 // Version 5

	_, err := decodeIP(mustView(t, data), 0)
	if !errors.Is(err, core.ErrUnsupportedIPVersion) {
		t.Errorf("Expected ErrUnsupportedIPVersion, got %v", err)
	}
}

func TestIsIPFragmentTrue(t *testing.T) {
	data := ipv4Header(5, core.ProtocolUDP)
	data[6] = 0x20 // MF flag set

	if !isIPFragment(data, 4) {
		t.Error("Expected packet to be a fragment")
	}
}

func TestIsIPFragmentFalse(t *testing.T) {
	data := ipv4Header(5, core.ProtocolUDP)
	data[6] = 0x40 // DF flag only

	if isIPFragment(data, 4) {
		t.Error("Expected packet not to be a fragment")
	}
	if isIPFragment(ipv6Header(core.ProtocolTCP), 6) {
		t.Error("Expected IPv6 header not to be reported as fragment")
	}
}

func BenchmarkDecodeIPv4(b *testing.B) {
	buf := mustView(b, append(ipv4Header(5, core.ProtocolTCP), make([]byte, 20)...))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := decodeIPv4(buf, 0); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeIPv6(b *testing.B) {
	buf := mustView(b, append(ipv6Header(core.ProtocolTCP), make([]byte, 20)...))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := decodeIPv6(buf, 0); err != nil {
			b.Fatal(err)
		}
	}
}
