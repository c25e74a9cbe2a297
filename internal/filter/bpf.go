package filter

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"

	"firestige.xyz/tcpseg/internal/core"
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8

	// accepted frames keep their whole capture
	keepAll = 0x40000
)

// BPF runs a classic BPF program in the x/net/bpf virtual machine.
type BPF struct {
	vm *bpf.VM
}

// NewBPF validates and loads a program.
func NewBPF(prog []bpf.Instruction) (*BPF, error) {
	vm, err := bpf.NewVM(prog)
	if err != nil {
		return nil, fmt.Errorf("failed to load BPF program: %w", err)
	}
	return &BPF{vm: vm}, nil
}

// NewRawBPF loads a program given as raw opcodes, e.g. the output of
// `tcpdump -ddd`.
func NewRawBPF(raw []bpf.RawInstruction) (*BPF, error) {
	prog, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("failed to disassemble BPF program: unknown opcode")
	}
	return NewBPF(prog)
}

// Accept reports whether the program returned a non-zero snap length.
func (f *BPF) Accept(raw core.RawPacket) bool {
	n, err := f.vm.Run(raw.Data)
	return err == nil && n > 0
}

// ParseRaw parses the decimal `tcpdump -ddd` format: an instruction count
// followed by one "code jt jf k" line per instruction.
func ParseRaw(s string) ([]bpf.RawInstruction, error) {
	sc := bufio.NewScanner(strings.NewReader(s))
	var (
		count = -1
		out   []bpf.RawInstruction
	)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if count < 0 {
			if len(fields) != 1 {
				return nil, fmt.Errorf("bpf: expected instruction count, got %q", line)
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("bpf: invalid instruction count %q", fields[0])
			}
			count = n
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("bpf: expected 4 fields, got %q", line)
		}
		var v [4]uint64
		for i, f := range fields {
			bits := 8
			switch i {
			case 0:
				bits = 16
			case 3:
				bits = 32
			}
			n, err := strconv.ParseUint(f, 10, bits)
			if err != nil {
				return nil, fmt.Errorf("bpf: field %d of %q: %w", i, line, err)
			}
			v[i] = n
		}
		out = append(out, bpf.RawInstruction{Op: uint16(v[0]), Jt: uint8(v[1]), Jf: uint8(v[2]), K: uint32(v[3])})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if count != len(out) {
		return nil, fmt.Errorf("bpf: header announces %d instructions, found %d", count, len(out))
	}
	return out, nil
}

// TCPOnly returns a program accepting IPv4 or IPv6 frames whose protocol
// byte is TCP. On Ethernet up to two 802.1Q / 802.1ad tags are stepped over.
func TCPOnly(linkType layers.LinkType) ([]bpf.Instruction, error) {
	switch linkType {
	case layers.LinkTypeEthernet:
		return tcpByEtherType(12, 14), nil
	case layers.LinkTypeLinuxSLL:
		return tcpByEtherType(14, 16), nil
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		return tcpByVersion(0), nil
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		return tcpByVersion(4), nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedLinkType, linkType)
	}
}

// tcpByEtherType dispatches on the EtherType at typeOff; X holds the shift
// added by VLAN tags.
func tcpByEtherType(typeOff, l3 uint32) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadConstant{Dst: bpf.RegX, Val: 0},
		bpf.LoadAbsolute{Off: typeOff, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeVLAN, SkipTrue: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeQinQ, SkipFalse: 6},
		// first tag
		bpf.LoadConstant{Dst: bpf.RegX, Val: 4},
		bpf.LoadIndirect{Off: typeOff, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeVLAN, SkipTrue: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeQinQ, SkipFalse: 2},
		// second tag
		bpf.LoadConstant{Dst: bpf.RegX, Val: 8},
		bpf.LoadIndirect{Off: typeOff, Size: 2},
		// A holds the innermost EtherType
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipFalse: 2},
		bpf.LoadIndirect{Off: l3 + 9, Size: 1},
		bpf.Jump{Skip: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv6, SkipFalse: 3},
		bpf.LoadIndirect{Off: l3 + 6, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(core.ProtocolTCP), SkipFalse: 1},
		bpf.RetConstant{Val: keepAll},
		bpf.RetConstant{Val: 0},
	}
}

// tcpByVersion dispatches on the version nibble of the header at l3.
func tcpByVersion(l3 uint32) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: l3, Size: 1},
		bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: 0xF0},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x40, SkipFalse: 2},
		bpf.LoadAbsolute{Off: l3 + 9, Size: 1},
		bpf.Jump{Skip: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x60, SkipFalse: 3},
		bpf.LoadAbsolute{Off: l3 + 6, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(core.ProtocolTCP), SkipFalse: 1},
		bpf.RetConstant{Val: keepAll},
		bpf.RetConstant{Val: 0},
	}
}
