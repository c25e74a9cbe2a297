package decoder

import (
	"encoding/binary"

	"firestige.xyz/tcpseg/internal/core"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4

	// EtherType values
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8
)

// decodeEthernet decodes Ethernet frame header (including VLAN tags).
// Returns EthernetHeader and the offset of the L3 header.
func decodeEthernet(data []byte) (core.EthernetHeader, int, error) {
	if len(data) < ethernetHeaderLen {
		return core.EthernetHeader{}, 0, core.ErrPacketTooShort
	}

	eth := core.EthernetHeader{}

	// Destination MAC (6 bytes)
	copy(eth.DstMAC[:], data[0:6])

	// Source MAC (6 bytes)
	copy(eth.SrcMAC[:], data[6:12])

	// EtherType (2 bytes)
	etherType := binary.BigEndian.Uint16(data[12:14])
	offset := ethernetHeaderLen

	// Handle VLAN tags (can be nested: QinQ)
	var vlans []uint16
	for etherType == etherTypeVLAN || etherType == etherTypeQinQ {
		if len(data) < offset+vlanHeaderLen {
			return eth, 0, core.ErrPacketTooShort
		}

		// VLAN header: 2 bytes TCI + 2 bytes EtherType
		tci := binary.BigEndian.Uint16(data[offset : offset+2])
		vlans = append(vlans, tci&0x0FFF)

		etherType = binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += vlanHeaderLen
	}

	eth.EtherType = etherType
	eth.VLANs = vlans

	if etherType != etherTypeIPv4 && etherType != etherTypeIPv6 {
		// ARP, LLDP, ...
		return eth, offset, core.ErrNonIPFrame
	}

	return eth, offset, nil
}
