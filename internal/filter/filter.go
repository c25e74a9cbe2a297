// Package filter decides which captured frames reach the decoder.
package filter

import "firestige.xyz/tcpseg/internal/core"

// Filter accepts or drops a raw frame before decoding.
type Filter interface {
	Accept(raw core.RawPacket) bool
}

// Func adapts an ordinary function to Filter.
type Func func(raw core.RawPacket) bool

func (f Func) Accept(raw core.RawPacket) bool { return f(raw) }

// Chain accepts a frame only when every filter in it does. An empty chain
// accepts everything.
type Chain []Filter

func (c Chain) Accept(raw core.RawPacket) bool {
	for _, f := range c {
		if !f.Accept(raw) {
			return false
		}
	}
	return true
}

// MinLength drops frames shorter than n captured bytes.
func MinLength(n int) Filter {
	return Func(func(raw core.RawPacket) bool { return len(raw.Data) >= n })
}
