// Package sink defines where located segments and run summaries go.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/tcpseg/internal/core/segment"
)

// Output formats shared by sinks and summaries.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Record is one located segment. Segment aliases the capture buffer and is
// only valid during Emit.
type Record struct {
	Index     uint64
	Timestamp time.Time
	Segment   *segment.Segment
}

// Sink receives located segments.
type Sink interface {
	Name() string
	Emit(ctx context.Context, rec Record) error
	Flush(ctx context.Context) error
}

// SegmentView is the serialisable form of a Record.
type SegmentView struct {
	Index         uint64    `json:"index" yaml:"index"`
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	Version       string    `json:"version" yaml:"version"`
	PacketOffset  int       `json:"packet_offset" yaml:"packet_offset"`
	SegmentOffset int       `json:"segment_offset" yaml:"segment_offset"`
	SrcPort       uint16    `json:"src_port" yaml:"src_port"`
	DstPort       uint16    `json:"dst_port" yaml:"dst_port"`
	Seq           uint32    `json:"seq" yaml:"seq"`
	Ack           uint32    `json:"ack" yaml:"ack"`
	HeaderLen     int       `json:"header_len" yaml:"header_len"`
	Flags         string    `json:"flags" yaml:"flags"`
}

// ViewOf copies the header fields out of rec.
func ViewOf(rec Record) SegmentView {
	s := rec.Segment
	return SegmentView{
		Index:         rec.Index,
		Timestamp:     rec.Timestamp,
		Version:       s.IPVersion().String(),
		PacketOffset:  s.PacketOffset(),
		SegmentOffset: s.SegmentOffset(),
		SrcPort:       s.SrcPort(),
		DstPort:       s.DstPort(),
		Seq:           s.Seq(),
		Ack:           s.Ack(),
		HeaderLen:     s.HeaderLen(),
		Flags:         segment.FlagNames(s.Flags()),
	}
}

// Summary reports the outcome of one pipeline run.
type Summary struct {
	RunID        string            `json:"run_id" yaml:"run_id"`
	Source       string            `json:"source" yaml:"source"`
	LinkType     string            `json:"link_type" yaml:"link_type"`
	Elapsed      string            `json:"elapsed" yaml:"elapsed"`
	Received     uint64            `json:"received" yaml:"received"`
	Filtered     uint64            `json:"filtered" yaml:"filtered"`
	Decoded      uint64            `json:"decoded" yaml:"decoded"`
	DecodeErrors uint64            `json:"decode_errors" yaml:"decode_errors"`
	Located      uint64            `json:"located" yaml:"located"`
	LocateErrors uint64            `json:"locate_errors" yaml:"locate_errors"`
	EmitErrors   uint64            `json:"emit_errors" yaml:"emit_errors"`
	Rejections   map[string]uint64 `json:"rejections,omitempty" yaml:"rejections,omitempty"`
}

// Render writes the summary in the given format.
func (s Summary) Render(w io.Writer, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	case FormatText:
		return s.renderText(w)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func (s Summary) renderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "source\t%s (%s)\n", s.Source, s.LinkType)
	fmt.Fprintf(tw, "elapsed\t%s\n", s.Elapsed)
	fmt.Fprintf(tw, "received\t%d\n", s.Received)
	fmt.Fprintf(tw, "filtered\t%d\n", s.Filtered)
	fmt.Fprintf(tw, "decoded\t%d\n", s.Decoded)
	fmt.Fprintf(tw, "decode errors\t%d\n", s.DecodeErrors)
	fmt.Fprintf(tw, "located\t%d\n", s.Located)
	fmt.Fprintf(tw, "locate errors\t%d\n", s.LocateErrors)
	if s.EmitErrors > 0 {
		fmt.Fprintf(tw, "emit errors\t%d\n", s.EmitErrors)
	}

	reasons := make([]string, 0, len(s.Rejections))
	for r := range s.Rejections {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(tw, "  rejected %s\t%d\n", r, s.Rejections[r])
	}
	return tw.Flush()
}
