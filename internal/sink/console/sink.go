// Package console prints located segments to a writer.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"firestige.xyz/tcpseg/internal/sink"
)

const Name = "console"

var _ sink.Sink = (*Sink)(nil)

// Sink writes one line (text, JSON) or one document (YAML) per segment.
type Sink struct {
	w      io.Writer
	format string
	json   *json.Encoder
	yaml   *yaml.Encoder
}

func NewSink(w io.Writer, format string) (*Sink, error) {
	s := &Sink{w: w, format: format}
	switch format {
	case sink.FormatText:
	case sink.FormatJSON:
		s.json = json.NewEncoder(w)
	case sink.FormatYAML:
		s.yaml = yaml.NewEncoder(w)
		s.yaml.SetIndent(2)
	default:
		return nil, fmt.Errorf("unsupported console format: %s", format)
	}
	return s, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Emit(_ context.Context, rec sink.Record) error {
	v := sink.ViewOf(rec)
	switch {
	case s.json != nil:
		return s.json.Encode(v)
	case s.yaml != nil:
		return s.yaml.Encode(v)
	default:
		_, err := fmt.Fprintf(s.w, "#%d %s %s ip@%d tcp@%d %d -> %d seq=%d ack=%d hlen=%d [%s]\n",
			v.Index, v.Timestamp.Format(time.RFC3339Nano), v.Version, v.PacketOffset, v.SegmentOffset,
			v.SrcPort, v.DstPort, v.Seq, v.Ack, v.HeaderLen, v.Flags)
		return err
	}
}

// Flush terminates the YAML stream; other formats are unbuffered.
func (s *Sink) Flush(context.Context) error {
	if s.yaml != nil {
		return s.yaml.Close()
	}
	return nil
}
