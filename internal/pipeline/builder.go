package pipeline

import (
	"github.com/sirupsen/logrus"

	"firestige.xyz/tcpseg/internal/core/decoder"
	"firestige.xyz/tcpseg/internal/filter"
	"firestige.xyz/tcpseg/internal/sink"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config  Config
	filters filter.Chain
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize: defaultBufferSize,
		},
	}
}

// WithRunID sets the run ID instead of generating one.
func (b *Builder) WithRunID(id string) *Builder {
	b.config.RunID = id
	return b
}

// WithCapturer sets the packet capturer.
func (b *Builder) WithCapturer(c Capturer) *Builder {
	b.config.Capturer = c
	return b
}

// WithFilter appends a filter; all added filters must accept a packet.
func (b *Builder) WithFilter(f filter.Filter) *Builder {
	b.filters = append(b.filters, f)
	return b
}

// WithDecoder sets the envelope decoder.
func (b *Builder) WithDecoder(d decoder.Decoder) *Builder {
	b.config.Decoder = d
	return b
}

// WithSinks sets the sinks.
func (b *Builder) WithSinks(sinks ...sink.Sink) *Builder {
	b.config.Sinks = sinks
	return b
}

// WithBufferSize sets the raw packet channel buffer size.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// WithLogger sets the logger the run's fields are attached to.
func (b *Builder) WithLogger(l *logrus.Entry) *Builder {
	b.config.Logger = l
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	if len(b.filters) > 0 {
		b.config.Filter = b.filters
	}
	return New(b.config)
}
