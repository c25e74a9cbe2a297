// Package pipeline drives captured packets through filtering, envelope
// decoding and segment location to the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"firestige.xyz/tcpseg/internal/core"
	"firestige.xyz/tcpseg/internal/core/decoder"
	"firestige.xyz/tcpseg/internal/core/segment"
	"firestige.xyz/tcpseg/internal/filter"
	"firestige.xyz/tcpseg/internal/metrics"
	"firestige.xyz/tcpseg/internal/sink"
)

const defaultBufferSize = 1024

// Capturer feeds raw packets into the pipeline until it runs out or ctx is
// done. Returning nil means the source is exhausted.
type Capturer interface {
	Capture(ctx context.Context, out chan<- core.RawPacket) error
}

// Pipeline runs one capture through a single processing goroutine.
type Pipeline struct {
	runID    string
	capturer Capturer
	filter   filter.Filter
	decoder  decoder.Decoder
	sinks    []sink.Sink
	metrics  *Metrics
	log      *logrus.Entry

	// Runtime state
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    time.Time
	captureErr error
	finishOnce sync.Once
	finishErr  error

	// Channel for backpressure control
	rawPacketChan chan core.RawPacket
}

// Config contains pipeline configuration.
type Config struct {
	RunID      string // generated when empty
	Capturer   Capturer
	Filter     filter.Filter // nil accepts every packet
	Decoder    decoder.Decoder
	Sinks      []sink.Sink
	BufferSize int // Raw packet channel buffer size
	Logger     *logrus.Entry
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Pipeline{
		runID:         cfg.RunID,
		capturer:      cfg.Capturer,
		filter:        cfg.Filter,
		decoder:       cfg.Decoder,
		sinks:         cfg.Sinks,
		metrics:       NewMetrics(cfg.RunID),
		log:           cfg.Logger.WithField("run_id", cfg.RunID),
		rawPacketChan: make(chan core.RawPacket, cfg.BufferSize),
	}
}

// RunID identifies this run in logs and summaries.
func (p *Pipeline) RunID() string { return p.runID }

// Start starts the capture and processing goroutines.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.capturer == nil || p.decoder == nil {
		return fmt.Errorf("%w: pipeline needs a capturer and a decoder", core.ErrConfigInvalid)
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = time.Now()

	p.log.Info("pipeline starting")
	metrics.RunsActive.Inc()

	p.wg.Add(2)
	go p.captureLoop()
	go p.processLoop()
	return nil
}

// Wait blocks until the capturer is exhausted and every queued packet has
// been processed, then flushes the sinks. Later calls return the same result.
// Waiting on a pipeline that was never started returns nil.
func (p *Pipeline) Wait() error {
	if p.cancel == nil {
		return nil
	}
	p.wg.Wait()
	p.finishOnce.Do(p.finish)
	return p.finishErr
}

func (p *Pipeline) finish() {
	p.cancel()
	metrics.RunsActive.Dec()

	var errs []error
	if p.captureErr != nil {
		errs = append(errs, p.captureErr)
	}
	for _, s := range p.sinks {
		if err := s.Flush(context.Background()); err != nil {
			p.log.WithError(err).WithField("sink", s.Name()).Error("sink flush failed")
			errs = append(errs, fmt.Errorf("flush %s: %w", s.Name(), err))
		}
	}

	p.log.WithFields(logrus.Fields{
		"received": p.metrics.Received.Load(),
		"located":  p.metrics.Located.Load(),
		"elapsed":  time.Since(p.started).String(),
	}).Info("pipeline stopped")
	p.finishErr = errors.Join(errs...)
}

// Stop cancels the run without draining the queue and waits for it to end.
func (p *Pipeline) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.log.Info("pipeline stopping")
	p.cancel()
	return p.Wait()
}

// Run starts the pipeline and waits for it to finish or for ctx to be done.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	return p.Wait()
}

// captureLoop reads packets from capturer and sends to processing channel.
func (p *Pipeline) captureLoop() {
	defer p.wg.Done()

	if err := p.capturer.Capture(p.ctx, p.rawPacketChan); err != nil && p.ctx.Err() == nil {
		// Context not cancelled, this is a real error
		p.log.WithError(err).Error("capture failed")
		p.captureErr = fmt.Errorf("capture: %w", err)
	}

	// Close channel when capture ends
	close(p.rawPacketChan)
}

// processLoop is the main processing loop.
func (p *Pipeline) processLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case raw, ok := <-p.rawPacketChan:
			if !ok {
				// Channel closed, capturer finished
				return
			}
			p.processPacket(raw)
		}
	}
}

// processPacket runs one packet through filter, decoder, locator and sinks.
// Rejections are counted and logged at debug level; they never stop the run.
func (p *Pipeline) processPacket(raw core.RawPacket) {
	index := p.metrics.Received.Add(1)
	metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageReceived).Inc()

	if p.filter != nil && !p.filter.Accept(raw) {
		p.metrics.Filtered.Add(1)
		metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageFiltered).Inc()
		return
	}

	start := time.Now()
	env, err := p.decoder.Decode(raw)
	if err != nil {
		p.metrics.DecodeErrors.Add(1)
		p.reject("decode", index, err)
		return
	}
	p.metrics.Decoded.Add(1)
	metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageDecoded).Inc()

	seg, err := segment.FromEnvelope(env)
	metrics.LocateLatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.LocateErrors.Add(1)
		p.reject("locate", index, err)
		return
	}
	p.metrics.Located.Add(1)
	metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageLocated).Inc()

	rec := sink.Record{Index: index, Timestamp: raw.Timestamp, Segment: seg}
	accepted := 0
	for _, s := range p.sinks {
		if err := s.Emit(p.ctx, rec); err != nil {
			p.metrics.EmitErrors.Add(1)
			p.log.WithError(err).WithField("sink", s.Name()).Error("sink emit failed")
			continue
		}
		accepted++
	}
	// emitted means at least one sink took the segment
	if accepted > 0 {
		p.metrics.Emitted.Add(1)
		metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageEmitted).Inc()
	}
}

func (p *Pipeline) reject(stage string, index uint64, err error) {
	reason := core.Reason(err)
	p.metrics.Reject(reason)
	metrics.RejectionsTotal.WithLabelValues(stage, reason).Inc()
	p.log.WithFields(logrus.Fields{
		"stage":  stage,
		"reason": reason,
		"packet": index,
	}).WithError(err).Debug("packet rejected")
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:     p.metrics.Received.Load(),
		Filtered:     p.metrics.Filtered.Load(),
		Decoded:      p.metrics.Decoded.Load(),
		DecodeErrors: p.metrics.DecodeErrors.Load(),
		Located:      p.metrics.Located.Load(),
		LocateErrors: p.metrics.LocateErrors.Load(),
		Emitted:      p.metrics.Emitted.Load(),
		EmitErrors:   p.metrics.EmitErrors.Load(),
		Rejections:   p.metrics.Rejections(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received     uint64
	Filtered     uint64
	Decoded      uint64
	DecodeErrors uint64
	Located      uint64
	LocateErrors uint64
	Emitted      uint64
	EmitErrors   uint64
	Rejections   map[string]uint64
}

// Summary renders the run's statistics for output.
func (p *Pipeline) Summary(source, linkType string) sink.Summary {
	st := p.Stats()
	elapsed := time.Duration(0)
	if !p.started.IsZero() {
		elapsed = time.Since(p.started).Round(time.Microsecond)
	}
	return sink.Summary{
		RunID:        p.runID,
		Source:       source,
		LinkType:     linkType,
		Elapsed:      elapsed.String(),
		Received:     st.Received,
		Filtered:     st.Filtered,
		Decoded:      st.Decoded,
		DecodeErrors: st.DecodeErrors,
		Located:      st.Located,
		LocateErrors: st.LocateErrors,
		EmitErrors:   st.EmitErrors,
		Rejections:   st.Rejections,
	}
}
