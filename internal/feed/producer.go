package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/feednode/internal/clock"
	"github.com/smazurov/feednode/internal/media"
	"github.com/smazurov/feednode/internal/negotiate"
	"github.com/smazurov/feednode/internal/synth"
)

// Pusher accepts produced buffers. Push must not block on slow consumers.
type Pusher interface {
	Push(buf *media.Buffer) error
}

// ProducerHooks are optional observers invoked on the loop goroutine.
type ProducerHooks struct {
	OnFormat func(seq uint64, old, updated *media.Format)
	OnBuffer func(buf *media.Buffer)
}

// Producer turns one tick into one buffer: resolve the format, synthesize,
// stamp, push.
type Producer struct {
	gen        *synth.Generator
	negotiator *negotiate.Negotiator
	stamper    *clock.Timestamper
	out        Pusher
	hooks      ProducerHooks

	current    *media.Format
	next       uint64
	maxBuffers uint64
}

// NewProducer wires a producer. The negotiator's current descriptor must be
// acceptable to gen; later descriptors are checked through the
// negotiator's accept hook. maxBuffers of zero means unbounded.
func NewProducer(gen *synth.Generator, n *negotiate.Negotiator, out Pusher, maxBuffers uint64, hooks ProducerHooks) (*Producer, error) {
	initial := n.Current()
	if err := gen.Accept(initial); err != nil {
		return nil, fmt.Errorf("initial format: %w", err)
	}
	stamper, err := clock.ForFormat(initial)
	if err != nil {
		return nil, err
	}
	n.SetAccept(gen.Accept)

	return &Producer{
		gen:        gen,
		negotiator: n,
		stamper:    stamper,
		out:        out,
		hooks:      hooks,
		current:    initial,
		maxBuffers: maxBuffers,
	}, nil
}

// Produce creates and pushes the next buffer. A rejected push still
// consumes the sequence number; the buffer is not resent.
func (p *Producer) Produce() error {
	if p.maxBuffers > 0 && p.next >= p.maxBuffers {
		return ErrExhausted
	}
	seq := p.next

	f, changed, err := p.negotiator.MaybeApply(seq)
	if err != nil {
		if errors.Is(err, synth.ErrPlaneMismatch) {
			return &ContractError{Component: "synth", Invariant: "fill table matches plane count", Err: err}
		}
		return &ContractError{Component: "negotiate", Invariant: "format applied between buffers", Err: err}
	}
	if changed {
		if err := p.stamper.SetRate(f.UnitRate()); err != nil {
			return &ContractError{Component: "clock", Invariant: "positive unit rate", Err: err}
		}
		old := p.current
		p.current = f
		if p.hooks.OnFormat != nil {
			p.hooks.OnFormat(seq, old, f)
		}
	}

	data, units, err := p.gen.Next(f)
	if err != nil {
		return &ContractError{Component: "synth", Invariant: "format synthesizable", Err: err}
	}

	buf := &media.Buffer{Seq: seq, Data: data, Format: f}
	p.stamper.Stamp(buf, units)
	p.next++

	if err := p.out.Push(buf); err != nil {
		return &PushError{Seq: seq, Err: err}
	}
	if p.hooks.OnBuffer != nil {
		p.hooks.OnBuffer(buf)
	}
	return nil
}

// The accessors below are for the loop goroutine only.

// Next returns the sequence number of the next buffer.
func (p *Producer) Next() uint64 { return p.next }

// Current returns the descriptor of the most recently produced buffer.
func (p *Producer) Current() *media.Format { return p.current }

// NextPTS returns the timestamp the next buffer will carry.
func (p *Producer) NextPTS() time.Duration { return p.stamper.Next() }
