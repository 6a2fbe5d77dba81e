package graph

import (
	"fmt"
	"sync"

	"github.com/smazurov/feednode/internal/fanout"
	"github.com/smazurov/feednode/internal/media"
)

// pad is a requested tee output.
type pad struct {
	id   string
	name string
	sink fanout.BranchSink
}

func (p *pad) BranchID() string { return p.id }

// Tee replicates every buffer to all requested branches.
// With no branches linked, buffers are discarded.
type Tee struct {
	name string
	bus  *Bus

	mu     sync.RWMutex
	pads   []*pad
	serial int
	eos    bool
}

// NewTee creates a tee element posting errors to bus.
func NewTee(name string, bus *Bus) *Tee {
	return &Tee{name: name, bus: bus}
}

// RequestBranch implements fanout.Junction.
func (t *Tee) RequestBranch(id string, sink fanout.BranchSink) (fanout.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.pads {
		if p.id == id {
			return nil, &Error{Element: t.name, Code: CodeDuplicate, Message: fmt.Sprintf("branch %q already linked", id)}
		}
	}
	p := &pad{id: id, name: fmt.Sprintf("src_%d", t.serial), sink: sink}
	t.serial++
	t.pads = append(t.pads, p)
	return p, nil
}

// ReleaseBranch implements fanout.Junction.
func (t *Tee) ReleaseBranch(h fanout.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, p := range t.pads {
		if fanout.Handle(p) == h {
			t.pads = append(t.pads[:i], t.pads[i+1:]...)
			return nil
		}
	}
	return &Error{Element: t.name, Code: CodeUnknownBranch, Message: fmt.Sprintf("branch %q not linked", h.BranchID())}
}

// Push implements Downstream. A full branch never delays delivery to the
// other branches; see fanout.Replicate.
func (t *Tee) Push(buf *media.Buffer) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.eos || len(t.pads) == 0 {
		return
	}
	sinks := make([]fanout.BranchSink, len(t.pads))
	for i, p := range t.pads {
		sinks[i] = p.sink
	}
	fanout.Replicate(buf, sinks)
}

// EndOfStream implements Downstream. Branches linked later never see
// buffers.
func (t *Tee) EndOfStream() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.eos {
		return
	}
	t.eos = true
	for _, p := range t.pads {
		p.sink.EndOfStream()
	}
	if len(t.pads) == 0 && t.bus != nil {
		t.bus.Post(Message{Type: MessageEOS, Source: t.name})
	}
}

// Pads maps linked branch ids to their pad names.
func (t *Tee) Pads() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.pads))
	for _, p := range t.pads {
		out[p.id] = p.name
	}
	return out
}
