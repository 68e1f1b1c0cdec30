// Package diag carries non-fatal runtime conditions out of the per-tick hot
// path. Reporting never blocks and never allocates on the fast path beyond
// the event value itself; a missed report is preferable to a missed frame.
package diag

import "sync/atomic"

// Condition codes.
const (
	CodeConfig         = "E_CONFIG"
	CodeDegenerateBone = "E_DEGENERATE_BONE"
)

type Event struct {
	Tick    uint64 `json:"tick"`
	Walker  string `json:"walker,omitempty"`
	Leg     string `json:"leg,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Reporter interface {
	Report(ev Event)
}

type ReporterFunc func(Event)

func (f ReporterFunc) Report(ev Event) {
	if f == nil {
		return
	}
	f(ev)
}

type nopReporter struct{}

func (nopReporter) Report(Event) {}

func Nop() Reporter { return nopReporter{} }

// Buffer is a bounded, drop-on-full reporter. The producing side is the
// simulation tick; the consuming side drains on its own schedule.
type Buffer struct {
	ch      chan Event
	dropped atomic.Uint64
}

func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{ch: make(chan Event, size)}
}

func (b *Buffer) Report(ev Event) {
	select {
	case b.ch <- ev:
	default:
		b.dropped.Add(1)
	}
}

// Drain removes up to max buffered events without blocking.
func (b *Buffer) Drain(max int) []Event {
	var out []Event
	for len(out) < max {
		select {
		case ev := <-b.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// Once forwards each (walker, leg, code) combination a single time. Used for
// configuration errors, which would otherwise repeat every tick.
type Once struct {
	next Reporter
	seen map[[3]string]struct{}
}

func NewOnce(next Reporter) *Once {
	return &Once{next: next, seen: map[[3]string]struct{}{}}
}

func (o *Once) Report(ev Event) {
	key := [3]string{ev.Walker, ev.Leg, ev.Code}
	if _, dup := o.seen[key]; dup {
		return
	}
	o.seen[key] = struct{}{}
	if o.next != nil {
		o.next.Report(ev)
	}
}
