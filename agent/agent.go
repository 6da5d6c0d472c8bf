// Package agent wires the neighbor-ranking table (ranktable), the OGM
// engine (ogm), and the route resolver (resolve) behind the single-threaded
// dispatch loop of spec.md §5: an Env (readable from any goroutine: the
// substrate capability record, Context, Log) holding a dispatch channel,
// and a State (the routing table plus the engines reading/writing it) that
// is only ever touched by the goroutine draining that channel.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/batmaniv/batmand/ogm"
	"github.com/batmaniv/batmand/ranktable"
	"github.com/batmaniv/batmand/resolve"
	"github.com/batmaniv/batmand/wire"
)

// Capability is the substrate capability record (spec.md §9 "Dynamic
// dispatch replaced by configuration struct"): a plain struct of function
// fields standing in for the teacher's polyamide conn.Bind. A production
// binary builds one from package netsock; tests build one by hand.
//
// ScheduleAfter returns nothing: nothing in this repo ever cancels a
// scheduled emission, purge, or forward, so a cancellation handle would be
// dead API surface.
type Capability struct {
	Broadcast     func(payload []byte) error
	ScheduleAfter func(d time.Duration, cb func())
	Now           func() time.Time
	RandomUniform func(a, b float64) float64
}

// capTransport adapts a Capability into ogm.Transport for use by the OGM
// engine living inside State. Broadcast/Now/RandomUniform are pure reads or
// fire-and-forget sends and pass straight through; ScheduleAfter is the one
// primitive that schedules a callback which goes on to mutate State (Emit
// touches localSeqno, the forwarding delay of spec.md §4.4.5 step 4
// broadcasts, purge mutates the table) — per spec.md §5 that callback must
// still run on the dispatch loop's goroutine, so it is re-dispatched rather
// than invoked directly from whatever goroutine the real timer fires on.
type capTransport struct {
	Capability
	env *Env
}

func (c capTransport) Broadcast(payload []byte) error    { return c.Capability.Broadcast(payload) }
func (c capTransport) Now() time.Time                     { return c.Capability.Now() }
func (c capTransport) RandomUniform(a, b float64) float64 { return c.Capability.RandomUniform(a, b) }

func (c capTransport) ScheduleAfter(d time.Duration, cb func()) {
	c.Capability.ScheduleAfter(d, func() {
		c.env.Dispatch(func(*State) error {
			cb()
			return nil
		})
	})
}

// State holds everything touched only by the dispatch loop's goroutine:
// the routing table, the route resolver built over it, and the OGM engine
// driving both. State access outside the dispatch loop is a bug.
type State struct {
	*Env
	Table    *ranktable.Table
	Resolver *resolve.Resolver
	Ogm      *ogm.Engine
}

// Env is safe to read from any goroutine.
type Env struct {
	DispatchChannel chan<- func(*State) error
	Context         context.Context
	Cancel          context.CancelCauseFunc
	Log             *slog.Logger
	Capability
	Local wire.Address
}
