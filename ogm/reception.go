package ogm

import (
	"time"

	"github.com/batmaniv/batmand/ranktable"
	"github.com/batmaniv/batmand/wire"
)

// OnDatagram is the reception entry point (spec.md §4.4.2, §4.4.3): srcIP
// is the one-hop sender (the relayer) of the UDP datagram carrying
// payload. It runs preliminary checks, then the main pipeline, atomically
// with respect to the routing table per spec.md §5.
func (e *Engine) OnDatagram(srcIP wire.Address, payload []byte) {
	now := e.Transport.Now()

	o, hnas, err := wire.ParseDatagram(payload)
	if err != nil {
		e.Table.CountInvalidHeader()
		return
	}

	if o.Originator == e.Local {
		// Exception (spec.md §4.4.2): preliminary checks pass through to
		// bidirectional-link handling rather than being dropped outright.
		e.handleOwnEcho(o, srcIP, now)
		return
	}

	// Preliminary checks (spec.md §4.4.2), in order.
	if srcIP == e.Local {
		e.Table.CountSelfLoop()
		return
	}
	if srcIP == wire.AddressBroadcast {
		return
	}
	if o.Unidirectional() {
		return
	}

	e.receiveForeign(o, hnas, srcIP, now)
}

// handleOwnEcho implements spec.md §4.4.3 step 1: a neighbor relaying one
// of our own OGMs back to us with DIRECTLINK set proves that neighbor is
// bidirectional. The packet itself is always discarded, never forwarded.
func (e *Engine) handleOwnEcho(o wire.OGM, relayer wire.Address, now time.Time) {
	if o.DirectLink() {
		e.Table.RecordBidirSeqno(relayer, o.Seqno, now)
	}
}

// receiveForeign implements spec.md §4.4.3 steps 2-4 for an OGM originated
// by some other node.
func (e *Engine) receiveForeign(o wire.OGM, hnas []wire.HNA, relayer wire.Address, now time.Time) {
	orig := o.Originator
	wasDuplicate := e.Table.IsDuplicate(orig, o.Seqno, now)

	if wasDuplicate {
		e.considerDuplicateForward(o, hnas, relayer, now)
		return
	}

	// Fresh case. The bidirectional-link check (spec.md §4.4.4) only has
	// evidence to consult when the inbound packet itself already claims
	// DIRECTLINK from its own originator (relayer == orig): that is the
	// one shape of packet that could, in principle, be an echo of
	// something we can verify. A direct originator's own first-hop
	// emission never carries DIRECTLINK (spec.md §4.4.1 always emits
	// flags = 0), so this path is never taken for it — ranking a newly
	// heard relayer is never blocked on proving bidirectionality first.
	// Route resolution (package resolve), not ranking, is what actually
	// withholds a route through a relayer that bidirectionality was
	// never proven for.
	if o.DirectLink() && relayer == orig && !e.Table.CheckBidirectional(relayer, now) {
		o.SetUnidirectional(true)
		e.Table.CountUnidirectional()
		return
	}

	e.Table.UpdateNeighborRanking(orig, relayer, o.Seqno, o.Ttl, now)
	if o.GwFlags != 0 {
		e.Table.UpdateGateway(orig, o.GwFlags, o.GwPort, now)
	}
	e.Table.ClearHna(orig)
	for _, h := range hnas {
		e.Table.AddHna(orig, h.Network, h.NetmaskBits, now)
	}

	e.considerFreshForward(o, hnas, relayer, now)
}

// considerDuplicateForward handles forwarding for a duplicate (spec.md
// §4.4.5): a direct-link OGM from its own originator is forwarded as in
// the fresh case; any other duplicate is only eligible under the "best
// link" rule, i.e. if relayer is the current best next hop and the
// duplicate's TTL matches the last TTL we recorded for this (originator,
// relayer) pair.
func (e *Engine) considerDuplicateForward(o wire.OGM, hnas []wire.HNA, relayer wire.Address, now time.Time) {
	orig := o.Originator
	entry := e.Table.Originator(orig)
	if entry == nil {
		return
	}
	if o.DirectLink() && relayer == orig {
		e.forward(o, hnas, relayer, now)
		return
	}
	if relayer != entry.BestNextHop {
		return
	}
	n, ok := entry.Neighbors[relayer]
	if !ok || o.Ttl != n.LastTTL {
		return
	}
	e.forward(o, hnas, relayer, now)
}

// considerFreshForward handles forwarding for a freshly-ranked OGM (spec.md
// §4.4.5(a)/(b)): a direct-link OGM always forwards; otherwise only the
// current best next hop forwards.
func (e *Engine) considerFreshForward(o wire.OGM, hnas []wire.HNA, relayer wire.Address, now time.Time) {
	orig := o.Originator
	if o.DirectLink() && relayer == orig {
		e.forward(o, hnas, relayer, now)
		return
	}
	entry := e.Table.Originator(orig)
	if entry != nil && relayer == entry.BestNextHop {
		e.forward(o, hnas, relayer, now)
	}
}

// forward implements spec.md §4.4.5's "when forwarding" steps: decrement
// TTL, fix up DIRECTLINK, and delay transmission to stagger collisions.
// The source/destination rewrite is left to the substrate. The OGM's content, including any
// HNA records it carried, is captured at enqueue time (spec.md §5): a
// later table change does not affect this already-scheduled send.
func (e *Engine) forward(o wire.OGM, hnas []wire.HNA, relayer wire.Address, now time.Time) {
	o.Ttl--
	if o.Ttl == 0 {
		e.ttlExhausted.Add(1)
		return
	}
	o.SetDirectLink(relayer == o.Originator)
	o.SetUnidirectional(false)
	// Source/destination IP rewrite (to our main address / broadcast) is
	// the substrate's job; the core only ever deals in OGM payloads.

	delay := e.Transport.RandomUniform(0, float64(ranktable.BroadcastDelayMax))
	payload := wire.MarshalDatagram(o, hnas)
	e.Transport.ScheduleAfter(time.Duration(delay), func() {
		if err := e.Transport.Broadcast(payload); err != nil && e.Log != nil {
			e.Log.Warn("failed to rebroadcast OGM", "err", err, "originator", o.Originator)
		}
	})
	e.forwardedCounter.Add(1)
}
