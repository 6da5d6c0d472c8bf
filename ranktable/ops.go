package ranktable

import (
	"time"

	"github.com/batmaniv/batmand/seqno"
	"github.com/batmaniv/batmand/wire"
)

// UpdateNeighborRanking is the main mutation of spec.md §4.3.2: record that
// relayer delivered seqno from orig at ttl, slide or insert into relayer's
// window, and refresh the best-next-hop cache.
func (t *Table) UpdateNeighborRanking(orig, relayer wire.Address, s uint16, ttl uint8, now time.Time) {
	if orig == t.local {
		// defensive: spec.md I4, an OriginatorEntry keyed by the local
		// main address must never exist.
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	o := t.fetchOrCreate(orig, now)

	n, ok := o.Neighbors[relayer]
	if !ok {
		n = &NeighborInfo{Address: relayer}
		o.Neighbors[relayer] = n
	}
	n.LastValid = now
	n.LastTTL = ttl

	switch {
	case !o.haveSeqno || seqno.Gt(s, o.CurrSeqno):
		// progress case: advance curr_seqno and slide every neighbor's
		// window forward by the distance travelled.
		var delta int
		if !o.haveSeqno {
			delta = 0
		} else {
			delta = int(seqno.Diff(s, o.CurrSeqno))
		}
		o.CurrSeqno = s
		o.haveSeqno = true
		for _, other := range o.Neighbors {
			other.window.shift(delta)
			other.PacketCount = other.window.count()
		}
		n.window.set(WindowSize - 1)
		n.PacketCount = n.window.count()
		t.updateBestNextHop(o)

	case seqno.InWindow(s, o.CurrSeqno, WindowSize):
		// in-window case: set semantics, re-insertion is a no-op.
		offset := WindowSize - 1 - int(seqno.Diff(o.CurrSeqno, s))
		n.window.set(offset)
		n.PacketCount = n.window.count()
		t.updateBestNextHop(o)

	default:
		// out-of-window old seqno: ignored.
	}
}

// updateBestNextHop implements spec.md §4.3.3: the neighbor with the
// greatest packet count wins, ties broken by lower relayer address. Caller
// must hold t.mu.
func (t *Table) updateBestNextHop(o *OriginatorEntry) {
	var best wire.Address
	bestCount := -1
	for addr, n := range o.Neighbors {
		if n.PacketCount > bestCount || (n.PacketCount == bestCount && addr < best) {
			best = addr
			bestCount = n.PacketCount
		}
	}
	if bestCount <= 0 {
		o.BestNextHop = wire.AddressNone
		o.BestRouteCount = 0
		return
	}
	o.BestNextHop = best
	o.BestRouteCount = bestCount
}

// RecordBidirSeqno records that our own OGM, emitted with sequence number
// s, was observed echoed back (DIRECTLINK set) by orig at now. The seqno
// itself is not retained: spec.md §4.4.4's "within BI_LINK_TIMEOUT of the
// seqno we most recently emitted" is equivalent, under the constant-rate
// OGM emission §4.4.1 assumes, to "within BI_LINK_TIMEOUT of wall-clock
// time" — and a wall-clock timestamp is usable from any caller, not only
// one that knows the engine's current local seqno (see resolve.NextHop).
func (t *Table) RecordBidirSeqno(orig wire.Address, s uint16, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.fetchOrCreate(orig, now)
	o.BidirLastEcho = now
	o.haveBidirEcho = true
}

// CheckBidirectional implements spec.md §4.4.4: orig is bidirectional iff
// we have recorded an echo of our own OGM, by orig, within BiLinkTimeout
// of now.
func (t *Table) CheckBidirectional(orig wire.Address, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.originators[orig]
	if !ok || !o.haveBidirEcho {
		return false
	}
	return now.Sub(o.BidirLastEcho) <= BiLinkTimeout
}

// UpdateGateway records orig's currently advertised gateway class and port.
func (t *Table) UpdateGateway(orig wire.Address, gwFlags uint8, gwPort uint16, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.fetchOrCreate(orig, now)
	o.Gateway = GatewayRecord{
		IsGateway: gwFlags != 0,
		GwFlags:   gwFlags,
		GwPort:    gwPort,
	}
}

// AddHna appends a host-network-announcement to orig's HNA list.
func (t *Table) AddHna(orig wire.Address, network wire.Address, netmaskBits uint8, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.fetchOrCreate(orig, now)
	o.Hna = append(o.Hna, HnaEntry{Network: network, NetmaskBits: netmaskBits})
}

// ClearHna removes all HNA records advertised by orig.
func (t *Table) ClearHna(orig wire.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o, ok := t.originators[orig]; ok {
		o.Hna = nil
	}
}

// Purge implements spec.md §4.3.4: drop originators that have gone silent
// beyond PurgeTimeout, and within surviving originators drop neighbors that
// have individually gone silent, recomputing best-next-hop where it may
// have changed.
func (t *Table) Purge(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, o := range t.originators {
		if now.Sub(o.LastAware) > PurgeTimeout {
			delete(t.originators, addr)
			continue
		}
		changed := false
		for nAddr, n := range o.Neighbors {
			if now.Sub(n.LastValid) > PurgeTimeout {
				delete(o.Neighbors, nAddr)
				changed = true
			}
		}
		if changed {
			t.updateBestNextHop(o)
		}
	}
}
