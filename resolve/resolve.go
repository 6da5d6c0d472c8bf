// Package resolve implements the route resolver (spec.md §4.5, C5): it
// answers "next hop for destination D?" by consulting the neighbor-ranking
// table's best-next-hop cache, falling back to a longest-prefix HNA match,
// and separately selects the best gateway originator. The data plane reads
// through this package only; it never mutates ranking (spec.md §2).
package resolve

import (
	"time"

	"github.com/gaissmai/bart"

	"github.com/batmaniv/batmand/ranktable"
	"github.com/batmaniv/batmand/wire"
)

// Resolver answers route-resolution queries against a live ranktable.Table.
// Instances are cheap; Refresh rebuilds the HNA lookup trie from the
// table's current state, since bart.Table has no direct window into
// per-originator HNA lists of its own.
type Resolver struct {
	table *ranktable.Table
	hna   bart.Table[hnaCandidate]
}

type hnaCandidate struct {
	originator wire.Address
	nextHop    wire.Address
}

// New builds a resolver reading from table.
func New(table *ranktable.Table) *Resolver {
	return &Resolver{table: table}
}

// Refresh rebuilds the HNA longest-prefix trie from the table's current
// originator set. Call it after any HNA-affecting mutation
// (AddHna/ClearHna/Purge) and before NextHop relies on HNA fallback.
func (r *Resolver) Refresh() {
	r.hna = bart.Table[hnaCandidate]{}
	for _, addr := range r.table.Originators() {
		o := r.table.Originator(addr)
		if o == nil {
			continue
		}
		for _, h := range o.Hna {
			pfx, err := wire.PrefixMask(h.Network, h.NetmaskBits)
			if err != nil {
				continue
			}
			cand := hnaCandidate{originator: addr, nextHop: o.BestNextHop}
			if existing, ok := r.hna.Get(pfx); ok {
				// deterministic tie-break: lower originator address wins
				// (spec.md §4.5 step 2).
				if addr >= existing.originator {
					continue
				}
			}
			r.hna.Insert(pfx, cand)
		}
	}
}

// NextHop implements spec.md §4.5's lookup(dest): a direct originator
// match wins outright; otherwise the longest-matching HNA prefix is used,
// ties broken by lower originator address (handled at Refresh time). A
// candidate next hop is only ever handed out once its link has passed the
// bidirectional-link test (spec.md §4.4.4): ranking records whatever it
// hears from a relayer optimistically, so that discovery and forwarding
// never stall on proof of a return path (see package ogm), but resolution
// is where an unproven, possibly one-way, link is refused as a route.
func (r *Resolver) NextHop(dest wire.Address, now time.Time) (wire.Address, bool) {
	if o := r.table.Originator(dest); o != nil && o.BestNextHop != wire.AddressNone {
		if !r.table.CheckBidirectional(o.BestNextHop, now) {
			return wire.AddressNone, false
		}
		return o.BestNextHop, true
	}
	if cand, ok := r.hna.Lookup(dest.Addr()); ok {
		if cand.nextHop == wire.AddressNone || !r.table.CheckBidirectional(cand.nextHop, now) {
			return wire.AddressNone, false
		}
		return cand.nextHop, true
	}
	return wire.AddressNone, false
}

// SelectGateway implements spec.md §4.5's selectBestGateway: the gateway
// originator maximizing best_route_count * gw_flags among reachable,
// bidirectionally-confirmed gateways, ties broken by lower originator
// address.
func (r *Resolver) SelectGateway(now time.Time) (wire.Address, bool) {
	var best wire.Address
	found := false
	var bestScore uint64
	for _, addr := range r.table.Originators() {
		o := r.table.Originator(addr)
		if o == nil || !o.Gateway.IsGateway || o.BestNextHop == wire.AddressNone {
			continue
		}
		if !r.table.CheckBidirectional(o.BestNextHop, now) {
			continue
		}
		score := uint64(o.BestRouteCount) * uint64(o.Gateway.GwFlags)
		if !found || score > bestScore || (score == bestScore && addr < best) {
			best = addr
			bestScore = score
			found = true
		}
	}
	return best, found
}
