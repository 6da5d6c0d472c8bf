package ogm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batmaniv/batmand/ranktable"
	"github.com/batmaniv/batmand/resolve"
	"github.com/batmaniv/batmand/wire"
)

type node struct {
	addr  wire.Address
	table *ranktable.Table
	ft    *fakeTransport
	eng   *Engine
}

func newNode(addr wire.Address) *node {
	tbl := ranktable.New(addr)
	ft := newFakeTransport()
	return &node{
		addr:  addr,
		table: tbl,
		ft:    ft,
		eng:   NewEngine(addr, tbl, ft, nil, DefaultConfig()),
	}
}

func (n *node) close() { n.table.Close() }

// deliver hands dst the payload as if relayer (the one-hop sender) had just
// broadcast it.
func deliver(dst *node, relayer wire.Address, payload []byte) {
	dst.eng.OnDatagram(relayer, payload)
}

// Scenario 1 (spec.md §8): two nodes with a direct radio link. Each node's
// own OGM, forwarded back by the other with DIRECTLINK set, proves the link
// bidirectional; the other's OGM is ranked as a direct neighbor.
func TestTwoNodeDirectLinkEstablishesBidirAndRouting(t *testing.T) {
	a := newNode(1)
	defer a.close()
	b := newNode(2)
	defer b.close()

	a.eng.Emit()
	deliver(b, a.addr, a.ft.lastSent())
	require.NotNil(t, b.ft.lastSent(), "b must forward a's direct OGM")
	deliver(a, b.addr, b.ft.lastSent())

	b.eng.Emit()
	deliver(a, b.addr, b.ft.lastSent())
	require.NotNil(t, a.ft.lastSent())
	deliver(b, a.addr, a.ft.lastSent())

	assert.True(t, a.table.CheckBidirectional(b.addr, a.ft.Now()))
	assert.True(t, b.table.CheckBidirectional(a.addr, b.ft.Now()))

	entryA := a.table.Originator(b.addr)
	require.NotNil(t, entryA)
	assert.Equal(t, b.addr, entryA.BestNextHop)

	entryB := b.table.Originator(a.addr)
	require.NotNil(t, entryB)
	assert.Equal(t, a.addr, entryB.BestNextHop)
}

// Scenario 2 (spec.md §8): a three-node line A-B-C where A and C are out of
// radio range of each other. B's relaying of both endpoints' OGMs is enough,
// in the same round, for A and C to learn a two-hop route through B.
func TestThreeNodeLineRelayEstablishesMultihopRoute(t *testing.T) {
	a := newNode(1)
	defer a.close()
	b := newNode(2)
	defer b.close()
	c := newNode(3)
	defer c.close()

	// A emits; only B hears it directly.
	a.eng.Emit()
	deliver(b, a.addr, a.ft.lastSent())
	bFwd := b.ft.lastSent()
	require.NotNil(t, bFwd)
	deliver(a, b.addr, bFwd) // A's own echo, proves bidir(B) to A
	deliver(c, b.addr, bFwd) // C learns A via B

	// B emits; A and C both hear it directly.
	b.eng.Emit()
	deliver(a, b.addr, b.ft.lastSent())
	deliver(c, b.addr, b.ft.lastSent())
	require.NotNil(t, a.ft.lastSent())
	deliver(b, a.addr, a.ft.lastSent()) // B's own echo, proves bidir(A) to B
	require.NotNil(t, c.ft.lastSent())
	deliver(b, c.addr, c.ft.lastSent()) // B's own echo, proves bidir(C) to B

	// C emits; only B hears it directly.
	c.eng.Emit()
	deliver(b, c.addr, c.ft.lastSent())
	cFwd := b.ft.lastSent()
	require.NotNil(t, cFwd)
	deliver(c, b.addr, cFwd) // C's own echo, proves bidir(B) to C
	deliver(a, b.addr, cFwd) // A learns C via B

	assert.True(t, a.table.CheckBidirectional(b.addr, a.ft.Now()))
	assert.True(t, b.table.CheckBidirectional(a.addr, b.ft.Now()))
	assert.True(t, b.table.CheckBidirectional(c.addr, b.ft.Now()))
	assert.True(t, c.table.CheckBidirectional(b.addr, c.ft.Now()))

	entryAC := a.table.Originator(c.addr)
	require.NotNil(t, entryAC)
	assert.Equal(t, b.addr, entryAC.BestNextHop)

	entryCA := c.table.Originator(a.addr)
	require.NotNil(t, entryCA)
	assert.Equal(t, b.addr, entryCA.BestNextHop)

	rA := resolve.New(a.table)
	rA.Refresh()
	nh, ok := rA.NextHop(c.addr, a.ft.Now())
	require.True(t, ok)
	assert.Equal(t, b.addr, nh)

	rC := resolve.New(c.table)
	rC.Refresh()
	nh, ok = rC.NextHop(a.addr, c.ft.Now())
	require.True(t, ok)
	assert.Equal(t, b.addr, nh)
}

// Scenario 3 (spec.md §8): an asymmetric link where A can hear B but B
// cannot hear A. A never sees its own OGM echoed back by B, so the link is
// never proven bidirectional and A must not resolve a route through B.
func TestUnidirectionalAsymmetryRanksButRefusesRoute(t *testing.T) {
	a := newNode(1)
	defer a.close()
	b := newNode(2)
	defer b.close()

	// The radio model is one-way: B's broadcasts reach A, but A's
	// broadcasts never reach B at all. A's own OGM is never echoed back by
	// B, so A never has proof the link is bidirectional, regardless of how
	// many of B's OGMs it hears directly.
	for s := uint16(0); s < 5; s++ {
		b.eng.Emit()
		deliver(a, b.addr, b.ft.lastSent())
	}

	now := a.ft.Now()
	// a does rank b as a neighbor (ranking is optimistic so that discovery
	// never stalls on proof of a return path)...
	entry := a.table.Originator(b.addr)
	require.NotNil(t, entry)
	assert.Equal(t, b.addr, entry.BestNextHop)
	// ...but the link is never proven bidirectional, so resolve must
	// refuse to hand out a route through it.
	assert.False(t, a.table.CheckBidirectional(b.addr, now))

	r := resolve.New(a.table)
	r.Refresh()
	_, ok := r.NextHop(b.addr, now)
	assert.False(t, ok)
}

// Scenario 4 (spec.md §8): sequence-number wraparound. curr_seqno must
// advance past 65535 back to 0 without the wraparound being mistaken for a
// large backward jump.
func TestSeqnoWraparoundAdvancesCurrSeqno(t *testing.T) {
	tbl := ranktable.New(1)
	defer tbl.Close()
	now := time.Now()

	tbl.UpdateNeighborRanking(2, 3, 65534, 64, now)
	tbl.UpdateNeighborRanking(2, 3, 65535, 64, now)
	tbl.UpdateNeighborRanking(2, 3, 0, 64, now)
	tbl.UpdateNeighborRanking(2, 3, 1, 64, now)

	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	assert.Equal(t, uint16(1), entry.CurrSeqno)
	assert.Equal(t, wire.Address(3), entry.BestNextHop)
	assert.Equal(t, 4, entry.Neighbors[3].PacketCount)
}

// Scenario 5 (spec.md §8): purge. An originator that has gone silent for
// longer than PurgeTimeout is dropped from the table entirely.
func TestPurgeRemovesStaleOriginator(t *testing.T) {
	tbl := ranktable.New(1)
	defer tbl.Close()
	start := time.Now()

	tbl.UpdateNeighborRanking(2, 3, 1, 64, start)
	require.NotNil(t, tbl.Originator(2))

	tbl.Purge(start.Add(ranktable.PurgeTimeout / 2))
	assert.NotNil(t, tbl.Originator(2), "purge must not remove a still-fresh originator")

	tbl.Purge(start.Add(ranktable.PurgeTimeout + time.Second))
	assert.Nil(t, tbl.Originator(2), "purge must remove an originator silent past the timeout")
}

// TestEmitAdvertisesConfiguredHna covers the local-origination half of the
// HNA feature: the node's own configured prefixes ride along with every
// OGM it emits.
func TestEmitAdvertisesConfiguredHna(t *testing.T) {
	tbl := ranktable.New(1)
	defer tbl.Close()
	ft := newFakeTransport()
	cfg := DefaultConfig()
	cfg.Hna = []wire.HNA{{Network: 0x0A000000, NetmaskBits: 8}}
	eng := NewEngine(1, tbl, ft, nil, cfg)

	eng.Emit()

	_, hnas, err := wire.ParseDatagram(ft.lastSent())
	require.NoError(t, err)
	require.Len(t, hnas, 1)
	assert.Equal(t, wire.Address(0x0A000000), hnas[0].Network)
	assert.Equal(t, uint8(8), hnas[0].NetmaskBits)
}

// TestFreshOgmPopulatesHnaFromWire covers the reception half: a fresh OGM
// carrying HNA records must replace the originator's HNA list in the table,
// which is what makes resolve's longest-prefix fallback reachable at all.
func TestFreshOgmPopulatesHnaFromWire(t *testing.T) {
	a := newNode(1)
	defer a.close()

	o := wire.OGM{Version: wire.BatmanVersion, Ttl: 64, Originator: 2, Seqno: 1}
	hnas := []wire.HNA{
		{Network: 0x0A000000, NetmaskBits: 8},
		{Network: 0xC0A80000, NetmaskBits: 16},
	}
	payload := wire.MarshalDatagram(o, hnas)

	deliver(a, 3, payload)

	entry := a.table.Originator(2)
	require.NotNil(t, entry)
	require.Len(t, entry.Hna, 2)
	assert.Equal(t, wire.Address(0x0A000000), entry.Hna[0].Network)
	assert.Equal(t, wire.Address(0xC0A80000), entry.Hna[1].Network)

	// A second fresh OGM with a shrunk HNA list must replace, not append to,
	// the stored list (mirrors the original's clear-then-readd semantics).
	o.Seqno = 2
	payload = wire.MarshalDatagram(o, hnas[:1])
	deliver(a, 3, payload)
	entry = a.table.Originator(2)
	require.NotNil(t, entry)
	assert.Len(t, entry.Hna, 1)
}

// TestForwardPreservesHna covers the multi-hop case: a relayer forwarding
// someone else's fresh OGM must not strip the HNA records it carried,
// otherwise only direct neighbors would ever learn a prefix.
func TestForwardPreservesHna(t *testing.T) {
	b := newNode(2)
	defer b.close()

	o := wire.OGM{Version: wire.BatmanVersion, Ttl: 64, Originator: 1, Flags: wire.FlagDirectLink, Seqno: 1}
	hnas := []wire.HNA{{Network: 0x0A000000, NetmaskBits: 8}}
	payload := wire.MarshalDatagram(o, hnas)

	// A DIRECTLINK OGM from its own originator only passes the fresh-case
	// bidirectional gate once an echo from that originator is on record.
	b.table.RecordBidirSeqno(1, 0, b.ft.Now())
	deliver(b, 1, payload)

	fwd := b.ft.lastSent()
	require.NotNil(t, fwd)
	_, fwdHnas, err := wire.ParseDatagram(fwd)
	require.NoError(t, err)
	require.Len(t, fwdHnas, 1)
	assert.Equal(t, wire.Address(0x0A000000), fwdHnas[0].Network)
}

// Scenario 6 (spec.md §8): best-next-hop flip. A second relayer that
// consistently delivers more of originator 2's window than the current
// best next hop must take over as best next hop.
func TestBestNextHopFlipsOnBetterNeighbor(t *testing.T) {
	tbl := ranktable.New(1)
	defer tbl.Close()
	now := time.Now()

	for s := uint16(0); s < 10; s++ {
		tbl.UpdateNeighborRanking(2, 3, s, 64, now)
	}
	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	assert.Equal(t, wire.Address(3), entry.BestNextHop)

	// relayer 4 now delivers every packet from seqno 10 onward, while
	// relayer 3 goes silent; 4 overtakes once its window holds more hits.
	for s := uint16(10); s < 30; s++ {
		tbl.UpdateNeighborRanking(2, 4, s, 64, now)
	}

	entry = tbl.Originator(2)
	require.NotNil(t, entry)
	assert.Equal(t, wire.Address(4), entry.BestNextHop)
}
