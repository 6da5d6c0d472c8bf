package ranktable

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/batmaniv/batmand/wire"
)

// gatewaySnapshot pulls the plain-data fields out of an OriginatorEntry so
// cmp.Diff gives a readable failure message without needing
// cmp.AllowUnexported for the entry's private bookkeeping fields.
type gatewaySnapshot struct {
	Gateway GatewayRecord
	Hna     []HnaEntry
}

func snapshotGateway(o *OriginatorEntry) gatewaySnapshot {
	return gatewaySnapshot{Gateway: o.Gateway, Hna: o.Hna}
}

func TestUpdateNeighborRankingIgnoresLocalOriginator(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	tbl.UpdateNeighborRanking(1, 2, 5, 64, time.Now())
	assert.Nil(t, tbl.Originator(1), "an OriginatorEntry keyed by the local address must never exist")
}

func TestUpdateNeighborRankingOutOfWindowSeqnoIgnored(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	for s := uint16(0); s < WindowSize; s++ {
		tbl.UpdateNeighborRanking(2, 3, s, 64, now)
	}
	// curr_seqno is now WindowSize-1; seqno 0 sits at the very oldest edge
	// of the window, still in-window.
	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	full := entry.Neighbors[3].PacketCount
	assert.Equal(t, WindowSize, full)

	// progress by one more: curr_seqno advances to WindowSize, sliding
	// seqno 0 out of the window entirely.
	tbl.UpdateNeighborRanking(2, 3, WindowSize, 64, now)
	afterSlide := entry.Neighbors[3].PacketCount

	// seqno 0 is now far enough behind curr_seqno to fall outside the
	// window; re-delivering it must not perturb the count.
	tbl.UpdateNeighborRanking(2, 3, 0, 64, now)
	assert.Equal(t, afterSlide, entry.Neighbors[3].PacketCount)
}

func TestUpdateNeighborRankingReinsertionIsNoop(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	tbl.UpdateNeighborRanking(2, 3, 10, 64, now)
	tbl.UpdateNeighborRanking(2, 3, 5, 64, now) // in-window, distinct
	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	count := entry.Neighbors[3].PacketCount
	assert.Equal(t, 2, count)

	tbl.UpdateNeighborRanking(2, 3, 5, 64, now) // re-seen: set semantics, no growth
	assert.Equal(t, count, entry.Neighbors[3].PacketCount)
}

func TestUpdateBestNextHopTiesBrokenByLowerAddress(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	tbl.UpdateNeighborRanking(2, 10, 1, 64, now)
	tbl.UpdateNeighborRanking(2, 5, 1, 64, now)

	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	assert.Equal(t, wire.Address(5), entry.BestNextHop, "equal packet counts must break ties toward the lower relayer address")
}

func TestUpdateBestNextHopNoneOnceLastNeighborPurged(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	t0 := time.Now()
	t1 := t0.Add(time.Second)
	t2 := t0.Add(PurgeTimeout + time.Second)

	tbl.UpdateNeighborRanking(2, 3, 1, 64, t0)
	tbl.UpdateGateway(2, 5, 1, t1) // keeps the originator itself fresh at t1

	tbl.Purge(t2) // t2-t0 > PurgeTimeout (neighbor 3 stale); t2-t1 == PurgeTimeout (originator survives)

	entry := tbl.Originator(2)
	require.NotNil(t, entry, "the originator entry itself is still within PurgeTimeout of t1")
	assert.Empty(t, entry.Neighbors)
	assert.Equal(t, wire.AddressNone, entry.BestNextHop)
}

func TestRecordAndCheckBidirectional(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	assert.False(t, tbl.CheckBidirectional(2, now), "no echo ever recorded")

	tbl.RecordBidirSeqno(2, 0, now)
	assert.True(t, tbl.CheckBidirectional(2, now))
	assert.True(t, tbl.CheckBidirectional(2, now.Add(BiLinkTimeout)))
	assert.False(t, tbl.CheckBidirectional(2, now.Add(BiLinkTimeout+time.Second)))
}

func TestIsDuplicateLogsOnce(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	assert.False(t, tbl.IsDuplicate(2, 5, now))
	assert.True(t, tbl.IsDuplicate(2, 5, now))
	assert.False(t, tbl.IsDuplicate(2, 6, now), "a different seqno is not a duplicate")
}

func TestAddHnaAndClearHna(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	tbl.AddHna(2, 0x0A000000, 8, now)
	tbl.AddHna(2, 0x0A000100, 24, now)
	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	assert.Len(t, entry.Hna, 2)

	tbl.ClearHna(2)
	assert.Empty(t, entry.Hna)
}

func TestUpdateGatewayRecordsFlags(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	tbl.UpdateGateway(2, 5, 4305, now)
	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	assert.True(t, entry.Gateway.IsGateway)
	assert.Equal(t, uint8(5), entry.Gateway.GwFlags)
	assert.Equal(t, uint16(4305), entry.Gateway.GwPort)

	tbl.UpdateGateway(2, 0, 0, now)
	assert.False(t, entry.Gateway.IsGateway)
}

func TestPurgeDropsStaleNeighborAndRecomputesBestNextHop(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	start := time.Now()

	tbl.UpdateNeighborRanking(2, 3, 1, 64, start)
	later := start.Add(time.Second)
	tbl.UpdateNeighborRanking(2, 4, 1, 64, later)

	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	require.Len(t, entry.Neighbors, 2)

	// chosen so relayer 3 (last_valid = start) is past PurgeTimeout, while
	// the originator entry itself (last_aware = later) and relayer 4
	// (last_valid = later) are not.
	purgeAt := start.Add(PurgeTimeout + 500*time.Millisecond)
	tbl.Purge(purgeAt)
	entry = tbl.Originator(2)
	require.NotNil(t, entry, "originator is still fresh: relayer 4's OGM refreshed its last_aware")
	_, stillThere := entry.Neighbors[3]
	assert.False(t, stillThere)
	_, fourStillThere := entry.Neighbors[4]
	assert.True(t, fourStillThere)
	assert.Equal(t, wire.Address(4), entry.BestNextHop, "best next hop moves off the purged relayer 3")
}

func TestGatewayAndHnaSnapshotAfterUpdates(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	tbl.UpdateGateway(2, 5, 4305, now)
	tbl.AddHna(2, 0x0A000000, 8, now)

	entry := tbl.Originator(2)
	require.NotNil(t, entry)

	want := gatewaySnapshot{
		Gateway: GatewayRecord{IsGateway: true, GwFlags: 5, GwPort: 4305},
		Hna:     []HnaEntry{{Network: 0x0A000000, NetmaskBits: 8}},
	}
	if diff := cmp.Diff(want, snapshotGateway(entry)); diff != "" {
		t.Errorf("gateway/hna snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestWindowPacketCountMatchesSetBits(t *testing.T) {
	tbl := New(1)
	defer tbl.Close()
	now := time.Now()

	seqnos := []uint16{0, 1, 2, 5, 9}
	for _, s := range seqnos {
		tbl.UpdateNeighborRanking(2, 3, s, 64, now)
	}
	entry := tbl.Originator(2)
	require.NotNil(t, entry)
	assert.Equal(t, len(seqnos), entry.Neighbors[3].PacketCount)
	assert.InDelta(t, float64(len(seqnos))/float64(WindowSize), entry.Neighbors[3].TQ(), 1e-9)
}
