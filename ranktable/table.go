// Package ranktable implements the per-originator neighbor-ranking table
// (spec.md §3, §4.3): sliding sequence-number windows per (originator,
// neighbor), derived transmit quality, best-next-hop selection, HNA and
// gateway records, and purge of stale state.
package ranktable

import (
	"math/bits"
	"strconv"
	"sync"
	"time"

	"github.com/encodeous/metric"
	"github.com/jellydator/ttlcache/v3"

	"github.com/batmaniv/batmand/wire"
)

// Constants from spec.md §4.3.4.
const (
	WindowSize          = 128
	OriginatorInterval  = time.Second
	PurgeTimeout        = 10 * WindowSize * OriginatorInterval
	BiLinkTimeout       = 3 * OriginatorInterval
	BroadcastDelayMax   = 100 * time.Millisecond
)

// windowWords is the number of uint64 words needed to hold WindowSize bits.
const windowWords = (WindowSize + 63) / 64

// window is a fixed-size bitmap of the last WindowSize sequence-number
// slots, aligned so that bit 0 always represents curr_seqno - WindowSize +
// 1 and the last bit represents curr_seqno. This is the bitmap
// representation spec.md §9 offers as an alternative to a seqno set.
type window [windowWords]uint64

func (w *window) set(offsetFromLow int) {
	w[offsetFromLow/64] |= 1 << uint(offsetFromLow%64)
}

func (w *window) get(offsetFromLow int) bool {
	return w[offsetFromLow/64]&(1<<uint(offsetFromLow%64)) != 0
}

func (w *window) count() int {
	c := 0
	for _, word := range w {
		c += bits.OnesCount64(word)
	}
	return c
}

// shift drops the bottom n bits (the oldest n slots) and rotates fresh
// zero bits in at the top, sliding the window forward by n seqnos.
func (w *window) shift(n int) {
	if n >= WindowSize {
		*w = window{}
		return
	}
	var nw window
	for i := n; i < WindowSize; i++ {
		if w.get(i) {
			nw.set(i - n)
		}
	}
	*w = nw
}

// NeighborInfo tracks one originator's relayer: the sliding window of
// distinct seqnos it has delivered, and bookkeeping used by the OGM engine.
type NeighborInfo struct {
	Address     wire.Address
	window      window
	PacketCount int
	LastValid   time.Time
	LastTTL     uint8
}

// TQ is the derived transmit quality in [0,1]: the fraction of the window
// that this relayer actually delivered.
func (n *NeighborInfo) TQ() float64 {
	return float64(n.PacketCount) / float64(WindowSize)
}

// GatewayRecord is the gateway advertisement carried by an originator's OGMs.
type GatewayRecord struct {
	IsGateway bool
	GwFlags   uint8
	GwPort    uint16
}

// HnaEntry is a single host-network-announcement record.
type HnaEntry struct {
	Network     wire.Address
	NetmaskBits uint8
}

// OriginatorEntry is the per-originator state owned exclusively by Table.
type OriginatorEntry struct {
	Address         wire.Address
	CurrSeqno       uint16
	haveSeqno       bool
	LastAware       time.Time
	Neighbors       map[wire.Address]*NeighborInfo
	BestNextHop     wire.Address
	BestRouteCount  int
	BidirLastEcho   time.Time
	haveBidirEcho   bool
	Gateway         GatewayRecord
	Hna             []HnaEntry
}

// dupKey identifies a (originator, seqno) pair in the broadcast log.
type dupKey struct {
	Orig  wire.Address
	Seqno uint16
}

// Table is the routing table: the exclusive owner of every OriginatorEntry,
// per spec.md §9's ownership graph. Each method call takes a single
// RWMutex, so the originator map itself is safe to call into from several
// goroutines. Originator returns the live *OriginatorEntry, not a copy:
// reading its fields (as package resolve does) is not synchronized with a
// later mutation from another goroutine. The reference agent makes every
// call from its single dispatch-loop goroutine.
type Table struct {
	mu          sync.RWMutex
	local       wire.Address
	originators map[wire.Address]*OriginatorEntry
	dupLog      *ttlcache.Cache[dupKey, time.Time]

	counterInvalidHeader  metric.Metric
	counterSelfLoop       metric.Metric
	counterDuplicate      metric.Metric
	counterUnidirectional metric.Metric
}

// New builds an empty table for the node whose own main address is local.
func New(local wire.Address) *Table {
	t := &Table{
		local:       local,
		originators: make(map[wire.Address]*OriginatorEntry),
		dupLog: ttlcache.New[dupKey, time.Time](
			ttlcache.WithTTL[dupKey, time.Time](PurgeTimeout),
			ttlcache.WithDisableTouchOnHit[dupKey, time.Time](),
		),
		counterInvalidHeader:  metric.NewCounter("1m10s"),
		counterSelfLoop:       metric.NewCounter("1m10s"),
		counterDuplicate:      metric.NewCounter("1m10s"),
		counterUnidirectional: metric.NewCounter("1m10s"),
	}
	go t.dupLog.Start()
	return t
}

// Diagnostics exposes the §7 error-disposition counters.
type Diagnostics struct {
	InvalidHeader  float64
	SelfLoop       float64
	Duplicate      float64
	Unidirectional float64
}

func (t *Table) Diagnostics() Diagnostics {
	return Diagnostics{
		InvalidHeader:  metricValue(t.counterInvalidHeader),
		SelfLoop:       metricValue(t.counterSelfLoop),
		Duplicate:      metricValue(t.counterDuplicate),
		Unidirectional: metricValue(t.counterUnidirectional),
	}
}

// metricValue reads the current numeric value out of a metric.Metric, whose
// String() method formats it with strconv.FormatFloat.
func metricValue(m metric.Metric) float64 {
	v, _ := strconv.ParseFloat(m.String(), 64)
	return v
}

func (t *Table) CountInvalidHeader()  { t.counterInvalidHeader.Add(1) }
func (t *Table) CountSelfLoop()       { t.counterSelfLoop.Add(1) }
func (t *Table) CountUnidirectional() { t.counterUnidirectional.Add(1) }

// Close releases the background goroutines started by New.
func (t *Table) Close() {
	t.dupLog.Stop()
}

// IsDuplicate reports and records whether (orig, s) has been logged within
// the last PurgeTimeout (spec.md I3). It always logs the pair: the caller
// decides separately whether a duplicate is still eligible for rebroadcast
// (spec.md §4.4.3 step 2).
func (t *Table) IsDuplicate(orig wire.Address, s uint16, now time.Time) bool {
	key := dupKey{orig, s}
	item := t.dupLog.Get(key)
	dup := item != nil
	if !dup {
		t.dupLog.Set(key, now, ttlcache.DefaultTTL)
	} else {
		t.counterDuplicate.Add(1)
	}
	return dup
}

// Originator returns the entry for orig, or nil if none exists.
func (t *Table) Originator(orig wire.Address) *OriginatorEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.originators[orig]
}

// Originators returns a snapshot slice of all current originator addresses.
func (t *Table) Originators() []wire.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]wire.Address, 0, len(t.originators))
	for a := range t.originators {
		out = append(out, a)
	}
	return out
}

func (t *Table) fetchOrCreate(orig wire.Address, now time.Time) *OriginatorEntry {
	o, ok := t.originators[orig]
	if !ok {
		o = &OriginatorEntry{
			Address:   orig,
			Neighbors: make(map[wire.Address]*NeighborInfo),
		}
		t.originators[orig] = o
	}
	o.LastAware = now
	return o
}
