// Package ogm implements the OGM engine (spec.md §4.4, C4): periodic
// emission on a jittered timer, the reception pipeline (preliminary
// checks, duplicate detection, bidirectional-link gating, neighbor-ranking
// update), and the forwarding decision. It drives ranktable.Table but owns
// no originator state of its own.
package ogm

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/encodeous/metric"

	"github.com/batmaniv/batmand/ranktable"
	"github.com/batmaniv/batmand/wire"
)

// Transport is the capability record the engine is built against (spec.md
// §9 "Dynamic dispatch replaced by configuration struct"). A production
// binary supplies a real one (package netsock); tests supply a fake.
type Transport interface {
	Broadcast(payload []byte) error
	ScheduleAfter(d time.Duration, cb func())
	Now() time.Time
	RandomUniform(a, b float64) float64
}

// Config mirrors spec.md §6's configuration table.
type Config struct {
	OgmInterval       time.Duration
	OgmIntervalJitter time.Duration
	Ttl               uint8
	GatewayEnabled    bool
	GwFlags           uint8
	GwPort            uint16
	Hna               []wire.HNA
}

// DefaultConfig matches spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		OgmInterval:       time.Second,
		OgmIntervalJitter: 200 * time.Millisecond,
		Ttl:               64,
	}
}

// Validate enforces spec.md §7's ConfigOutOfRange disposition: TTL outside
// [2,255] fails configuration outright.
func (c Config) Validate() error {
	if c.Ttl < 2 {
		return errConfigOutOfRange("ttl", c.Ttl, "must be >= 2")
	}
	return nil
}

type errConfigOutOfRangeT struct {
	field  string
	value  any
	reason string
}

func (e *errConfigOutOfRangeT) Error() string {
	return "ogm: config field " + e.field + " out of range: " + e.reason
}

func errConfigOutOfRange(field string, value any, reason string) error {
	return &errConfigOutOfRangeT{field: field, value: value, reason: reason}
}

// Engine ties the neighbor-ranking table to a Transport and drives emission
// and reception. All of its methods run on the caller's goroutine;
// callers that want the single-threaded event-loop model of spec.md §5
// should only ever invoke Engine methods from their dispatch loop (see
// package agent).
type Engine struct {
	Local     wire.Address
	Table     *ranktable.Table
	Transport Transport
	Log       *slog.Logger
	Config    Config

	localSeqno uint16
	stopped    atomic.Bool

	emittedCounter   metric.Metric
	forwardedCounter metric.Metric
	ttlExhausted     metric.Metric
	duplicateDropped metric.Metric
}

// NewEngine builds an Engine for local, reading/writing table, speaking
// through transport.
func NewEngine(local wire.Address, table *ranktable.Table, transport Transport, log *slog.Logger, cfg Config) *Engine {
	return &Engine{
		Local:            local,
		Table:            table,
		Transport:        transport,
		Log:              log,
		Config:           cfg,
		emittedCounter:   metric.NewCounter("1m10s"),
		forwardedCounter: metric.NewCounter("1m10s"),
		ttlExhausted:     metric.NewCounter("1m10s"),
		duplicateDropped: metric.NewCounter("1m10s"),
	}
}

// NextEmissionDelay draws the jittered inter-OGM delay of spec.md §4.4.1.
func (e *Engine) NextEmissionDelay() time.Duration {
	half := float64(e.Config.OgmIntervalJitter) / 2
	j := e.Transport.RandomUniform(-half, half)
	d := e.Config.OgmInterval + time.Duration(j)
	if d < 0 {
		d = 0
	}
	return d
}

// Emit constructs and broadcasts our own OGM, then increments the local
// seqno counter modulo 65536 (spec.md §4.4.1).
func (e *Engine) Emit() {
	o := wire.OGM{
		Version:    wire.BatmanVersion,
		Flags:      0,
		Ttl:        e.Config.Ttl,
		Originator: e.Local,
		Seqno:      e.localSeqno,
	}
	if e.Config.GatewayEnabled {
		o.GwFlags = e.Config.GwFlags
		o.GwPort = e.Config.GwPort
	}
	payload := wire.MarshalDatagram(o, e.Config.Hna)
	if err := e.Transport.Broadcast(payload); err != nil && e.Log != nil {
		e.Log.Warn("failed to broadcast own OGM", "err", err)
	}
	e.emittedCounter.Add(1)
	e.localSeqno++
}

// LocalSeqno returns the most recently emitted sequence number (the one
// just sent by Emit, not the next one to be used).
func (e *Engine) LocalSeqno() uint16 {
	return e.localSeqno - 1
}
