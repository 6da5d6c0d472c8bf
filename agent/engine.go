package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/encodeous/metric"

	"github.com/batmaniv/batmand/ogm"
	"github.com/batmaniv/batmand/ranktable"
	"github.com/batmaniv/batmand/resolve"
	"github.com/batmaniv/batmand/wire"
)

// dispatchSlowThreshold mirrors core/runtime.go's slow-dispatch warning
// threshold.
const dispatchSlowThreshold = 50 * time.Millisecond

// Engine is the top-level agent handle (spec.md §6): it owns the dispatch
// loop goroutine and exposes the only entry points safe to call from any
// goroutine. Everything else (ranktable.Table, resolve.Resolver,
// ogm.Engine) lives inside State, reachable only through Dispatch.
type Engine struct {
	env   *Env
	state *State
}

// NewEngine builds an Engine for local, speaking through cap and logging
// through log. It does not start the dispatch loop; call Start for that.
func NewEngine(local wire.Address, cap Capability, log *slog.Logger, cfg ogm.Config) *Engine {
	table := ranktable.New(local)
	env := &Env{
		Capability: cap,
		Local:      local,
		Log:        log,
	}
	return &Engine{
		env: env,
		state: &State{
			Table:    table,
			Resolver: resolve.New(table),
			Ogm:      ogm.NewEngine(local, table, capTransport{cap, env}, log, cfg),
		},
	}
}

// Start arms the dispatch loop and the OGM engine's emission/purge timers
// (spec.md §5). It returns once the dispatch loop has exited, either
// because ctx was cancelled or a dispatched function returned an error. A
// panic inside a dispatched function is not recovered by the loop.
func (e *Engine) Start(ctx context.Context) error {
	dispatch := make(chan func(*State) error, 128)
	ctx, cancel := context.WithCancelCause(ctx)
	e.env.DispatchChannel = dispatch
	e.env.Context = ctx
	e.env.Cancel = cancel
	e.state.Env = e.env

	e.state.Ogm.Start()

	return e.mainLoop(dispatch)
}

// mainLoop drains the dispatch channel on the calling goroutine, exactly
// the way core/runtime.go's MainLoop does: every dispatched function runs
// to completion before the next is read, so State is never touched by two
// goroutines at once.
func (e *Engine) mainLoop(dispatch <-chan func(*State) error) error {
	if e.env.Log != nil {
		e.env.Log.Debug("agent: started dispatch loop")
	}
	for {
		select {
		case fun := <-dispatch:
			start := e.env.Now()
			err := fun(e.state)
			if err != nil {
				if e.env.Log != nil {
					e.env.Log.Error("agent: error during dispatch", "err", err)
				}
				e.env.Cancel(err)
			}
			if e.env.Log != nil {
				if elapsed := e.env.Now().Sub(start); elapsed > dispatchSlowThreshold {
					e.env.Log.Warn("agent: dispatch took a long time", "elapsed", elapsed)
				}
			}
		case <-e.env.Context.Done():
			e.state.Ogm.Stop()
			// releases the broadcast log's background goroutine started by
			// ranktable.New; no dispatched function runs after this point.
			e.state.Table.Close()
			cause := context.Cause(e.env.Context)
			if e.env.Log != nil {
				e.env.Log.Info("agent: stopped dispatch loop", "reason", cause)
			}
			if errors.Is(cause, context.Canceled) {
				return nil
			}
			return cause
		}
	}
}

// Stop requests an orderly shutdown of the dispatch loop.
func (e *Engine) Stop() {
	e.env.Cancel(errors.New("agent: stopped"))
}

// OnDatagram is the substrate's reception entry point: src is the one-hop
// sender of the UDP datagram carrying payload. It is safe to call from the
// substrate's own read goroutine; the actual table mutation is dispatched
// onto the single-threaded loop.
func (e *Engine) OnDatagram(src netip.Addr, payload []byte) {
	srcAddr, err := wire.AddressFromAddr(src)
	if err != nil {
		return
	}
	e.env.Dispatch(func(s *State) error {
		s.Ogm.OnDatagram(srcAddr, payload)
		return nil
	})
}

// NextHop answers a route-resolution query from any goroutine, blocking
// until the dispatch loop has serviced it.
func (e *Engine) NextHop(dest wire.Address) (wire.Address, bool) {
	v, err := e.env.DispatchWait(func(s *State) (any, error) {
		s.Resolver.Refresh()
		nh, ok := s.Resolver.NextHop(dest, s.Now())
		return nextHopResult{nh, ok}, nil
	})
	if err != nil {
		return wire.AddressNone, false
	}
	r := v.(nextHopResult)
	return r.addr, r.ok
}

type nextHopResult struct {
	addr wire.Address
	ok   bool
}

// SelectGateway answers a gateway-selection query the same way NextHop
// does.
func (e *Engine) SelectGateway() (wire.Address, bool) {
	v, err := e.env.DispatchWait(func(s *State) (any, error) {
		gw, ok := s.Resolver.SelectGateway(s.Now())
		return nextHopResult{gw, ok}, nil
	})
	if err != nil {
		return wire.AddressNone, false
	}
	r := v.(nextHopResult)
	return r.addr, r.ok
}

// RouteSnapshot is one row of a point-in-time routing table dump.
type RouteSnapshot struct {
	Destination wire.Address `json:"destination"`
	NextHop     wire.Address `json:"next_hop"`
	TQ          float64      `json:"tq"`
	Gateway     bool         `json:"gateway"`
}

// Routes answers a full routing-table dump from any goroutine, blocking
// until the dispatch loop has serviced it. It is meant for diagnostics
// (cmd's showroutes), not the data plane's per-packet path.
func (e *Engine) Routes() []RouteSnapshot {
	v, err := e.env.DispatchWait(func(s *State) (any, error) {
		now := s.Now()
		s.Resolver.Refresh()
		var out []RouteSnapshot
		for _, addr := range s.Table.Originators() {
			o := s.Table.Originator(addr)
			if o == nil || o.BestNextHop == wire.AddressNone {
				continue
			}
			if !s.Table.CheckBidirectional(o.BestNextHop, now) {
				continue
			}
			tq := 0.0
			if n, ok := o.Neighbors[o.BestNextHop]; ok {
				tq = n.TQ()
			}
			out = append(out, RouteSnapshot{
				Destination: addr,
				NextHop:     o.BestNextHop,
				TQ:          tq,
				Gateway:     o.Gateway.IsGateway,
			})
		}
		return out, nil
	})
	if err != nil {
		return nil
	}
	return v.([]RouteSnapshot)
}

// Diagnostics exposes the spec.md §7 error-handling counters (carried
// through ranktable/ogm's metric.Counter fields) over the same
// metric.Handler(metric.Exposed) debug endpoint pattern perf/vars.go wires
// up for the data plane.
func Diagnostics() http.Handler {
	return metric.Handler(metric.Exposed)
}

// RoutesHandler serves e's live routing table as JSON, for cmd's
// showroutes to fetch from a running agent's debug HTTP endpoint.
func RoutesHandler(e *Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.Routes())
	})
}
