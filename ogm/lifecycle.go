package ogm

import "github.com/batmaniv/batmand/ranktable"

// ranktablePurgeInterval is how often the purge timer fires. spec.md §5
// only requires purge to run at least once per PurgeTimeout; running ten
// times as often keeps stale entries from lingering needlessly long.
const ranktablePurgeInterval = ranktable.PurgeTimeout / 10

// Start arms the OGM emission timer and the table purge timer (spec.md
// §5: two of the three event sources; the third is OnDatagram, driven by
// the substrate). Both re-arm themselves from within their own callback,
// per spec.md §5's "suspension points: none" — there is no blocking loop
// here, only scheduled callbacks.
func (e *Engine) Start() {
	e.stopped.Store(false)
	e.scheduleEmit()
	e.schedulePurge()
}

// Stop ends the emission and purge chains: a pending emission or purge
// callback that fires after Stop returns without emitting, purging or
// re-arming. Delayed forwards already scheduled by forward are not
// affected and are still broadcast (spec.md §5).
func (e *Engine) Stop() {
	e.stopped.Store(true)
}

func (e *Engine) scheduleEmit() {
	e.Transport.ScheduleAfter(e.NextEmissionDelay(), func() {
		if e.stopped.Load() {
			return
		}
		e.Emit()
		e.scheduleEmit()
	})
}

func (e *Engine) schedulePurge() {
	e.Transport.ScheduleAfter(ranktablePurgeInterval, func() {
		if e.stopped.Load() {
			return
		}
		e.Table.Purge(e.Transport.Now())
		e.schedulePurge()
	})
}
