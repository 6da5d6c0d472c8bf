package agent

import (
	"fmt"
	"time"
)

// Dispatch runs fun on the dispatch loop's goroutine without waiting for it
// to complete.
func (e *Env) Dispatch(fun func(*State) error) {
	defer func() {
		if r := recover(); r != nil {
			e.Cancel(fmt.Errorf("agent: panic in dispatched function: %v", r))
		}
	}()
	e.DispatchChannel <- fun
}

// DispatchWait runs fun on the dispatch loop's goroutine and blocks until
// it completes, or the Env's Context is done.
func (e *Env) DispatchWait(fun func(*State) (any, error)) (any, error) {
	type result struct {
		val any
		err error
	}
	ret := make(chan result, 1)
	e.DispatchChannel <- func(s *State) error {
		v, err := fun(s)
		ret <- result{v, err}
		return err
	}
	select {
	case r := <-ret:
		return r.val, r.err
	case <-e.Context.Done():
		return nil, e.Context.Err()
	}
}

// ScheduleTask runs fun on the dispatch loop after delay.
func (e *Env) ScheduleTask(fun func(*State) error, delay time.Duration) {
	time.AfterFunc(delay, func() {
		e.Dispatch(fun)
	})
}

func (e *Env) repeatedTask(fun func(*State) error, delay time.Duration) {
	for e.Context.Err() == nil {
		e.Dispatch(fun)
		time.Sleep(delay)
	}
}

// RepeatTask runs fun on the dispatch loop every delay, until the Env's
// Context is cancelled.
func (e *Env) RepeatTask(fun func(*State) error, delay time.Duration) {
	go e.repeatedTask(fun, delay)
}
