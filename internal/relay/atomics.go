package relay

import "sync/atomic"

// atomicState is a single-writer, relaxed-read atomic session state;
// readers tolerate a stale value.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) Store(s State) { a.v.Store(int32(s)) }
func (a *atomicState) Load() State   { return State(a.v.Load()) }

type atomicBool struct {
	v atomic.Bool
}

func (a *atomicBool) Store(b bool) { a.v.Store(b) }
func (a *atomicBool) Load() bool   { return a.v.Load() }

// CompareAndSwap stores new iff the current value is old, reporting whether
// it did. The claim procedure does not use it: Registry.Claim checks the
// claimed flag and removes the session under the holding lock.
func (a *atomicBool) CompareAndSwap(old, new bool) bool { return a.v.CompareAndSwap(old, new) }

type atomicInt32 struct {
	v atomic.Int32
}

func (a *atomicInt32) Store(n int32) { a.v.Store(n) }
func (a *atomicInt32) Load() int32   { return a.v.Load() }
