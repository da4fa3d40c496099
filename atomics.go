package peernet

import "sync/atomic"

// Thin wrappers over sync/atomic giving the bookkeeping fields on
// OutPacket and baseChannel named types instead of bare int32/uint64,
// matching the lock-free counter style used throughout the channels
// and the peer retransmission sweep.

type atomicBool struct{ v atomic.Bool }

func (b *atomicBool) Load() bool       { return b.v.Load() }
func (b *atomicBool) Store(val bool)   { b.v.Store(val) }
func (b *atomicBool) Swap(val bool) bool { return b.v.Swap(val) }

type atomicInt32 struct{ v atomic.Int32 }

func (i *atomicInt32) Load() int32      { return i.v.Load() }
func (i *atomicInt32) Store(val int32)  { i.v.Store(val) }
func (i *atomicInt32) Add(delta int32) int32 { return i.v.Add(delta) }
func (i *atomicInt32) CompareAndSwap(old, new int32) bool {
	return i.v.CompareAndSwap(old, new)
}

type atomicUint64 struct{ v atomic.Uint64 }

func (u *atomicUint64) Load() uint64     { return u.v.Load() }
func (u *atomicUint64) Store(val uint64) { u.v.Store(val) }
func (u *atomicUint64) Add(delta uint64) uint64 { return u.v.Add(delta) }
func (u *atomicUint64) CompareAndSwap(old, new uint64) bool {
	return u.v.CompareAndSwap(old, new)
}
