package shadow

import (
	"math"
	"sync/atomic"
)

// PositionBias is the fixed offset added to light-space coordinates before
// encoding them as ordered bits. Integer atomic min/max only orders IEEE-754
// bit patterns correctly for non-negative floats, so signed coordinates are
// shifted into the positive range first and shifted back on readback. Scenes
// whose light-space extent exceeds this offset will mis-order negative
// coordinates; raise the bias if that ever applies.
const PositionBias float32 = 1024.0

// IntervalMinSentinel is the initial bit pattern for an atomic minimum
// accumulator: the largest finite float32, so any real sample replaces it.
var IntervalMinSentinel = math.Float32bits(math.MaxFloat32)

// IntervalMaxSentinel is the initial bit pattern for an atomic maximum
// accumulator: zero, below any valid encoded sample.
const IntervalMaxSentinel uint32 = 0

// OrderedBits reinterprets a non-negative float32 as a uint32 whose integer
// ordering matches the float ordering. Negative inputs are clamped to zero;
// callers with signed values must apply PositionBias first.
//
// Parameters:
//   - v: the non-negative float value to encode
//
// Returns:
//   - uint32: the order-preserving bit pattern
func OrderedBits(v float32) uint32 {
	if v < 0 {
		return 0
	}
	return math.Float32bits(v)
}

// FloatFromOrdered decodes a bit pattern produced by OrderedBits back to its
// float32 value.
//
// Parameters:
//   - bits: the order-preserving bit pattern
//
// Returns:
//   - float32: the decoded value
func FloatFromOrdered(bits uint32) float32 {
	return math.Float32frombits(bits)
}

// BiasedBits encodes a possibly negative float32 as an order-preserving bit
// pattern by shifting it into the positive range with PositionBias first.
//
// Parameters:
//   - v: the value to encode (must be greater than -PositionBias)
//
// Returns:
//   - uint32: the order-preserving bit pattern of the shifted value
func BiasedBits(v float32) uint32 {
	return OrderedBits(v + PositionBias)
}

// FloatFromBiased decodes a bit pattern produced by BiasedBits, removing the
// PositionBias shift.
//
// Parameters:
//   - bits: the order-preserving bit pattern of the shifted value
//
// Returns:
//   - float32: the decoded value with the bias removed
func FloatFromBiased(bits uint32) float32 {
	return FloatFromOrdered(bits) - PositionBias
}

// AtomicMinBits lowers the accumulator to the given bit pattern if it orders
// below the current value. Go has no integer atomic min, so this loops on
// compare-and-swap the way the GPU's atomicMin collapses contended writes.
//
// Parameters:
//   - a: the accumulator holding an ordered bit pattern
//   - bits: the candidate bit pattern
func AtomicMinBits(a *atomic.Uint32, bits uint32) {
	for {
		cur := a.Load()
		if bits >= cur {
			return
		}
		if a.CompareAndSwap(cur, bits) {
			return
		}
	}
}

// AtomicMaxBits raises the accumulator to the given bit pattern if it orders
// above the current value.
//
// Parameters:
//   - a: the accumulator holding an ordered bit pattern
//   - bits: the candidate bit pattern
func AtomicMaxBits(a *atomic.Uint32, bits uint32) {
	for {
		cur := a.Load()
		if bits <= cur {
			return
		}
		if a.CompareAndSwap(cur, bits) {
			return
		}
	}
}
