package shadow

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestOrderedBitsPreservesOrdering(t *testing.T) {
	values := []float32{0, 0.001, 0.5, 1, 2.75, 100, 1023.5, 3.0e38}
	for i := 1; i < len(values); i++ {
		if OrderedBits(values[i-1]) >= OrderedBits(values[i]) {
			t.Fatalf("OrderedBits(%v) >= OrderedBits(%v), ordering broken", values[i-1], values[i])
		}
	}
	if OrderedBits(-5) != 0 {
		t.Fatalf("OrderedBits(-5) = %#x, want 0", OrderedBits(-5))
	}
}

func TestOrderedBitsRoundtrip(t *testing.T) {
	for _, v := range []float32{0, 0.125, 1, 42.5, 1e6} {
		if got := FloatFromOrdered(OrderedBits(v)); got != v {
			t.Fatalf("FloatFromOrdered(OrderedBits(%v)) = %v", v, got)
		}
	}
}

func TestBiasedBitsHandlesNegativeCoordinates(t *testing.T) {
	values := []float32{-1000, -512.5, -1, 0, 1, 512.5, 1000}
	for i := 1; i < len(values); i++ {
		if BiasedBits(values[i-1]) >= BiasedBits(values[i]) {
			t.Fatalf("BiasedBits(%v) >= BiasedBits(%v), ordering broken", values[i-1], values[i])
		}
	}
	for _, v := range values {
		if got := FloatFromBiased(BiasedBits(v)); got != v {
			t.Fatalf("FloatFromBiased(BiasedBits(%v)) = %v", v, got)
		}
	}
}

func TestSentinelsOrderBelowAndAboveAllSamples(t *testing.T) {
	// Any in-range encoded sample must replace both sentinels.
	sample := OrderedBits(0.1)
	if sample >= IntervalMinSentinel {
		t.Fatal("sample does not order below the min sentinel")
	}
	if sample <= IntervalMaxSentinel {
		t.Fatal("sample does not order above the max sentinel")
	}
	biased := BiasedBits(-PositionBias + 1)
	if biased >= IntervalMinSentinel || biased <= IntervalMaxSentinel {
		t.Fatal("biased sample does not replace the sentinels")
	}
}

func TestAtomicMinMaxBitsSerial(t *testing.T) {
	var accMin, accMax atomic.Uint32
	accMin.Store(IntervalMinSentinel)
	accMax.Store(IntervalMaxSentinel)

	for _, v := range []float32{5, 2, 9, 2.5, 7} {
		AtomicMinBits(&accMin, OrderedBits(v))
		AtomicMaxBits(&accMax, OrderedBits(v))
	}

	if got := FloatFromOrdered(accMin.Load()); got != 2 {
		t.Fatalf("min accumulator = %v, want 2", got)
	}
	if got := FloatFromOrdered(accMax.Load()); got != 9 {
		t.Fatalf("max accumulator = %v, want 9", got)
	}
}

func TestAtomicMinMaxBitsConcurrent(t *testing.T) {
	var accMin, accMax atomic.Uint32
	accMin.Store(IntervalMinSentinel)
	accMax.Store(IntervalMaxSentinel)

	const goroutines = 16
	const perGoroutine = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				v := float32(g*perGoroutine+i) + 1
				AtomicMinBits(&accMin, OrderedBits(v))
				AtomicMaxBits(&accMax, OrderedBits(v))
			}
		}(g)
	}
	wg.Wait()

	if got := FloatFromOrdered(accMin.Load()); got != 1 {
		t.Fatalf("concurrent min = %v, want 1", got)
	}
	if got := FloatFromOrdered(accMax.Load()); got != goroutines*perGoroutine {
		t.Fatalf("concurrent max = %v, want %v", got, goroutines*perGoroutine)
	}
}
