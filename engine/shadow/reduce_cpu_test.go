package shadow

import (
	"math"
	"testing"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/kiln-engine/kiln/common"
)

const (
	testNear = 0.1
	testFar  = 500.0
)

// reduceTestUniforms builds uniforms for a square test camera with an
// identity light transform, so light space equals view space and expectations
// stay easy to state.
func reduceTestUniforms(width, height int, partitionCount uint32) *GPUReduceUniforms {
	proj := make([]float32, 16)
	common.Perspective(proj, math.Pi/2, 1.0, testNear, testFar)
	invProj := make([]float32, 16)
	common.Invert4(invProj, proj)
	identity := make([]float32, 16)
	common.Identity(identity)

	u := &GPUReduceUniforms{
		ScreenWidth:    uint32(width),
		ScreenHeight:   uint32(height),
		PartitionCount: partitionCount,
		Near:           testNear,
		Far:            testFar,
		VirtualFar:     DefaultVirtualFar,
		BlendFactor:    DefaultBlendFactor,
	}
	copy(u.InvProj[:], invProj)
	copy(u.LightFromView[:], identity)
	return u
}

// projectDepth maps a positive view-space distance to the raw depth value the
// test camera's projection would write to the depth buffer.
func projectDepth(zView float32) float32 {
	return testFar * (zView - testNear) / ((testFar - testNear) * zView)
}

// skyFrame builds a depth buffer filled with the far plane, whose linear
// depth sits beyond the virtual far limit and is therefore ignored.
func skyFrame(width, height int) []float32 {
	depth := make([]float32, width*height)
	for i := range depth {
		depth[i] = 1.0
	}
	return depth
}

func TestResetRestoresSentinels(t *testing.T) {
	var s ReduceState
	s.IntervalBeginBits.Store(OrderedBits(3))
	s.IntervalEndBits.Store(OrderedBits(7))
	s.Bounds[2].MinY.Store(BiasedBits(-4))
	s.Partitions[1] = GPUPartition{IntervalBegin: 1, IntervalEnd: 9}

	// Reset is idempotent: a second run lands in the same state.
	for run := 0; run < 2; run++ {
		s.Reset()

		if s.IntervalBeginBits.Load() != IntervalMinSentinel {
			t.Fatal("interval begin accumulator not back at its sentinel")
		}
		if s.IntervalEndBits.Load() != IntervalMaxSentinel {
			t.Fatal("interval end accumulator not back at its sentinel")
		}
		for i := range s.Bounds {
			if s.Bounds[i].MinY.Load() != IntervalMinSentinel || s.Bounds[i].MaxY.Load() != IntervalMaxSentinel {
				t.Fatalf("bounds accumulator %d not back at its sentinels", i)
			}
		}
		// Reset is per-frame accumulator work; the cascade table survives it.
		if s.Partitions[1].IntervalBegin != 1 || s.Partitions[1].IntervalEnd != 9 {
			t.Fatal("reset clobbered the partition table")
		}
	}
}

func TestReduceDepthRangeBracketsSamples(t *testing.T) {
	const width, height = 8, 8
	u := reduceTestUniforms(width, height, DefaultPartitionCount)
	depth := skyFrame(width, height)
	depth[3*width+2] = projectDepth(10)
	depth[6*width+5] = projectDepth(50)

	var s ReduceState
	s.Reset()
	s.ReduceDepthRange(depth, u, nil)

	begin := FloatFromOrdered(s.IntervalBeginBits.Load())
	end := FloatFromOrdered(s.IntervalEndBits.Load())
	if !approxEqual(begin, 10, 1e-2) {
		t.Fatalf("interval begin = %v, want 10", begin)
	}
	if !approxEqual(end, 50, 1e-2) {
		t.Fatalf("interval end = %v, want 50", end)
	}
}

func TestReduceDepthRangeIgnoresFarSky(t *testing.T) {
	const width, height = 8, 8
	u := reduceTestUniforms(width, height, DefaultPartitionCount)

	var s ReduceState
	s.Reset()
	s.ReduceDepthRange(skyFrame(width, height), u, nil)

	if s.IntervalBeginBits.Load() != IntervalMinSentinel || s.IntervalEndBits.Load() != IntervalMaxSentinel {
		t.Fatal("sky-only frame moved the interval accumulators")
	}
}

func TestComputePartitionIntervalsCoverage(t *testing.T) {
	u := reduceTestUniforms(8, 8, 3)

	var s ReduceState
	s.Reset()
	s.IntervalBeginBits.Store(OrderedBits(5))
	s.IntervalEndBits.Store(OrderedBits(80))
	s.ComputePartitionIntervals(u)

	if s.Partitions[0].IntervalBegin != u.Near {
		t.Fatalf("partition 0 begins at %v, want the near plane", s.Partitions[0].IntervalBegin)
	}
	if s.Partitions[2].IntervalEnd != u.VirtualFar {
		t.Fatalf("partition 2 ends at %v, want the virtual far", s.Partitions[2].IntervalEnd)
	}
	for i := 0; i < 2; i++ {
		if s.Partitions[i].IntervalEnd != s.Partitions[i+1].IntervalBegin {
			t.Fatalf("partitions %d and %d are not contiguous: %v != %v",
				i, i+1, s.Partitions[i].IntervalEnd, s.Partitions[i+1].IntervalBegin)
		}
		if s.Partitions[i].IntervalEnd <= s.Partitions[i].IntervalBegin {
			t.Fatalf("partition %d has a non-positive interval", i)
		}
	}
}

func TestComputePartitionIntervalsDegenerateFrameKeepsTable(t *testing.T) {
	u := reduceTestUniforms(8, 8, 2)

	var s ReduceState
	s.Partitions[0] = GPUPartition{IntervalBegin: 0.1, IntervalEnd: 30}
	s.Partitions[1] = GPUPartition{IntervalBegin: 30, IntervalEnd: 200}
	s.Reset()
	s.ComputePartitionIntervals(u)

	if s.Partitions[0].IntervalEnd != 30 || s.Partitions[1].IntervalBegin != 30 {
		t.Fatal("degenerate frame rewrote the previous cascade intervals")
	}
}

func TestComputePartitionIntervalsCustomBypass(t *testing.T) {
	u := reduceTestUniforms(8, 8, 3)
	u.UseCustomIntervals = 1
	u.CustomIntervals = [MaxPartitions + 1]float32{0.1, 15, 60, 200}

	var s ReduceState
	s.Reset()
	s.IntervalBeginBits.Store(OrderedBits(5))
	s.IntervalEndBits.Store(OrderedBits(80))
	s.ComputePartitionIntervals(u)

	want := []float32{0.1, 15, 60, 200}
	for i := 0; i < 3; i++ {
		if s.Partitions[i].IntervalBegin != want[i] || s.Partitions[i].IntervalEnd != want[i+1] {
			t.Fatalf("partition %d interval = [%v, %v], want [%v, %v]",
				i, s.Partitions[i].IntervalBegin, s.Partitions[i].IntervalEnd, want[i], want[i+1])
		}
	}
}

func TestReduceFrameCustomIntervalsSkipOutOfRangeSamples(t *testing.T) {
	const width, height = 8, 8
	u := reduceTestUniforms(width, height, 3)
	u.UseCustomIntervals = 1
	u.CustomIntervals = [MaxPartitions + 1]float32{5, 10, 20, 30}

	// One sample in front of the covered range, one beyond it, one inside
	// cascade 0. The covered range is the custom boundaries, not
	// [near, virtualFar), so the outer samples must not widen any box.
	depth := skyFrame(width, height)
	depth[0] = projectDepth(2)
	depth[1] = projectDepth(50)
	const insideX, insideY = 2, 2
	depth[insideY*width+insideX] = projectDepth(7)

	var s ReduceState
	parts := s.ReduceFrame(depth, u, nil)

	// Cascade 0's box collapses to the single in-range point.
	ndcX := (float32(insideX)+0.5)/width*2 - 1
	ndcY := 1 - (float32(insideY)+0.5)/height*2
	pos := common.TransformPoint(u.InvProj[:], ndcX, ndcY, depth[insideY*width+insideX])

	const tol = 1e-3
	for axis := range 3 {
		if diff := parts[0].Center[axis] - pos[axis]; diff < -tol || diff > tol {
			t.Fatalf("cascade 0 center axis %d = %v, want %v", axis, parts[0].Center[axis], pos[axis])
		}
		if parts[0].Extents[axis] > tol {
			t.Fatalf("cascade 0 extents axis %d = %v, want ~0; an out-of-range sample leaked in",
				axis, parts[0].Extents[axis])
		}
	}

	// The remaining cascades saw nothing at all.
	for i := 1; i < 3; i++ {
		if parts[i].Extents != [3]float32{} || parts[i].Center != [3]float32{} {
			t.Fatalf("cascade %d has extents %v center %v, want zeros", i, parts[i].Extents, parts[i].Center)
		}
	}
}

func TestReduceFrameBoundsAreConservative(t *testing.T) {
	const width, height = 16, 16
	u := reduceTestUniforms(width, height, 3)

	// A near cluster and a mid cluster, plus one lone far sample. Everything
	// else is sky.
	depth := skyFrame(width, height)
	samples := map[int]float32{
		1*width + 1:   2,
		1*width + 2:   3,
		2*width + 1:   2.5,
		8*width + 8:   45,
		8*width + 9:   55,
		14*width + 14: 180,
	}
	for i, z := range samples {
		depth[i] = projectDepth(z)
	}

	var s ReduceState
	parts := s.ReduceFrame(depth, u, nil)
	if len(parts) != 3 {
		t.Fatalf("got %d partitions, want 3", len(parts))
	}

	// Every in-range sample must land inside its cascade's finalized box.
	// The identity light transform makes light space equal view space.
	const tol = 1e-3
	for i, zView := range samples {
		x, y := i%width, i/width
		ndcX := (float32(x)+0.5)/width*2 - 1
		ndcY := 1 - (float32(y)+0.5)/height*2
		pos := common.TransformPoint(u.InvProj[:], ndcX, ndcY, depth[i])

		p := 2
		for c := 0; c < 2; c++ {
			if zView < parts[c].IntervalEnd {
				p = c
				break
			}
		}
		for axis := range 3 {
			lo := parts[p].Center[axis] - parts[p].Extents[axis] - tol
			hi := parts[p].Center[axis] + parts[p].Extents[axis] + tol
			if pos[axis] < lo || pos[axis] > hi {
				t.Fatalf("sample at view depth %v escapes cascade %d on axis %d: %v not in [%v, %v]",
					zView, p, axis, pos[axis], lo, hi)
			}
		}
	}
}

func TestReduceFrameEmptyCascadeHasZeroExtents(t *testing.T) {
	const width, height = 8, 8
	u := reduceTestUniforms(width, height, 3)

	// Only near geometry: the last cascade ends up empty.
	depth := skyFrame(width, height)
	depth[0] = projectDepth(1)
	depth[1] = projectDepth(2)

	var s ReduceState
	parts := s.ReduceFrame(depth, u, nil)

	last := parts[2]
	if last.Extents != [3]float32{} || last.Center != [3]float32{} {
		t.Fatalf("empty cascade has extents %v center %v, want zeros", last.Extents, last.Center)
	}
	if parts[0].Extents == [3]float32{} {
		t.Fatal("populated cascade reduced to zero extents")
	}
}

func TestReduceFrameParallelMatchesSerial(t *testing.T) {
	const width, height = 32, 32
	u := reduceTestUniforms(width, height, 3)

	depth := skyFrame(width, height)
	for i := 0; i < width*height; i += 7 {
		depth[i] = projectDepth(1 + float32(i%180))
	}

	var serial ReduceState
	serialParts := serial.ReduceFrame(depth, u, nil)

	pool := worker.NewDynamicWorkerPool(4, 256, 1*time.Second)
	var parallel ReduceState
	parallelParts := parallel.ReduceFrame(depth, u, pool)

	// Min/max folding is order-independent, so the results match exactly.
	for i := range serialParts {
		if serialParts[i] != parallelParts[i] {
			t.Fatalf("cascade %d differs between serial and parallel runs:\n%+v\n%+v",
				i, serialParts[i], parallelParts[i])
		}
	}
}

func TestReduceFrameAfterDegenerateFrame(t *testing.T) {
	const width, height = 8, 8
	u := reduceTestUniforms(width, height, 2)

	depth := skyFrame(width, height)
	depth[0] = projectDepth(5)
	depth[1] = projectDepth(90)

	var s ReduceState
	s.ReduceFrame(depth, u, nil)
	prevBoundary := s.Partitions[0].IntervalEnd

	// An all-sky frame keeps the previous intervals but empties the boxes.
	parts := s.ReduceFrame(skyFrame(width, height), u, nil)

	if parts[0].IntervalEnd != prevBoundary {
		t.Fatalf("degenerate frame moved the cascade boundary: %v -> %v", prevBoundary, parts[0].IntervalEnd)
	}
	for i := range parts {
		if parts[i].Extents != [3]float32{} {
			t.Fatalf("degenerate frame left cascade %d with extents %v", i, parts[i].Extents)
		}
	}
}
