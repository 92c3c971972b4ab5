package shadow

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/kiln-engine/kiln/common"
)

// ReduceState holds the host-side accumulators and partition table for one
// shadow partitioning pass, mirroring the three GPU buffers the kernels bind.
// It is the CPU reference for the five-stage chain: validation, headless
// runs, and tests all go through this path. The same state can be reused
// across frames; Reset reinitializes the accumulators but deliberately leaves
// the partition table alone so a degenerate frame falls back to the previous
// frame's cascades.
type ReduceState struct {
	// Global linear depth interval, ordered float bits.
	IntervalBeginBits atomic.Uint32
	IntervalEndBits   atomic.Uint32

	// Per-cascade light-space bounding box, biased ordered float bits.
	Bounds [MaxPartitions]BoundsAccumulator

	// The cascade table the stages converge on.
	Partitions [MaxPartitions]GPUPartition
}

// BoundsAccumulator is the CPU mirror of one cascade's atomic bounding box
// accumulator: six ordered-bit extrema in light space.
type BoundsAccumulator struct {
	MinX, MinY, MinZ atomic.Uint32
	MaxX, MaxY, MaxZ atomic.Uint32
}

// Reset runs the accumulator reset stage: every accumulator goes back to its
// sentinel so any real sample replaces it. The partition table is not
// touched; a frame whose reductions find nothing keeps the previous cascades.
func (s *ReduceState) Reset() {
	s.IntervalBeginBits.Store(IntervalMinSentinel)
	s.IntervalEndBits.Store(IntervalMaxSentinel)
	for i := range s.Bounds {
		s.Bounds[i].MinX.Store(IntervalMinSentinel)
		s.Bounds[i].MinY.Store(IntervalMinSentinel)
		s.Bounds[i].MinZ.Store(IntervalMinSentinel)
		s.Bounds[i].MaxX.Store(IntervalMaxSentinel)
		s.Bounds[i].MaxY.Store(IntervalMaxSentinel)
		s.Bounds[i].MaxZ.Store(IntervalMaxSentinel)
	}
}

// ReduceDepthRange runs the depth range reduction stage over a raw depth
// buffer: every sample is linearized and folded into the global (min, max)
// interval accumulators. Samples at or beyond the virtual far limit and
// samples in front of the near plane are ignored. Rows are reduced in
// parallel on the provided worker pool; pass nil to run serially.
//
// Parameters:
//   - depth: raw depth samples in [0, 1], row-major, width*height entries
//   - u: the reduction uniforms (near, far, virtual far, screen dimensions)
//   - pool: worker pool for parallel row reduction, or nil for serial execution
func (s *ReduceState) ReduceDepthRange(depth []float32, u *GPUReduceUniforms, pool worker.DynamicWorkerPool) {
	width := int(u.ScreenWidth)

	reduceRow := func(y int) {
		rowMin := float32(0)
		rowMax := float32(0)
		seen := false
		for x := 0; x < width; x++ {
			z := LinearizeDepth(depth[y*width+x], u.Near, u.Far)
			if z < u.Near || z >= u.VirtualFar {
				continue
			}
			if !seen {
				rowMin, rowMax = z, z
				seen = true
				continue
			}
			if z < rowMin {
				rowMin = z
			}
			if z > rowMax {
				rowMax = z
			}
		}
		// One atomic contribution per row, matching the per-workgroup
		// contribution the GPU makes after its local tree reduction.
		if seen {
			AtomicMinBits(&s.IntervalBeginBits, OrderedBits(rowMin))
			AtomicMaxBits(&s.IntervalEndBits, OrderedBits(rowMax))
		}
	}

	s.forEachRow(int(u.ScreenHeight), pool, reduceRow)
}

// ComputePartitionIntervals runs the partition interval calculator stage:
// the reduced global depth range is split into cascade intervals and written
// into the partition table. With UseCustomIntervals set the computed split is
// bypassed and CustomIntervals is used verbatim. A degenerate frame, one
// where the reductions saw no usable sample, leaves the table untouched.
//
// Parameters:
//   - u: the reduction uniforms (partition count, split parameters)
func (s *ReduceState) ComputePartitionIntervals(u *GPUReduceUniforms) {
	beginBits := s.IntervalBeginBits.Load()
	endBits := s.IntervalEndBits.Load()
	if beginBits == IntervalMinSentinel || endBits == IntervalMaxSentinel {
		return
	}

	count := int(u.PartitionCount)
	var bounds [MaxPartitions + 1]float32
	if u.UseCustomIntervals != 0 {
		bounds = u.CustomIntervals
	} else {
		minZ := FloatFromOrdered(beginBits)
		maxZ := FloatFromOrdered(endBits)
		bounds = ComputeIntervals(minZ, maxZ, count, u.BlendFactor, u.Near, u.VirtualFar)
	}

	for i := 0; i < count; i++ {
		s.Partitions[i].IntervalBegin = bounds[i]
		s.Partitions[i].IntervalEnd = bounds[i+1]
	}
}

// ReducePartitionBounds runs the per-partition bounds reduction stage: every
// depth sample is classified into a cascade by its linear depth, unprojected
// to view space, carried into light space, and folded into that cascade's
// bounding box accumulators. Requires ComputePartitionIntervals to have run
// this frame (or a previous frame's table to still be valid). Rows run in
// parallel on the provided worker pool; pass nil to run serially.
//
// Parameters:
//   - depth: raw depth samples in [0, 1], row-major, width*height entries
//   - u: the reduction uniforms (matrices, screen dimensions, partition count)
//   - pool: worker pool for parallel row reduction, or nil for serial execution
func (s *ReduceState) ReducePartitionBounds(depth []float32, u *GPUReduceUniforms, pool worker.DynamicWorkerPool) {
	width := int(u.ScreenWidth)
	count := int(u.PartitionCount)
	invProj := u.InvProj[:]
	lightFromView := u.LightFromView[:]

	// Samples outside the covered interval are skipped, not clamped into the
	// edge cascades. With custom intervals the covered range can be narrower
	// than [near, virtualFar).
	rangeBegin := s.Partitions[0].IntervalBegin
	rangeEnd := s.Partitions[count-1].IntervalEnd

	reduceRow := func(y int) {
		// Row-local boxes, one atomic contribution set per cascade per row.
		var rowMin, rowMax [MaxPartitions][3]float32
		var rowSeen [MaxPartitions]bool

		for x := 0; x < width; x++ {
			d := depth[y*width+x]
			z := LinearizeDepth(d, u.Near, u.Far)
			if z < rangeBegin || z >= rangeEnd {
				continue
			}

			p := s.classify(z, count)

			ndcX := (float32(x)+0.5)/float32(width)*2 - 1
			ndcY := 1 - (float32(y)+0.5)/float32(u.ScreenHeight)*2
			viewPos := common.TransformPoint(invProj, ndcX, ndcY, d)
			lightPos := common.TransformPoint(lightFromView, viewPos[0], viewPos[1], viewPos[2])

			if !rowSeen[p] {
				rowMin[p], rowMax[p] = lightPos, lightPos
				rowSeen[p] = true
				continue
			}
			for axis := range 3 {
				if lightPos[axis] < rowMin[p][axis] {
					rowMin[p][axis] = lightPos[axis]
				}
				if lightPos[axis] > rowMax[p][axis] {
					rowMax[p][axis] = lightPos[axis]
				}
			}
		}

		for p := 0; p < count; p++ {
			if !rowSeen[p] {
				continue
			}
			acc := &s.Bounds[p]
			AtomicMinBits(&acc.MinX, BiasedBits(rowMin[p][0]))
			AtomicMinBits(&acc.MinY, BiasedBits(rowMin[p][1]))
			AtomicMinBits(&acc.MinZ, BiasedBits(rowMin[p][2]))
			AtomicMaxBits(&acc.MaxX, BiasedBits(rowMax[p][0]))
			AtomicMaxBits(&acc.MaxY, BiasedBits(rowMax[p][1]))
			AtomicMaxBits(&acc.MaxZ, BiasedBits(rowMax[p][2]))
		}
	}

	s.forEachRow(int(u.ScreenHeight), pool, reduceRow)
}

// FinalizePartitions runs the partition extent finalizer stage: each
// cascade's accumulated bounding box bits are decoded into a light-space
// center and half-extents. A cascade that received no samples gets zero
// extents and a zero center.
//
// Parameters:
//   - u: the reduction uniforms (partition count)
func (s *ReduceState) FinalizePartitions(u *GPUReduceUniforms) {
	for i := 0; i < int(u.PartitionCount); i++ {
		acc := &s.Bounds[i]
		minXBits := acc.MinX.Load()
		maxXBits := acc.MaxX.Load()
		if minXBits == IntervalMinSentinel || maxXBits == IntervalMaxSentinel {
			s.Partitions[i].Center = [3]float32{}
			s.Partitions[i].Extents = [3]float32{}
			continue
		}

		bbMin := [3]float32{
			FloatFromBiased(minXBits),
			FloatFromBiased(acc.MinY.Load()),
			FloatFromBiased(acc.MinZ.Load()),
		}
		bbMax := [3]float32{
			FloatFromBiased(maxXBits),
			FloatFromBiased(acc.MaxY.Load()),
			FloatFromBiased(acc.MaxZ.Load()),
		}
		for axis := range 3 {
			s.Partitions[i].Center[axis] = (bbMin[axis] + bbMax[axis]) * 0.5
			s.Partitions[i].Extents[axis] = (bbMax[axis] - bbMin[axis]) * 0.5
		}
	}
}

// ReduceFrame runs the full five-stage chain over one depth buffer in order:
// reset, depth range reduction, interval calculation, bounds reduction, and
// extent finalization.
//
// Parameters:
//   - depth: raw depth samples in [0, 1], row-major, width*height entries
//   - u: the reduction uniforms
//   - pool: worker pool for the scanning stages, or nil for serial execution
//
// Returns:
//   - []GPUPartition: the finalized cascades, length u.PartitionCount
func (s *ReduceState) ReduceFrame(depth []float32, u *GPUReduceUniforms, pool worker.DynamicWorkerPool) []GPUPartition {
	s.Reset()
	s.ReduceDepthRange(depth, u, pool)
	s.ComputePartitionIntervals(u)
	s.ReducePartitionBounds(depth, u, pool)
	s.FinalizePartitions(u)
	return s.Partitions[:u.PartitionCount]
}

// classify maps a linear depth to its cascade index: the first partition
// whose interval end exceeds it, clamped to the last partition.
func (s *ReduceState) classify(z float32, count int) int {
	for p := 0; p < count-1; p++ {
		if z < s.Partitions[p].IntervalEnd {
			return p
		}
	}
	return count - 1
}

// forEachRow runs fn for every row index, one worker task per row when a pool
// is provided. Rows only touch the shared state through atomics, so the
// WaitGroup is the only barrier needed.
func (s *ReduceState) forEachRow(height int, pool worker.DynamicWorkerPool, fn func(y int)) {
	if pool == nil {
		for y := 0; y < height; y++ {
			fn(y)
		}
		return
	}

	var wg sync.WaitGroup
	for y := 0; y < height; y++ {
		wg.Add(1)
		row := y
		pool.SubmitTask(worker.Task{
			ID: row,
			Do: func() (any, error) {
				defer wg.Done()
				fn(row)
				return nil, nil
			},
		})
	}
	wg.Wait()
}
