package shadow

import (
	"fmt"
	"math"

	"github.com/kiln-engine/kiln/common"
)

// MaxPartitions is the fixed upper bound on cascade partitions compiled into
// the WGSL kernels. The runtime partition count is carried in the reduction
// uniforms and may be anything from 1 to MaxPartitions.
const MaxPartitions = 8

// DefaultPartitionCount is the cascade count used when a scene does not
// configure one. Three cascades cover most outdoor scenes well.
const DefaultPartitionCount = 3

// DefaultBlendFactor is the default mix between the uniform and logarithmic
// split schemes when deriving partition intervals. 0 is fully uniform, 1 is
// fully logarithmic.
const DefaultBlendFactor float32 = 0.5

// DefaultVirtualFar is the default far limit for shadow partitioning. Depth
// samples beyond it are ignored by the reductions; the last partition's
// interval always ends here.
const DefaultVirtualFar float32 = 200.0

// Partition describes one shadow cascade: a linear-depth interval of the
// camera frustum plus the light-space bounding box of the depth samples that
// fell inside it. Extents and center are conservative; a partition that
// received no samples in a frame has zero extents.
type Partition struct {
	Extents       [3]float32 // light-space half-extents of the bounding box
	IntervalBegin float32    // linear view-space depth where the cascade starts
	Center        [3]float32 // light-space center of the bounding box
	IntervalEnd   float32    // linear view-space depth where the cascade ends
}

// ComputeIntervals derives the cascade split boundaries from a reduced global
// depth range using a blend of uniform and logarithmic split schemes:
//
//	uniform_split(i) = min + (max - min) * i/N
//	log_split(i)     = min * (max/min)^(i/N)
//	boundary(i)      = lerp(uniform_split(i), log_split(i), blend)
//
// The first boundary is forced to nearPlane and the last to virtualFar so the
// cascades always cover the whole camera range even though the reduced depth
// range only spans visible geometry.
//
// Parameters:
//   - minZ, maxZ: the reduced global linear depth range
//   - count: the number of partitions (1 to MaxPartitions)
//   - blend: mix factor between uniform (0) and logarithmic (1) splits
//   - nearPlane: forced begin of partition 0
//   - virtualFar: forced end of partition count-1
//
// Returns:
//   - [MaxPartitions + 1]float32: count+1 boundaries; entries past count+1 are zero
func ComputeIntervals(minZ, maxZ float32, count int, blend, nearPlane, virtualFar float32) [MaxPartitions + 1]float32 {
	var bounds [MaxPartitions + 1]float32

	bounds[0] = nearPlane
	for i := 1; i < count; i++ {
		frac := float32(i) / float32(count)
		uniformSplit := minZ + (maxZ-minZ)*frac
		logSplit := minZ * float32(math.Pow(float64(maxZ/minZ), float64(frac)))
		bounds[i] = common.Lerp(uniformSplit, logSplit, blend)
	}
	bounds[count] = virtualFar

	return bounds
}

// ValidateCustomIntervals checks externally supplied cascade boundaries for
// use in place of the computed split. Boundaries must be count+1 strictly
// increasing values.
//
// Parameters:
//   - boundaries: the candidate split boundaries
//   - count: the partition count the boundaries must describe
//
// Returns:
//   - error: nil if the boundaries are usable
func ValidateCustomIntervals(boundaries []float32, count int) error {
	if count < 1 || count > MaxPartitions {
		return fmt.Errorf("partition count %d out of range [1, %d]", count, MaxPartitions)
	}
	if len(boundaries) != count+1 {
		return fmt.Errorf("expected %d boundaries for %d partitions, got %d", count+1, count, len(boundaries))
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return fmt.Errorf("boundaries must be strictly increasing: boundary %d (%v) <= boundary %d (%v)",
				i, boundaries[i], i-1, boundaries[i-1])
		}
	}
	return nil
}

// LinearizeDepth converts a non-linear depth buffer sample in [0, 1] to a
// positive view-space distance, for the reverse of the Perspective projection
// used by the renderer (WebGPU Z in [0, 1]).
//
// Parameters:
//   - d: the raw depth sample
//   - near, far: the camera's projection clip planes
//
// Returns:
//   - float32: the linear view-space depth
func LinearizeDepth(d, near, far float32) float32 {
	return near * far / (far - d*(far-near))
}
