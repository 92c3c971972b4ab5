package shadow

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// PartitionResetKernelSource is the WGSL kernel for the accumulator reset
// stage: sentinel-initializes the depth interval and every partition's bounds
// accumulator before the frame's reductions run.
//
//go:embed assets/partition_reset.wgsl
var PartitionResetKernelSource string

// DepthBoundsKernelSource is the WGSL kernel for the depth range reduction
// stage: scans the scene depth buffer and reduces it to a single global
// (min, max) linear depth interval. Built with the MSAA define when the depth
// texture is multisampled.
//
//go:embed assets/depth_bounds.wgsl
var DepthBoundsKernelSource string

// PartitionIntervalsKernelSource is the WGSL kernel for the partition interval
// calculator stage: derives each cascade's depth interval from the reduced
// global range using the blended uniform/logarithmic split.
//
//go:embed assets/partition_intervals.wgsl
var PartitionIntervalsKernelSource string

// PartitionBoundsKernelSource is the WGSL kernel for the per-partition bounds
// reduction stage: classifies every depth sample into a cascade and reduces a
// light-space bounding box per cascade. Built with the MSAA define when the
// depth texture is multisampled.
//
//go:embed assets/partition_bounds.wgsl
var PartitionBoundsKernelSource string

// PartitionFinalizeKernelSource is the WGSL kernel for the partition extent
// finalizer stage: converts each cascade's accumulated bounding box bits into
// a light-space center and half-extents.
//
//go:embed assets/partition_finalize.wgsl
var PartitionFinalizeKernelSource string

// MSAADefine is the pre-processor define name that selects the multisampled
// depth texture variant of the reduction kernels.
const MSAADefine = "MSAA"

// ReductionGroupsX and ReductionGroupsY are the dispatch dimensions for the
// depth scanning stages. The group count is fixed regardless of resolution;
// each thread covers the screen through a strided loop.
const (
	ReductionGroupsX = 8
	ReductionGroupsY = 8
)

// ReductionWorkgroupDim is the X and Y thread count per reduction workgroup,
// matching the @workgroup_size attribute of the scanning kernels.
const ReductionWorkgroupDim = 8

// IntervalBufferSize is the byte size of the global depth interval buffer:
// two atomic u32 accumulators holding ordered float bits.
const IntervalBufferSize = 8

// BoundsBufferSize is the byte size of the bounds accumulator buffer: six
// atomic u32 accumulators per partition slot.
const BoundsBufferSize = MaxPartitions * 6 * 4

// PartitionBufferSize is the byte size of the partition table buffer.
const PartitionBufferSize = MaxPartitions * 32

// GPUPartition is the GPU-aligned representation of one shadow cascade.
// Matches the WGSL Partition struct layout exactly. Size: 32 bytes.
//
// Layout:
//
//	vec3<f32> extents         (12 bytes, offset  0)
//	f32       interval_begin  ( 4 bytes, offset 12)
//	vec3<f32> center          (12 bytes, offset 16)
//	f32       interval_end    ( 4 bytes, offset 28)
type GPUPartition struct {
	Extents       [3]float32
	IntervalBegin float32
	Center        [3]float32
	IntervalEnd   float32
}

// Size returns the size of the GPUPartition struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (32)
func (p *GPUPartition) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes the GPUPartition struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload
func (p *GPUPartition) Marshal() []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(p.Extents[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(p.Extents[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(p.Extents[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(p.IntervalBegin))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(p.Center[0]))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(p.Center[1]))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(p.Center[2]))
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(p.IntervalEnd))
	return buf
}

// UnmarshalGPUPartition decodes one GPUPartition from a 32-byte buffer, the
// inverse of Marshal. Used when reading the partition table back from the GPU.
//
// Parameters:
//   - buf: at least 32 bytes of partition data
//
// Returns:
//   - GPUPartition: the decoded partition
func UnmarshalGPUPartition(buf []byte) GPUPartition {
	var p GPUPartition
	p.Extents[0] = math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	p.Extents[1] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
	p.Extents[2] = math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))
	p.IntervalBegin = math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16]))
	p.Center[0] = math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))
	p.Center[1] = math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24]))
	p.Center[2] = math.Float32frombits(binary.LittleEndian.Uint32(buf[24:28]))
	p.IntervalEnd = math.Float32frombits(binary.LittleEndian.Uint32(buf[28:32]))
	return p
}

// GPUReduceUniformsSource is the canonical WGSL definition of the
// ReduceUniforms struct shared by every reduction kernel.
// Matches GPUReduceUniforms layout exactly (208 bytes).
//
//go:embed assets/reduce_uniforms.wgsl
var GPUReduceUniformsSource string

// GPUReduceUniforms is the uniform block consumed by the shadow partitioning
// kernels. Matches the WGSL ReduceUniforms struct layout exactly (see
// GPUReduceUniformsSource). Size: 208 bytes.
//
// Layout:
//
//	mat4x4<f32> inv_proj              ( 64 bytes, offset   0)
//	mat4x4<f32> light_from_view       ( 64 bytes, offset  64)
//	u32         screen_width          (  4 bytes, offset 128)
//	u32         screen_height         (  4 bytes, offset 132)
//	u32         partition_count       (  4 bytes, offset 136)
//	u32         use_custom_intervals  (  4 bytes, offset 140)
//	f32         near                  (  4 bytes, offset 144)
//	f32         far                   (  4 bytes, offset 148)
//	f32         virtual_far           (  4 bytes, offset 152)
//	f32         blend_factor          (  4 bytes, offset 156)
//	array<vec4<f32>, 3> custom_intervals ( 48 bytes, offset 160)
type GPUReduceUniforms struct {
	InvProj            [16]float32 // camera inverse projection, for unprojection
	LightFromView      [16]float32 // light-space matrix times inverse view
	ScreenWidth        uint32
	ScreenHeight       uint32
	PartitionCount     uint32
	UseCustomIntervals uint32 // 1 = bypass the computed split with CustomIntervals
	Near               float32
	Far                float32 // camera projection far, for depth linearization
	VirtualFar         float32 // shadow range limit; samples beyond it are ignored
	BlendFactor        float32
	CustomIntervals    [MaxPartitions + 1]float32
}

// Size returns the size of the GPUReduceUniforms struct in bytes as laid out
// on the GPU.
//
// Returns:
//   - int: the struct size in bytes (208)
func (u *GPUReduceUniforms) Size() int {
	return 208
}

// Marshal serializes GPUReduceUniforms into a 208-byte little-endian buffer
// suitable for GPU upload.
//
// Returns:
//   - []byte: 208-byte buffer ready for GPU upload
func (u *GPUReduceUniforms) Marshal() []byte {
	buf := make([]byte, 208)
	off := 0

	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(u.InvProj[i]))
		off += 4
	}
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(u.LightFromView[i]))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], u.ScreenWidth)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], u.ScreenHeight)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], u.PartitionCount)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], u.UseCustomIntervals)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(u.Near))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(u.Far))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(u.VirtualFar))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(u.BlendFactor))
	off += 4

	// array<vec4<f32>, 3>: nine boundaries packed contiguously, tail padded.
	for i := range u.CustomIntervals {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(u.CustomIntervals[i]))
		off += 4
	}

	return buf
}
