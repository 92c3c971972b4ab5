package scene

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/kiln-engine/kiln/common"
	"github.com/kiln-engine/kiln/engine/light"
	"github.com/kiln-engine/kiln/engine/renderer"
	"github.com/kiln-engine/kiln/engine/renderer/bind_group_provider"
	"github.com/kiln-engine/kiln/engine/renderer/pipeline"
	"github.com/kiln-engine/kiln/engine/renderer/shader"
	"github.com/kiln-engine/kiln/engine/shadow"
)

// Shadow partitioning: the five-stage reduction chain that fits the cascade
// partitions to the depth samples actually visible this frame. The scene owns
// the stage pipelines and the four shared buffers (uniforms, depth interval,
// bounds accumulators, partition table) and dispatches the chain once per
// frame from PrepareShadowPartitions.

func (s *scene) InitShadowPartitionResources() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initShadowPartitionLocked(true)
}

func (s *scene) initShadowPartitionLocked(registerPipelines bool) {
	if s.r == nil {
		return
	}
	depthView := s.r.DepthTextureView()
	if depthView == nil {
		return // renderer surface not configured yet
	}
	msaa := s.r.SampleCount() > renderer.MSAAOff

	uniformEntry := func(binding uint32) wgpu.BindGroupLayoutEntry {
		u := shadow.GPUReduceUniforms{}
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: wgpu.BufferBindingLayout{
				Type:           wgpu.BufferBindingTypeUniform,
				MinBindingSize: uint64(u.Size()),
			},
		}
	}
	storageEntry := func(binding uint32, readOnly bool, minSize uint64) wgpu.BindGroupLayoutEntry {
		t := wgpu.BufferBindingTypeStorage
		if readOnly {
			t = wgpu.BufferBindingTypeReadOnlyStorage
		}
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer: wgpu.BufferBindingLayout{
				Type:           t,
				MinBindingSize: minSize,
			},
		}
	}
	depthEntry := func(binding uint32) wgpu.BindGroupLayoutEntry {
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Texture: wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeDepth,
				ViewDimension: wgpu.TextureViewDimension2D,
				Multisampled:  msaa,
			},
		}
	}

	resetDesc := wgpu.BindGroupLayoutDescriptor{
		Label: "partition_reset",
		Entries: []wgpu.BindGroupLayoutEntry{
			storageEntry(0, false, shadow.IntervalBufferSize),
			storageEntry(1, false, shadow.BoundsBufferSize),
		},
	}
	depthBoundsDesc := wgpu.BindGroupLayoutDescriptor{
		Label: "depth_bounds",
		Entries: []wgpu.BindGroupLayoutEntry{
			uniformEntry(0),
			depthEntry(1),
			storageEntry(2, false, shadow.IntervalBufferSize),
		},
	}
	intervalsDesc := wgpu.BindGroupLayoutDescriptor{
		Label: "partition_intervals",
		Entries: []wgpu.BindGroupLayoutEntry{
			uniformEntry(0),
			storageEntry(1, false, shadow.IntervalBufferSize),
			storageEntry(2, false, shadow.PartitionBufferSize),
		},
	}
	boundsDesc := wgpu.BindGroupLayoutDescriptor{
		Label: "partition_bounds",
		Entries: []wgpu.BindGroupLayoutEntry{
			uniformEntry(0),
			depthEntry(1),
			storageEntry(2, true, shadow.PartitionBufferSize),
			storageEntry(3, false, shadow.BoundsBufferSize),
		},
	}
	finalizeDesc := wgpu.BindGroupLayoutDescriptor{
		Label: "partition_finalize",
		Entries: []wgpu.BindGroupLayoutEntry{
			uniformEntry(0),
			storageEntry(1, false, shadow.BoundsBufferSize),
			storageEntry(2, false, shadow.PartitionBufferSize),
		},
	}

	if registerPipelines {
		stages := []struct {
			key           string
			source        string
			workgroupSize [3]uint32
			desc          wgpu.BindGroupLayoutDescriptor
			usesDepth     bool
		}{
			{partitionResetPipelineKey, shadow.PartitionResetKernelSource, [3]uint32{shadow.ReductionWorkgroupDim, 1, 1}, resetDesc, false},
			{depthBoundsPipelineKey, shadow.DepthBoundsKernelSource, [3]uint32{shadow.ReductionWorkgroupDim, shadow.ReductionWorkgroupDim, 1}, depthBoundsDesc, true},
			{partitionSplitPipelineKey, shadow.PartitionIntervalsKernelSource, [3]uint32{shadow.ReductionWorkgroupDim, 1, 1}, intervalsDesc, false},
			{partitionBoundsPipelineKey, shadow.PartitionBoundsKernelSource, [3]uint32{shadow.ReductionWorkgroupDim, shadow.ReductionWorkgroupDim, 1}, boundsDesc, true},
			{partitionFinishPipelineKey, shadow.PartitionFinalizeKernelSource, [3]uint32{shadow.ReductionWorkgroupDim, 1, 1}, finalizeDesc, false},
		}
		for _, stage := range stages {
			opts := []shader.ShaderBuilderOption{
				shader.WithEntryPoint("main"),
				shader.WithWorkgroupSize(stage.workgroupSize[0], stage.workgroupSize[1], stage.workgroupSize[2]),
				shader.WithBindGroupLayout(0, stage.desc),
			}
			if stage.usesDepth && msaa {
				opts = append(opts, shader.WithDefine(shadow.MSAADefine))
			}
			shd, err := shader.NewShader(stage.key, stage.source, shader.ShaderTypeCompute, opts...)
			if err != nil {
				panic(fmt.Sprintf("scene: failed to build %s shader: %v", stage.key, err))
			}
			cp := pipeline.NewPipeline(stage.key, pipeline.PipelineTypeCompute,
				pipeline.WithComputeShader(shd),
			)
			if err := s.r.RegisterPipelines(cp); err != nil {
				panic(fmt.Sprintf("scene: failed to register %s pipeline: %v", stage.key, err))
			}
		}
	}

	// Stage 1 BGP creates the interval and bounds buffers; the later stages
	// share them. Created first so the shared buffers exist before any other
	// BGP references them.
	resetBGP := bind_group_provider.NewBindGroupProvider(s.name + "_partition_reset")
	if err := s.r.InitBindGroup(resetBGP, resetDesc, nil, nil); err != nil {
		panic(fmt.Sprintf("scene: failed to init partition reset bind group: %v", err))
	}
	intervalBuf := resetBGP.Buffer(0)
	boundsBuf := resetBGP.Buffer(1)

	// Stage 2 BGP creates the shared uniform buffer and binds the scene depth.
	depthBoundsBGP := bind_group_provider.NewBindGroupProvider(s.name + "_depth_bounds")
	depthBoundsBGP.SetTextureView(1, depthView)
	depthBoundsBGP.SetBuffer(2, intervalBuf)
	if err := s.r.InitBindGroup(depthBoundsBGP, depthBoundsDesc, nil, nil); err != nil {
		panic(fmt.Sprintf("scene: failed to init depth bounds bind group: %v", err))
	}
	uniformsBuf := depthBoundsBGP.Buffer(0)

	// Stage 3 BGP creates the partition table buffer.
	intervalsBGP := bind_group_provider.NewBindGroupProvider(s.name + "_partition_intervals")
	intervalsBGP.SetBuffer(0, uniformsBuf)
	intervalsBGP.SetBuffer(1, intervalBuf)
	if err := s.r.InitBindGroup(intervalsBGP, intervalsDesc, nil, nil); err != nil {
		panic(fmt.Sprintf("scene: failed to init partition intervals bind group: %v", err))
	}
	partitionBuf := intervalsBGP.Buffer(2)

	boundsBGP := bind_group_provider.NewBindGroupProvider(s.name + "_partition_bounds")
	boundsBGP.SetBuffer(0, uniformsBuf)
	boundsBGP.SetTextureView(1, depthView)
	boundsBGP.SetBuffer(2, partitionBuf)
	boundsBGP.SetBuffer(3, boundsBuf)
	if err := s.r.InitBindGroup(boundsBGP, boundsDesc, nil, nil); err != nil {
		panic(fmt.Sprintf("scene: failed to init partition bounds bind group: %v", err))
	}

	finalizeBGP := bind_group_provider.NewBindGroupProvider(s.name + "_partition_finalize")
	finalizeBGP.SetBuffer(0, uniformsBuf)
	finalizeBGP.SetBuffer(1, boundsBuf)
	finalizeBGP.SetBuffer(2, partitionBuf)
	if err := s.r.InitBindGroup(finalizeBGP, finalizeDesc, nil, nil); err != nil {
		panic(fmt.Sprintf("scene: failed to init partition finalize bind group: %v", err))
	}

	s.resetBGP = resetBGP
	s.depthBoundsBGP = depthBoundsBGP
	s.intervalsBGP = intervalsBGP
	s.boundsBGP = boundsBGP
	s.finalizeBGP = finalizeBGP

	// Seed on every (re)build: the partition buffer was just created, and a
	// degenerate first frame reuses whatever the table holds.
	s.seedPartitionTableLocked()
}

// seedPartitionTableLocked writes a uniform split over the camera range into
// the partition table so the first frame has valid cascades before any
// reduction has run. A first frame with no usable depth samples would
// otherwise consume an all-zero table.
func (s *scene) seedPartitionTableLocked() {
	near := s.shadowNear
	if s.cam != nil {
		near = s.cam.Near()
	}
	bounds := shadow.ComputeIntervals(near, s.virtualFar, s.partitionCount, 0, near, s.virtualFar)

	data := make([]byte, 0, shadow.PartitionBufferSize)
	for i := 0; i < shadow.MaxPartitions; i++ {
		p := shadow.GPUPartition{}
		if i < s.partitionCount {
			p.IntervalBegin = bounds[i]
			p.IntervalEnd = bounds[i+1]
		}
		data = append(data, p.Marshal()...)
	}
	s.r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: s.intervalsBGP, Binding: 2, Offset: 0, Data: data},
	})
}

func (s *scene) PrepareShadowPartitions() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.r == nil || s.cam == nil || s.finalizeBGP == nil {
		return
	}

	// The reductions fit cascades around the directional caster; without one
	// there is nothing to partition for.
	var sun light.Light
	for _, l := range s.lights {
		if l.Enabled() && l.Type() == light.LightTypeDirectional {
			sun = l
			break
		}
	}
	if sun == nil {
		return
	}

	// light_from_view carries reconstructed view-space positions straight into
	// light space: lightView * inverseView, premultiplied on the CPU so the
	// kernel does one transform per sample.
	cx, cy, cz := s.cam.Target()
	lightView := light.DirectionalLightViewMatrix(sun.Direction(), cx, cy, cz, s.shadowFar)
	invView := s.cam.InverseViewMatrix()
	var lightFromView [16]float32
	common.Mul4(lightFromView[:], lightView[:], invView[:])

	uniforms := shadow.GPUReduceUniforms{
		InvProj:        s.cam.InverseProjectionMatrix(),
		LightFromView:  lightFromView,
		ScreenWidth:    uint32(s.screenWidth),
		ScreenHeight:   uint32(s.screenHeight),
		PartitionCount: uint32(s.partitionCount),
		Near:           s.cam.Near(),
		Far:            s.cam.Far(),
		VirtualFar:     s.virtualFar,
		BlendFactor:    s.blendFactor,
	}
	if s.customIntervals != nil {
		uniforms.UseCustomIntervals = 1
		copy(uniforms.CustomIntervals[:], s.customIntervals)
	}
	s.r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: s.depthBoundsBGP, Binding: 0, Offset: 0, Data: uniforms.Marshal()},
	})

	// One compute pass per stage. Pass boundaries order each stage's writes
	// before the next stage's reads, which the sentinel reset, the interval
	// handoff, and the bounds handoff all rely on.
	if err := s.r.BeginComputeFrame(); err != nil {
		return
	}
	s.r.DispatchCompute(partitionResetPipelineKey, s.resetBGP, [3]uint32{1, 1, 1})
	s.r.DispatchCompute(depthBoundsPipelineKey, s.depthBoundsBGP, [3]uint32{shadow.ReductionGroupsX, shadow.ReductionGroupsY, 1})
	s.r.DispatchCompute(partitionSplitPipelineKey, s.intervalsBGP, [3]uint32{1, 1, 1})
	s.r.DispatchCompute(partitionBoundsPipelineKey, s.boundsBGP, [3]uint32{shadow.ReductionGroupsX, shadow.ReductionGroupsY, 1})
	s.r.DispatchCompute(partitionFinishPipelineKey, s.finalizeBGP, [3]uint32{1, 1, 1})
	s.r.EndComputeFrame()
}

func (s *scene) Resize(screenWidth, screenHeight int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.r == nil {
		return
	}

	// Tile buffers are sized from the tile grid; rebuild them when the cull
	// pass was initialized.
	if s.lightCullBGP != nil {
		s.initLightCullLocked(screenWidth, screenHeight, false)
	} else {
		s.screenWidth = screenWidth
		s.screenHeight = screenHeight
	}

	// The renderer replaced the scene depth texture, so the reduction bind
	// groups referencing the old view must be rebuilt.
	if s.finalizeBGP != nil {
		s.initShadowPartitionLocked(false)
	}
}

func (s *scene) PartitionBuffer() *wgpu.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.intervalsBGP == nil {
		return nil
	}
	return s.intervalsBGP.Buffer(2)
}

func (s *scene) PartitionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partitionCount
}

func (s *scene) SetCustomPartitionIntervals(boundaries []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := shadow.ValidateCustomIntervals(boundaries, s.partitionCount); err != nil {
		return fmt.Errorf("scene: invalid custom partition intervals: %w", err)
	}
	s.customIntervals = make([]float32, len(boundaries))
	copy(s.customIntervals, boundaries)
	return nil
}

func (s *scene) ClearCustomPartitionIntervals() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customIntervals = nil
}

func (s *scene) InitShadowMap() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.r == nil {
		return
	}

	res := s.shadowMapResolution
	view, tex, err := s.r.CreateShadowDepthTexture(res, res)
	if err != nil {
		panic(fmt.Sprintf("scene: failed to create shadow depth texture: %v", err))
	}
	s.shadowDepthTexture = tex
	s.shadowDepthTextureView = view

	samp, err := s.r.CreateComparisonSampler()
	if err != nil {
		panic(fmt.Sprintf("scene: failed to create comparison sampler: %v", err))
	}
	s.shadowComparisonSamp = samp

	// Shadow data BGP holds the light VP matrix + texel size + biases for the
	// cascade depth passes and the shading pass.
	shadowData := light.GPUShadowData{}
	bgp := bind_group_provider.NewBindGroupProvider(s.name + "_shadow_data")
	desc := wgpu.BindGroupLayoutDescriptor{
		Label: "shadow_data",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: uint64(shadowData.Size()),
				},
			},
		},
	}
	if err := s.r.InitBindGroup(bgp, desc, nil, nil); err != nil {
		panic(fmt.Sprintf("scene: failed to init shadow data bind group: %v", err))
	}
	s.shadowDataBGP = bgp
}

func (s *scene) PrepareShadows() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.shadowDepthTextureView == nil || s.shadowDataBGP == nil || s.r == nil {
		return
	}

	var shadowLight light.Light
	for _, l := range s.lights {
		if l.Enabled() && l.CastsShadows() && l.Type() == light.LightTypeDirectional {
			shadowLight = l
			break
		}
	}
	if shadowLight == nil {
		return
	}

	// Center the shadow frustum on the camera's look-at target. Using the
	// target (not the position) keeps it centered on scene content even when
	// the camera orbits far away.
	centerX, centerY, centerZ := float32(0), float32(0), float32(0)
	if s.cam != nil {
		centerX, centerY, centerZ = s.cam.Target()
	}

	texelSize := 1.0 / float32(s.shadowMapResolution)
	shadowData := light.GPUShadowData{
		TexelSize: [2]float32{texelSize, texelSize},
		Bias:      s.shadowBias,
	}
	shadowData.ComputeDirectionalLightVP(
		shadowLight.Direction(),
		centerX, centerY, centerZ,
		s.shadowHalfExtent, s.shadowNear, s.shadowFar,
	)
	shadowData.ComputeNormalBias(s.shadowHalfExtent, s.shadowNormalBiasScale, s.shadowMapResolution)

	s.r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: s.shadowDataBGP, Binding: 0, Offset: 0, Data: shadowData.Marshal()},
	})
}

func (s *scene) ShadowDepthTextureView() *wgpu.TextureView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shadowDepthTextureView
}

func (s *scene) ShadowDataBindGroupProvider() bind_group_provider.BindGroupProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shadowDataBGP
}
