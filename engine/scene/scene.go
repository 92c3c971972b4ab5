package scene

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/kiln-engine/kiln/common"
	"github.com/kiln-engine/kiln/engine/camera"
	"github.com/kiln-engine/kiln/engine/light"
	"github.com/kiln-engine/kiln/engine/renderer"
	"github.com/kiln-engine/kiln/engine/renderer/bind_group_provider"
	"github.com/kiln-engine/kiln/engine/renderer/pipeline"
	"github.com/kiln-engine/kiln/engine/renderer/shader"
	"github.com/kiln-engine/kiln/engine/shadow"
)

// Pipeline keys for the compute passes the scene registers.
const (
	lightCullPipelineKey       = "light_cull_compute"
	partitionResetPipelineKey  = "shadow_partition_reset"
	depthBoundsPipelineKey     = "shadow_depth_bounds"
	partitionSplitPipelineKey  = "shadow_partition_intervals"
	partitionBoundsPipelineKey = "shadow_partition_bounds"
	partitionFinishPipelineKey = "shadow_partition_finalize"
)

// Scene owns the per-frame lighting state of a view: the light registry, the
// camera, and the GPU resources for Forward+ tile light culling and adaptive
// cascaded shadow partitioning. The scene wires the compute kernels to the
// renderer, uploads their uniforms each frame, and dispatches them in
// dependency order. Rendering passes that consume the outputs (lit shading,
// cascade depth passes) bind the providers the scene exposes.
// Thread-safe for concurrent access.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// SetName sets the scene's identifier.
	SetName(name string)

	// Active returns whether this scene is currently active for rendering.
	Active() bool

	// SetActive sets whether this scene is active for rendering.
	SetActive(active bool)

	// Camera returns the scene's camera.
	Camera() camera.Camera

	// SetCamera replaces the scene's camera.
	//
	// Parameters:
	//   - cam: the new camera
	SetCamera(cam camera.Camera)

	// Renderer returns the scene's renderer.
	Renderer() renderer.Renderer

	// SetRenderer replaces the scene's renderer.
	//
	// Parameters:
	//   - r: the new renderer
	SetRenderer(r renderer.Renderer)

	// AddLight adds a light source to the scene. Lights are marshaled into a GPU
	// storage buffer each frame by PrepareFrame.
	//
	// Parameters:
	//   - l: the Light to add
	AddLight(l light.Light)

	// RemoveLight removes a light source from the scene by reference.
	//
	// Parameters:
	//   - l: the Light to remove
	RemoveLight(l light.Light)

	// Lights returns all lights currently registered in the scene.
	//
	// Returns:
	//   - []light.Light: the scene's light list
	Lights() []light.Light

	// AmbientColor returns the scene's ambient light color.
	//
	// Returns:
	//   - [3]float32: the ambient RGB color
	AmbientColor() [3]float32

	// SetAmbientColor sets the scene's ambient light color.
	//
	// Parameters:
	//   - color: the ambient RGB color
	SetAmbientColor(color [3]float32)

	// LightBindGroupProvider returns the bind group provider holding the GPU light
	// buffer resources (header uniform + light storage array), or nil if
	// InitLightResources has not been called.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the light BGP or nil
	LightBindGroupProvider() bind_group_provider.BindGroupProvider

	// InitLightResources creates the GPU light buffer: a 16-byte header uniform
	// (ambient color + active count) and a storage array sized for MaxGPULights.
	// The storage buffer is shared with the tile culling pass. Panics on GPU
	// resource creation failure.
	InitLightResources()

	// InitLightCullResources creates the Forward+ tile culling pipeline and its
	// buffers: the cull uniform block, the per-tile count buffer, and the
	// per-tile index list buffer sized from the screen's tile grid. The lights
	// storage buffer from InitLightResources is shared into the cull bind
	// group, so InitLightResources must be called first. Panics on GPU resource
	// creation failure.
	//
	// Parameters:
	//   - screenWidth: screen width in pixels (determines tile grid sizing)
	//   - screenHeight: screen height in pixels
	InitLightCullResources(screenWidth, screenHeight int)

	// InitShadowPartitionResources creates the five-stage shadow partitioning
	// chain: the reset, depth range reduction, interval split, per-partition
	// bounds reduction, and extent finalize pipelines, plus the shared interval,
	// bounds, partition, and uniform buffers. The reduction kernels read the
	// renderer's scene depth texture; the MSAA kernel variant is selected from
	// the renderer's sample count. The partition table is seeded with a uniform
	// split so the first frame has valid cascades before any reduction has run.
	// Panics on GPU resource creation failure.
	InitShadowPartitionResources()

	// InitShadowMap creates the cascade shadow depth texture, the comparison
	// sampler for shadow lookups, and the shadow data uniform used by the
	// cascade depth passes. Panics on GPU resource creation failure.
	InitShadowMap()

	// InitLighting initializes the whole lighting pipeline in dependency order:
	// light buffers, shadow map resources, tile culling, and shadow
	// partitioning. Equivalent to calling InitLightResources, InitShadowMap,
	// InitLightCullResources, and InitShadowPartitionResources individually.
	//
	// Parameters:
	//   - screenWidth: screen width in pixels
	//   - screenHeight: screen height in pixels
	InitLighting(screenWidth, screenHeight int)

	// PrepareFrame uploads the per-frame CPU state to the GPU: the camera
	// uniform and the light buffer. Lights wholly outside the camera frustum
	// are dropped before upload; this is an upload cap, not a culling stage,
	// and per-tile visibility is decided entirely by the cull kernel. The
	// remaining lights are marshaled in parallel on the scene's worker pool.
	// Must be called before PrepareLightCulling each frame.
	PrepareFrame()

	// PrepareLightCulling updates the tile culling uniforms and dispatches the
	// culling kernel, one workgroup per screen tile. Dispatched even when the
	// scene has no lights so stale tile counts from the previous frame are
	// cleared. Must be called after PrepareFrame.
	PrepareLightCulling()

	// PrepareShadowPartitions updates the reduction uniforms and dispatches the
	// five-stage partitioning chain against the previous frame's depth buffer.
	// Each stage runs in its own compute pass, which orders its writes before
	// the next stage's reads. No-ops when InitShadowPartitionResources has not
	// been called or the scene has no enabled directional light.
	PrepareShadowPartitions()

	// PrepareShadows computes the directional light's view-projection and
	// uploads the shadow uniform consumed by the cascade depth passes. No-ops
	// when InitShadowMap has not been called or no shadow-casting directional
	// light exists.
	PrepareShadows()

	// Resize rebuilds the screen-size-dependent GPU state after the renderer's
	// surface changes: the tile grid buffers and the bind groups that reference
	// the recreated scene depth texture.
	//
	// Parameters:
	//   - screenWidth: new screen width in pixels
	//   - screenHeight: new screen height in pixels
	Resize(screenWidth, screenHeight int)

	// TileBindGroupProvider returns the bind group provider that fragment-side
	// consumers bind to read per-tile light counts and index lists, or nil if
	// InitLightCullResources has not been called.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the tile BGP or nil
	TileBindGroupProvider() bind_group_provider.BindGroupProvider

	// TileCounts returns the tile grid dimensions the culling pass was
	// initialized with.
	//
	// Returns:
	//   - uint32: tile count along X
	//   - uint32: tile count along Y
	TileCounts() (uint32, uint32)

	// PartitionBuffer returns the GPU buffer holding the finalized cascade
	// partitions (shadow.MaxPartitions entries of 32 bytes), or nil if
	// InitShadowPartitionResources has not been called. Cascade matrix builders
	// and the shading pass share this buffer into their own bind groups.
	//
	// Returns:
	//   - *wgpu.Buffer: the partition table buffer or nil
	PartitionBuffer() *wgpu.Buffer

	// PartitionCount returns the configured cascade count.
	//
	// Returns:
	//   - int: the number of shadow cascades
	PartitionCount() int

	// SetCustomPartitionIntervals replaces the computed blended split with fixed
	// cascade boundaries. Takes effect on the next PrepareShadowPartitions.
	//
	// Parameters:
	//   - boundaries: partitionCount+1 strictly increasing depth boundaries
	//
	// Returns:
	//   - error: validation error if the boundaries are unusable
	SetCustomPartitionIntervals(boundaries []float32) error

	// ClearCustomPartitionIntervals returns the scene to the adaptive computed
	// split.
	ClearCustomPartitionIntervals()

	// ShadowDepthTextureView returns the cascade shadow depth texture view, or
	// nil if InitShadowMap has not been called.
	//
	// Returns:
	//   - *wgpu.TextureView: the shadow depth texture view or nil
	ShadowDepthTextureView() *wgpu.TextureView

	// ShadowDataBindGroupProvider returns the BGP holding the shadow uniform
	// data (light VP matrix, texel size, bias), or nil if InitShadowMap has not
	// been called.
	//
	// Returns:
	//   - bind_group_provider.BindGroupProvider: the shadow data BGP or nil
	ShadowDataBindGroupProvider() bind_group_provider.BindGroupProvider
}

type scene struct {
	mu *sync.RWMutex

	name   string
	active bool

	cam camera.Camera
	r   renderer.Renderer

	// Lighting state.
	lights       []light.Light
	ambientColor [3]float32
	lightsBGP    bind_group_provider.BindGroupProvider

	// Shadow mapping state.
	shadowDepthTexture     *wgpu.Texture
	shadowDepthTextureView *wgpu.TextureView
	shadowComparisonSamp   *wgpu.Sampler
	shadowDataBGP          bind_group_provider.BindGroupProvider
	shadowHalfExtent       float32
	shadowNear             float32
	shadowFar              float32
	shadowBias             float32
	shadowNormalBiasScale  float32
	shadowMapResolution    int

	// Forward+ tile culling state.
	lightCullBGP bind_group_provider.BindGroupProvider // compute kernel BGP
	tileBGP      bind_group_provider.BindGroupProvider // fragment-side BGP
	tileCountX   uint32
	tileCountY   uint32
	screenWidth  int
	screenHeight int

	// Count actually uploaded by PrepareFrame after frustum filtering;
	// consumed by PrepareLightCulling the same frame.
	uploadedLightCount uint32

	// Shadow partitioning state. The five stage BGPs share the interval,
	// bounds, partition, and uniform buffers between them.
	partitionCount  int
	blendFactor     float32
	virtualFar      float32
	customIntervals []float32 // nil when the computed split is in use
	resetBGP        bind_group_provider.BindGroupProvider
	depthBoundsBGP  bind_group_provider.BindGroupProvider
	intervalsBGP    bind_group_provider.BindGroupProvider
	boundsBGP       bind_group_provider.BindGroupProvider
	finalizeBGP     bind_group_provider.BindGroupProvider

	// computePool manages a bounded set of reusable goroutines for the parallel
	// light marshaling in PrepareFrame. Workers persist across frames, avoiding
	// per-frame goroutine spawn/teardown overhead.
	computePool    worker.DynamicWorkerPool
	computeWorkers int
}

// Ensure scene implements Scene interface.
var _ Scene = &scene{}

// NewScene creates a new Scene with the given camera and renderer. Both are
// required and NewScene panics if either is nil. If the camera carries a
// BindGroupProvider its uniform bind group is initialized on the GPU.
//
// Parameters:
//   - name: the name of the scene
//   - cam: the camera to attach (must not be nil)
//   - r: the renderer to attach (must not be nil)
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, cam camera.Camera, r renderer.Renderer, options ...SceneBuilderOption) Scene {
	if cam == nil {
		panic("scene: NewScene requires a non-nil Camera")
	}
	if r == nil {
		panic("scene: NewScene requires a non-nil Renderer")
	}

	s := &scene{
		mu:                    &sync.RWMutex{},
		name:                  name,
		active:                false,
		cam:                   cam,
		r:                     r,
		computeWorkers:        max(runtime.NumCPU()-1, 1),
		partitionCount:        shadow.DefaultPartitionCount,
		blendFactor:           shadow.DefaultBlendFactor,
		virtualFar:            shadow.DefaultVirtualFar,
		shadowHalfExtent:      light.DefaultShadowHalfExtent,
		shadowNear:            light.DefaultShadowNear,
		shadowFar:             light.DefaultShadowFar,
		shadowBias:            light.DefaultShadowBias,
		shadowNormalBiasScale: light.DefaultShadowNormalBiasScale,
		shadowMapResolution:   light.ShadowMapResolution,
	}

	for _, option := range options {
		option(s)
	}

	// Initialize the compute pool after options so WithComputeWorkers can
	// override the default. Queue size of 256 accommodates one task per light
	// marshaling chunk with headroom.
	s.computePool = worker.NewDynamicWorkerPool(s.computeWorkers, 256, 1*time.Second)

	if bgp := cam.BindGroupProvider(); bgp != nil {
		uniform := camera.GPUCameraUniform{}
		desc := wgpu.BindGroupLayoutDescriptor{
			Label: "camera_uniform",
			Entries: []wgpu.BindGroupLayoutEntry{
				{
					Binding:    0,
					Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
					Buffer: wgpu.BufferBindingLayout{
						Type:           wgpu.BufferBindingTypeUniform,
						MinBindingSize: uint64(uniform.Size()),
					},
				},
			},
		}
		if err := r.InitBindGroup(bgp, desc, nil, nil); err != nil {
			panic(fmt.Sprintf("scene: failed to init camera bind group: %v", err))
		}
	}

	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *scene) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *scene) Camera() camera.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cam
}

func (s *scene) SetCamera(cam camera.Camera) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cam = cam
}

func (s *scene) Renderer() renderer.Renderer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.r
}

func (s *scene) SetRenderer(r renderer.Renderer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r = r
}

func (s *scene) AddLight(l light.Light) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lights = append(s.lights, l)
}

func (s *scene) RemoveLight(l light.Light) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.lights {
		if existing == l {
			s.lights = append(s.lights[:i], s.lights[i+1:]...)
			break
		}
	}
}

func (s *scene) Lights() []light.Light {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]light.Light, len(s.lights))
	copy(out, s.lights)
	return out
}

func (s *scene) AmbientColor() [3]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ambientColor
}

func (s *scene) SetAmbientColor(color [3]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ambientColor = color
}

func (s *scene) LightBindGroupProvider() bind_group_provider.BindGroupProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lightsBGP
}

func (s *scene) InitLightResources() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.r == nil {
		return
	}

	header := light.GPULightHeader{}
	gpuLight := light.GPULight{}
	bgp := bind_group_provider.NewBindGroupProvider(s.name + "_lights")
	desc := wgpu.BindGroupLayoutDescriptor{
		Label: "lights",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment | wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: uint64(header.Size()),
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment | wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeReadOnlyStorage,
					MinBindingSize: uint64(gpuLight.Size()),
				},
			},
		},
	}
	sizeOverrides := map[int]uint64{
		1: uint64(light.MaxGPULights) * uint64(gpuLight.Size()),
	}
	if err := s.r.InitBindGroup(bgp, desc, nil, sizeOverrides); err != nil {
		panic(fmt.Sprintf("scene: failed to init light bind group: %v", err))
	}
	s.lightsBGP = bgp
}

func (s *scene) InitLightCullResources(screenWidth, screenHeight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initLightCullLocked(screenWidth, screenHeight, true)
}

// initLightCullLocked builds the cull shader, buffers, and pipeline. The
// pipeline is registered only on first init; Resize re-runs the buffer setup
// with registerPipeline false.
func (s *scene) initLightCullLocked(screenWidth, screenHeight int, registerPipeline bool) {
	if s.r == nil {
		return
	}
	if s.lightsBGP == nil {
		return // InitLightResources must be called first
	}

	s.screenWidth = screenWidth
	s.screenHeight = screenHeight
	tileCountX, tileCountY := light.TileCounts(screenWidth, screenHeight)
	s.tileCountX = tileCountX
	s.tileCountY = tileCountY
	numTiles := uint64(tileCountX) * uint64(tileCountY)

	cullUniforms := light.GPULightCullUniforms{}
	cullDesc := wgpu.BindGroupLayoutDescriptor{
		Label: "light_cull",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: uint64(cullUniforms.Size()),
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeReadOnlyStorage,
					MinBindingSize: 16,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeStorage,
					MinBindingSize: 4,
				},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageCompute,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeStorage,
					MinBindingSize: 4,
				},
			},
		},
	}

	if registerPipeline {
		cullShader, err := shader.NewShader(lightCullPipelineKey, light.LightCullKernelSource, shader.ShaderTypeCompute,
			shader.WithEntryPoint("main"),
			shader.WithWorkgroupSize(light.LightCullWorkgroupSize, 1, 1),
			shader.WithBindGroupLayout(0, cullDesc),
		)
		if err != nil {
			panic(fmt.Sprintf("scene: failed to build light cull shader: %v", err))
		}
		cp := pipeline.NewPipeline(lightCullPipelineKey, pipeline.PipelineTypeCompute,
			pipeline.WithComputeShader(cullShader),
		)
		if err := s.r.RegisterPipelines(cp); err != nil {
			panic(fmt.Sprintf("scene: failed to register light cull pipeline: %v", err))
		}
	}

	// Compute-side BGP. The cull kernel reads the lights buffer PrepareFrame
	// writes, so binding 1 is shared from the lights BGP rather than created.
	cullBGP := bind_group_provider.NewBindGroupProvider(s.name + "_light_cull")
	if lightsBuffer := s.lightsBGP.Buffer(1); lightsBuffer != nil {
		cullBGP.SetBuffer(1, lightsBuffer)
	}
	sizeOverrides := map[int]uint64{
		2: numTiles * 4,
		3: numTiles * uint64(light.MaxLightsPerTile) * 4,
	}
	if err := s.r.InitBindGroup(cullBGP, cullDesc, nil, sizeOverrides); err != nil {
		panic(fmt.Sprintf("scene: failed to init light cull bind group: %v", err))
	}
	s.lightCullBGP = cullBGP

	// Fragment-side BGP: tile uniforms plus read-only views of the cull
	// output buffers.
	tileUniforms := light.GPUTileUniforms{
		TileCountX:       tileCountX,
		MaxLightsPerTile: light.MaxLightsPerTile,
	}
	tileBGP := bind_group_provider.NewBindGroupProvider(s.name + "_tile_lit")
	tileBGP.SetBuffer(1, cullBGP.Buffer(2))
	tileBGP.SetBuffer(2, cullBGP.Buffer(3))
	tileDesc := wgpu.BindGroupLayoutDescriptor{
		Label: "tile_data",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeUniform,
					MinBindingSize: uint64(tileUniforms.Size()),
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeReadOnlyStorage,
					MinBindingSize: 4,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageFragment,
				Buffer: wgpu.BufferBindingLayout{
					Type:           wgpu.BufferBindingTypeReadOnlyStorage,
					MinBindingSize: 4,
				},
			},
		},
	}
	if err := s.r.InitBindGroup(tileBGP, tileDesc, nil, nil); err != nil {
		panic(fmt.Sprintf("scene: failed to init tile bind group: %v", err))
	}
	s.tileBGP = tileBGP

	s.r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: tileBGP, Binding: 0, Offset: 0, Data: tileUniforms.Marshal()},
	})
}

func (s *scene) TileBindGroupProvider() bind_group_provider.BindGroupProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tileBGP
}

func (s *scene) TileCounts() (uint32, uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tileCountX, s.tileCountY
}

func (s *scene) PrepareFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.r == nil {
		return
	}

	var frustum common.Frustum
	hasFrustum := false
	if s.cam != nil {
		vpMat := s.cam.ViewProjectionMatrix()
		if camBGP := s.cam.BindGroupProvider(); camBGP != nil {
			camUniform := camera.GPUCameraUniform{ViewProj: vpMat}
			camUniform.CameraPosition[0], camUniform.CameraPosition[1], camUniform.CameraPosition[2] = s.cam.Position()
			s.r.WriteBuffers([]bind_group_provider.BufferWrite{
				{Provider: camBGP, Binding: 0, Offset: 0, Data: camUniform.Marshal()},
			})
		}
		frustum = common.ExtractFrustumFromMatrix(vpMat[:])
		hasFrustum = true
	}

	if s.lightsBGP == nil {
		return
	}

	// Drop lights whose bounding sphere is wholly outside the camera frustum.
	// This caps the GPU upload, it is not a culling stage: per-tile visibility
	// is decided entirely by the cull kernel over the uploaded buffer.
	// Directional lights have no position and always survive the filter.
	visible := make([]light.Light, 0, len(s.lights))
	for _, l := range s.lights {
		if !l.Enabled() {
			continue
		}
		if hasFrustum && l.Type() != light.LightTypeDirectional {
			pos := l.Position()
			if !frustum.IntersectsSphere(pos[0], pos[1], pos[2], l.Range()) {
				continue
			}
		}
		visible = append(visible, l)
		if len(visible) == light.MaxGPULights {
			break
		}
	}

	lightData := s.marshalLightsParallel(visible)
	writes := []bind_group_provider.BufferWrite{
		{Provider: s.lightsBGP, Binding: 0, Offset: 0, Data: lightData[:16]},
	}
	if len(lightData) > 16 {
		writes = append(writes, bind_group_provider.BufferWrite{
			Provider: s.lightsBGP, Binding: 1, Offset: 0, Data: lightData[16:],
		})
	}
	s.r.WriteBuffers(writes)
	s.uploadedLightCount = uint32(len(visible))
}

// marshalLightsParallel serializes the header and light array, fanning the
// per-light marshaling out across the compute pool in contiguous chunks. Small
// lists are marshaled inline; the task overhead outweighs the copy below a
// few dozen lights.
func (s *scene) marshalLightsParallel(visible []light.Light) []byte {
	header := light.GPULightHeader{
		AmbientColor: s.ambientColor,
		LightCount:   uint32(len(visible)),
	}
	lightSize := (&light.GPULight{}).Size()
	buf := make([]byte, header.Size()+len(visible)*lightSize)
	copy(buf, header.Marshal())

	marshalChunk := func(start, end int) {
		for i := start; i < end; i++ {
			gpu := light.ToGPULight(visible[i])
			copy(buf[header.Size()+i*lightSize:], gpu.Marshal())
		}
	}

	const chunkSize = 64
	if len(visible) <= chunkSize || s.computePool == nil {
		marshalChunk(0, len(visible))
		return buf
	}

	// Chunks write to disjoint slices of the shared buffer, so no locking is
	// needed; the WaitGroup is the frame barrier.
	var wg sync.WaitGroup
	taskID := 0
	for start := 0; start < len(visible); start += chunkSize {
		end := min(start+chunkSize, len(visible))
		wg.Add(1)
		sc, ec := start, end
		s.computePool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()
				marshalChunk(sc, ec)
				return nil, nil
			},
		})
		taskID++
	}
	wg.Wait()

	return buf
}

func (s *scene) PrepareLightCulling() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lightCullBGP == nil || s.r == nil || s.cam == nil {
		return
	}

	uniforms := light.GPULightCullUniforms{
		InvProj:      s.cam.InverseProjectionMatrix(),
		ViewMatrix:   s.cam.ViewMatrix(),
		TileCountX:   s.tileCountX,
		TileCountY:   s.tileCountY,
		ScreenWidth:  uint32(s.screenWidth),
		ScreenHeight: uint32(s.screenHeight),
		LightCount:   s.uploadedLightCount,
		Near:         s.cam.Near(),
		Far:          s.cam.Far(),
	}
	s.r.WriteBuffers([]bind_group_provider.BufferWrite{
		{Provider: s.lightCullBGP, Binding: 0, Offset: 0, Data: uniforms.Marshal()},
	})

	if err := s.r.BeginComputeFrame(); err != nil {
		return
	}
	s.r.DispatchCompute(lightCullPipelineKey, s.lightCullBGP, [3]uint32{s.tileCountX, s.tileCountY, 1})
	s.r.EndComputeFrame()
}

func (s *scene) InitLighting(screenWidth, screenHeight int) {
	s.InitLightResources()
	s.InitShadowMap()
	s.InitLightCullResources(screenWidth, screenHeight)
	s.InitShadowPartitionResources()
}
