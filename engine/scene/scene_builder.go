package scene

import (
	"github.com/kiln-engine/kiln/engine/light"
	"github.com/kiln-engine/kiln/engine/shadow"
)

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithActive sets whether the scene is active for rendering.
//
// Parameters:
//   - active: whether the scene is active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active = active
	}
}

// WithLights adds initial lights to the scene.
//
// Parameters:
//   - lights: the lights to register
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithLights(lights ...light.Light) SceneBuilderOption {
	return func(s *scene) {
		s.lights = append(s.lights, lights...)
	}
}

// WithAmbientColor sets the scene's ambient light color.
//
// Parameters:
//   - color: the ambient RGB color
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithAmbientColor(color [3]float32) SceneBuilderOption {
	return func(s *scene) {
		s.ambientColor = color
	}
}

// WithComputeWorkers sets the number of worker goroutines used for the parallel
// light marshaling in PrepareFrame. Defaults to runtime.NumCPU()-1.
//
// Parameters:
//   - n: the number of compute workers (minimum 1)
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithComputeWorkers(n int) SceneBuilderOption {
	return func(s *scene) {
		if n < 1 {
			n = 1
		}
		s.computeWorkers = n
	}
}

// WithPartitionCount sets the number of shadow cascades the partitioning chain
// maintains. Clamped to [1, shadow.MaxPartitions]. Must be set before
// InitShadowPartitionResources, as the partition table seed depends on it.
// Default is shadow.DefaultPartitionCount (3).
//
// Parameters:
//   - count: the cascade count
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithPartitionCount(count int) SceneBuilderOption {
	return func(s *scene) {
		if count < 1 {
			count = 1
		}
		if count > shadow.MaxPartitions {
			count = shadow.MaxPartitions
		}
		s.partitionCount = count
	}
}

// WithPartitionBlendFactor sets the mix between the uniform and logarithmic
// split schemes when deriving cascade intervals: 0 is fully uniform, 1 is
// fully logarithmic. Default is shadow.DefaultBlendFactor (0.5).
//
// Parameters:
//   - blend: the split blend factor
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithPartitionBlendFactor(blend float32) SceneBuilderOption {
	return func(s *scene) {
		s.blendFactor = blend
	}
}

// WithVirtualFarPlane sets the far limit for shadow partitioning. Depth
// samples beyond it are ignored by the reductions and the last cascade always
// ends here. Default is shadow.DefaultVirtualFar (200.0).
//
// Parameters:
//   - virtualFar: the shadow range limit in view-space depth
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithVirtualFarPlane(virtualFar float32) SceneBuilderOption {
	return func(s *scene) {
		s.virtualFar = virtualFar
	}
}

// WithShadowHalfExtent sets the orthographic half-extent of the directional shadow
// frustum in world units. Larger values capture more of the scene but reduce shadow
// resolution. Default is light.DefaultShadowHalfExtent (40.0).
//
// Parameters:
//   - halfExtent: half-size of the shadow frustum in world units
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithShadowHalfExtent(halfExtent float32) SceneBuilderOption {
	return func(s *scene) {
		s.shadowHalfExtent = halfExtent
	}
}

// WithShadowNearFar sets the near and far planes for the directional shadow projection.
// Default is light.DefaultShadowNear (0.1) and light.DefaultShadowFar (200.0).
//
// Parameters:
//   - near: near plane distance
//   - far: far plane distance
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithShadowNearFar(near, far float32) SceneBuilderOption {
	return func(s *scene) {
		s.shadowNear = near
		s.shadowFar = far
	}
}

// WithShadowBias sets the depth comparison bias used during shadow sampling to
// reduce shadow acne. Default is light.DefaultShadowBias (0.001).
//
// Parameters:
//   - bias: the depth bias value
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithShadowBias(bias float32) SceneBuilderOption {
	return func(s *scene) {
		s.shadowBias = bias
	}
}

// WithShadowNormalBiasScale sets the multiplier applied to the shadow-map
// texel world-size to derive the normal-offset bias. Default is
// light.DefaultShadowNormalBiasScale (3.0).
//
// Parameters:
//   - scale: multiplier on per-texel world size (typically 2.0 to 4.0)
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithShadowNormalBiasScale(scale float32) SceneBuilderOption {
	return func(s *scene) {
		s.shadowNormalBiasScale = scale
	}
}

// WithShadowMapResolution sets the width and height in texels of the shadow
// depth texture. Must be set before InitShadowMap, as the texture is allocated
// once. Default is light.ShadowMapResolution (2048).
//
// Parameters:
//   - resolution: shadow map width and height in texels (e.g. 1024, 2048, 4096)
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithShadowMapResolution(resolution int) SceneBuilderOption {
	return func(s *scene) {
		s.shadowMapResolution = resolution
	}
}
