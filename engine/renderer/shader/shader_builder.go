package shader

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderBuilderOption is a function that configures a shader instance during construction.
type ShaderBuilderOption func(*shader)

// WithEntryPoint is an option builder that sets the shader's entry point function name.
// When not specified the entry point defaults to "main".
//
// Parameters:
//   - entryPoint: the WGSL entry point function name
//
// Returns:
//   - ShaderBuilderOption: a function that applies the entry point option to a shader
func WithEntryPoint(entryPoint string) ShaderBuilderOption {
	return func(s *shader) {
		s.entryPoint = entryPoint
	}
}

// WithWorkgroupSize is an option builder that sets the workgroup size for compute shaders.
// Must match the @workgroup_size attribute in the WGSL source; the scene uses it to derive
// dispatch dimensions.
//
// Parameters:
//   - x, y, z: the workgroup dimensions
//
// Returns:
//   - ShaderBuilderOption: a function that applies the workgroup size option to a shader
func WithWorkgroupSize(x, y, z uint32) ShaderBuilderOption {
	return func(s *shader) {
		s.workGroupSize = [3]uint32{x, y, z}
	}
}

// WithBindGroupLayout is an option builder that declares the bind group layout descriptor
// for a group index. Every group the shader's WGSL source references must be declared.
//
// Parameters:
//   - group: the bind group index
//   - desc: the layout descriptor for the group
//
// Returns:
//   - ShaderBuilderOption: a function that applies the bind group layout option to a shader
func WithBindGroupLayout(group int, desc wgpu.BindGroupLayoutDescriptor) ShaderBuilderOption {
	return func(s *shader) {
		s.bindGroupLayoutDescriptors[group] = desc
	}
}

// WithVertexLayout is an option builder that sets the vertex buffer layout for a vertex shader.
//
// Parameters:
//   - key: the integer key identifying the vertex layout slot
//   - layout: the vertex buffer layouts for the slot
//
// Returns:
//   - ShaderBuilderOption: a function that applies the vertex layout option to a shader
func WithVertexLayout(key int, layout []wgpu.VertexBufferLayout) ShaderBuilderOption {
	return func(s *shader) {
		s.vertexLayouts[key] = layout
	}
}

// WithDefine is an option builder that enables a pre-processor define. Defines select
// build-time shader variants: source lines inside a matching //#ifdef block are kept,
// lines inside a non-matching block are dropped before module creation.
//
// Parameters:
//   - name: the define name to enable
//
// Returns:
//   - ShaderBuilderOption: a function that applies the define option to a shader
func WithDefine(name string) ShaderBuilderOption {
	return func(s *shader) {
		s.defines[name] = true
	}
}
