package light

import (
	_ "embed"
	"math"

	"github.com/kiln-engine/kiln/common"
)

// TileSize is the width and height in pixels of each screen-space tile used
// for Forward+ light culling. The screen is divided into a grid of tiles, each
// TileSize x TileSize pixels, and lights are assigned to tiles via a compute
// shader so the fragment shader only evaluates lights relevant to each tile.
const TileSize = 16

// MaxLightsPerTile is the maximum number of light indices stored per tile in
// the Forward+ tile light index buffer. If more lights overlap a tile, excess
// lights are silently dropped.
const MaxLightsPerTile = 256

// LightCullKernelSource is the WGSL compute kernel that assigns point lights
// to screen tiles. One workgroup runs per tile; thread 0 builds the tile's
// bounding cone, then all threads stride over the light list testing each
// light's bounding sphere against the cone.
//
//go:embed assets/light_cull.wgsl
var LightCullKernelSource string

// LightCullWorkgroupSize is the thread count per workgroup declared in
// LightCullKernelSource. Must match the kernel's @workgroup_size attribute.
const LightCullWorkgroupSize = 64

// TileCounts computes the number of tiles in each dimension for a given screen
// resolution and the configured TileSize.
//
// Parameters:
//   - screenWidth: screen width in pixels
//   - screenHeight: screen height in pixels
//
// Returns:
//   - tileCountX: number of tile columns
//   - tileCountY: number of tile rows
func TileCounts(screenWidth, screenHeight int) (tileCountX, tileCountY uint32) {
	tileCountX = (uint32(screenWidth) + TileSize - 1) / TileSize
	tileCountY = (uint32(screenHeight) + TileSize - 1) / TileSize
	return
}

// TileCone is a view-space bounding cone for one screen tile. The cone's apex
// is the camera position (the view-space origin); Axis is the normalized
// average of the tile's four corner rays, and CosAngle/TanAngle describe the
// half-angle that just contains all four corners.
type TileCone struct {
	Axis     [3]float32
	CosAngle float32
	TanAngle float32
}

// BuildTileCone constructs the bounding cone for the given tile by unprojecting
// the tile's four screen-space corners through the inverse projection matrix.
// The corner rays are averaged into the cone axis; the smallest dot product
// between a corner ray and the axis becomes cos(cone_angle).
//
// Parameters:
//   - invProj: the camera's inverse projection matrix (column-major, 16 floats)
//   - tileX, tileY: the tile's grid coordinates
//   - screenWidth, screenHeight: screen dimensions in pixels
//
// Returns:
//   - TileCone: the view-space bounding cone for the tile
func BuildTileCone(invProj []float32, tileX, tileY, screenWidth, screenHeight uint32) TileCone {
	// Tile bounds in pixels, clamped to the screen edge for partial tiles.
	x0 := float32(tileX * TileSize)
	y0 := float32(tileY * TileSize)
	x1 := x0 + TileSize
	y1 := y0 + TileSize
	if x1 > float32(screenWidth) {
		x1 = float32(screenWidth)
	}
	if y1 > float32(screenHeight) {
		y1 = float32(screenHeight)
	}

	corners := [4][2]float32{
		{x0, y0},
		{x1, y0},
		{x0, y1},
		{x1, y1},
	}

	var rays [4][3]float32
	var axis [3]float32
	for i, c := range corners {
		// Screen pixel to NDC. Screen Y grows downward, NDC Y grows upward.
		ndcX := c[0]/float32(screenWidth)*2.0 - 1.0
		ndcY := 1.0 - c[1]/float32(screenHeight)*2.0
		p := common.TransformPoint(invProj, ndcX, ndcY, 0.5)
		rays[i] = normalize3(p[0], p[1], p[2])
		axis[0] += rays[i][0]
		axis[1] += rays[i][1]
		axis[2] += rays[i][2]
	}
	axis = normalize3(axis[0], axis[1], axis[2])

	minDot := float32(1.0)
	for _, r := range rays {
		d := r[0]*axis[0] + r[1]*axis[1] + r[2]*axis[2]
		if d < minDot {
			minDot = d
		}
	}
	// Guard against degenerate FP drift putting the cosine outside [-1, 1].
	minDot = common.Clamp(minDot, -1.0, 1.0)

	sin := float32(math.Sqrt(float64(1.0 - minDot*minDot)))
	tan := float32(0)
	if minDot > 1e-6 {
		tan = sin / minDot
	}

	return TileCone{
		Axis:     axis,
		CosAngle: minDot,
		TanAngle: tan,
	}
}

// IntersectsSphere tests a view-space sphere against the cone using the
// Minkowski-sum method: the cone is inflated by the sphere's radius, reducing
// the test to point-vs-inflated-cone. A sphere containing the cone apex
// trivially intersects.
//
// Parameters:
//   - cx, cy, cz: view-space sphere center
//   - radius: sphere radius
//
// Returns:
//   - bool: true if the sphere intersects the inflated cone
func (c TileCone) IntersectsSphere(cx, cy, cz, radius float32) bool {
	distSq := cx*cx + cy*cy + cz*cz
	if distSq <= radius*radius {
		return true
	}

	// Axial projection of the center onto the cone axis.
	along := cx*c.Axis[0] + cy*c.Axis[1] + cz*c.Axis[2]
	if along < -radius {
		return false
	}

	// Distance from the axis at that projection.
	ortho := float32(math.Sqrt(math.Max(0, float64(distSq-along*along))))

	// Cone radius at the projection point, expanded by the sphere radius.
	// Dividing by cos accounts for the slant of the inflated cone surface.
	expanded := along*c.TanAngle + radius/maxF32(c.CosAngle, 1e-6)
	return ortho <= expanded
}

// CullResult holds the per-tile output of a CPU light culling pass: a flat
// index buffer with MaxLightsPerTile slots per tile and a parallel count
// buffer, matching the GPU buffer layout exactly.
type CullResult struct {
	TileCountX uint32
	TileCountY uint32
	Counts     []uint32 // len = TileCountX * TileCountY
	Indices    []uint32 // len = TileCountX * TileCountY * MaxLightsPerTile
}

// TileLights returns the light indices assigned to the given tile.
//
// Parameters:
//   - tileX, tileY: the tile's grid coordinates
//
// Returns:
//   - []uint32: the slice of light indices for the tile (length = tile count)
func (r *CullResult) TileLights(tileX, tileY uint32) []uint32 {
	tile := tileY*r.TileCountX + tileX
	n := r.Counts[tile]
	base := tile * MaxLightsPerTile
	return r.Indices[base : base+n]
}

// CullTile assigns lights to a single tile, mirroring one workgroup of the GPU
// kernel. Lights beyond MaxLightsPerTile are truncated.
//
// Parameters:
//   - cone: the tile's view-space bounding cone
//   - view: the camera view matrix (column-major, 16 floats)
//   - lights: the GPU light array in buffer order
//
// Returns:
//   - []uint32: indices of lights intersecting the tile cone, capped at MaxLightsPerTile
func CullTile(cone TileCone, view []float32, lights []GPULight) []uint32 {
	var out []uint32
	for i, l := range lights {
		if l.LightType != uint32(LightTypePoint) {
			continue
		}
		p := common.TransformPoint(view, l.Position[0], l.Position[1], l.Position[2])
		if cone.IntersectsSphere(p[0], p[1], p[2], l.LightRange) {
			out = append(out, uint32(i))
			if len(out) >= MaxLightsPerTile {
				break
			}
		}
	}
	return out
}

// maxF32 returns the larger of two float32 values.
func maxF32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
