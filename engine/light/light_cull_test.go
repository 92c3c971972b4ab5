package light

import (
	"math"
	"testing"

	"github.com/kiln-engine/kiln/common"
)

// testMatrices builds a perspective projection with its inverse and an identity
// view matrix (camera at origin looking down negative Z).
func testMatrices(t *testing.T, aspect float32) (invProj, view [16]float32) {
	t.Helper()
	var proj [16]float32
	common.Perspective(proj[:], float32(math.Pi/2), aspect, 0.1, 1000.0)
	if !common.Invert4(invProj[:], proj[:]) {
		t.Fatal("projection matrix not invertible")
	}
	common.Identity(view[:])
	return invProj, view
}

func TestTileCounts(t *testing.T) {
	x, y := TileCounts(1920, 1080)
	if x != 120 || y != 68 {
		t.Fatalf("TileCounts(1920, 1080) = (%d, %d), want (120, 68)", x, y)
	}

	x, y = TileCounts(48, 48)
	if x != 3 || y != 3 {
		t.Fatalf("TileCounts(48, 48) = (%d, %d), want (3, 3)", x, y)
	}
}

func TestFocalLightAppearsInEveryTile(t *testing.T) {
	// A single point light at the camera position with a huge range contains
	// every tile cone's apex, so it must land in all 9 tiles of a 3x3 grid.
	invProj, view := testMatrices(t, 1.0)
	lights := []GPULight{
		{LightType: uint32(LightTypePoint), Position: [3]float32{0, 0, 0}, LightRange: 1000},
	}

	result := CullScreen(invProj[:], view[:], lights, 48, 48, nil)
	if result.TileCountX != 3 || result.TileCountY != 3 {
		t.Fatalf("unexpected tile grid: %dx%d", result.TileCountX, result.TileCountY)
	}
	for ty := uint32(0); ty < 3; ty++ {
		for tx := uint32(0); tx < 3; tx++ {
			hits := result.TileLights(tx, ty)
			if len(hits) != 1 || hits[0] != 0 {
				t.Fatalf("tile (%d, %d): got indices %v, want [0]", tx, ty, hits)
			}
		}
	}
}

func TestCullSoundness(t *testing.T) {
	// A small light far behind the camera is outside every tile cone.
	invProj, view := testMatrices(t, 1.0)
	lights := []GPULight{
		{LightType: uint32(LightTypePoint), Position: [3]float32{0, 0, 500}, LightRange: 1},
	}

	result := CullScreen(invProj[:], view[:], lights, 48, 48, nil)
	for i, c := range result.Counts {
		if c != 0 {
			t.Fatalf("tile %d admitted a light behind the camera", i)
		}
	}
}

func TestCullCenterLightOnlyNearCenterTiles(t *testing.T) {
	// A small light straight ahead intersects the center tile's cone but not
	// the corner tiles of a wide grid.
	invProj, view := testMatrices(t, 1.0)
	lights := []GPULight{
		{LightType: uint32(LightTypePoint), Position: [3]float32{0, 0, -50}, LightRange: 0.5},
	}

	result := CullScreen(invProj[:], view[:], lights, 160, 160, nil)
	centerHits := result.TileLights(5, 5)
	if len(centerHits) == 0 {
		t.Fatal("center tile missed a light on its axis")
	}
	cornerHits := result.TileLights(0, 0)
	if len(cornerHits) != 0 {
		t.Fatalf("corner tile admitted a distant on-axis light: %v", cornerHits)
	}
}

func TestCullIgnoresNonPointLights(t *testing.T) {
	invProj, view := testMatrices(t, 1.0)
	lights := []GPULight{
		{LightType: uint32(LightTypeDirectional), Direction: [3]float32{0, -1, 0}},
		{LightType: uint32(LightTypePoint), Position: [3]float32{0, 0, 0}, LightRange: 1000},
	}

	result := CullScreen(invProj[:], view[:], lights, 32, 32, nil)
	hits := result.TileLights(0, 0)
	if len(hits) != 1 || hits[0] != 1 {
		t.Fatalf("got indices %v, want [1] (point light only, original buffer index)", hits)
	}
}

func TestCullZeroLights(t *testing.T) {
	invProj, view := testMatrices(t, 16.0/9.0)
	result := CullScreen(invProj[:], view[:], nil, 1920, 1080, nil)
	for i, c := range result.Counts {
		if c != 0 {
			t.Fatalf("tile %d has nonzero count %d with zero lights", i, c)
		}
	}
}

func TestCullTruncatesAtCapacity(t *testing.T) {
	invProj, view := testMatrices(t, 1.0)

	// More apex-containing lights than one tile can hold.
	lights := make([]GPULight, MaxLightsPerTile+32)
	for i := range lights {
		lights[i] = GPULight{
			LightType:  uint32(LightTypePoint),
			Position:   [3]float32{0, 0, 0},
			LightRange: 1000,
		}
	}

	result := CullScreen(invProj[:], view[:], lights, 16, 16, nil)
	if got := result.Counts[0]; got != MaxLightsPerTile {
		t.Fatalf("tile count = %d, want truncation at %d", got, MaxLightsPerTile)
	}
}

func TestConeSphereApexContainment(t *testing.T) {
	cone := TileCone{Axis: [3]float32{0, 0, -1}, CosAngle: 0.99, TanAngle: 0.1425}

	// Sphere containing the apex intersects regardless of direction.
	if !cone.IntersectsSphere(0, 0, 2, 5) {
		t.Fatal("sphere containing the apex must intersect")
	}
	// Sphere entirely behind the apex does not.
	if cone.IntersectsSphere(0, 0, 10, 1) {
		t.Fatal("sphere behind the apex must not intersect")
	}
	// Sphere ahead on the axis intersects.
	if !cone.IntersectsSphere(0, 0, -10, 1) {
		t.Fatal("sphere on the cone axis must intersect")
	}
	// Sphere far off-axis does not.
	if cone.IntersectsSphere(50, 0, -10, 1) {
		t.Fatal("sphere far off-axis must not intersect")
	}
}
