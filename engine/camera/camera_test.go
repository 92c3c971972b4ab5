package camera

import (
	"math"
	"testing"

	"github.com/kiln-engine/kiln/common"
)

func TestNewCameraDefaults(t *testing.T) {
	c := NewCamera()
	if c.Near() != 0.1 || c.Far() != 100.0 {
		t.Fatalf("unexpected default clip planes: near=%v far=%v", c.Near(), c.Far())
	}
	x, y, z := c.Up()
	if x != 0 || y != 1 || z != 0 {
		t.Fatalf("unexpected default up vector: (%v, %v, %v)", x, y, z)
	}
}

func TestViewMatrixTracksPosition(t *testing.T) {
	c := NewCamera(
		WithPosition(0, 0, 10),
		WithTarget(0, 0, 0),
	)

	// The view matrix must map the camera position to the view-space origin.
	view := c.ViewMatrix()
	px, py, pz := c.Position()
	vx := view[0]*px + view[4]*py + view[8]*pz + view[12]
	vy := view[1]*px + view[5]*py + view[9]*pz + view[13]
	vz := view[2]*px + view[6]*py + view[10]*pz + view[14]
	if math.Abs(float64(vx)) > 1e-5 || math.Abs(float64(vy)) > 1e-5 || math.Abs(float64(vz)) > 1e-5 {
		t.Fatalf("camera position did not map to origin: (%v, %v, %v)", vx, vy, vz)
	}

	c.SetPosition(5, 2, 10)
	if c.ViewMatrix() == view {
		t.Fatal("view matrix did not change after SetPosition")
	}
}

func TestInverseViewRoundtrip(t *testing.T) {
	c := NewCamera(
		WithPosition(3, 4, 5),
		WithTarget(0, 1, 0),
		WithAspect(16.0/9.0),
	)

	view := c.ViewMatrix()
	invView := c.InverseViewMatrix()

	var identity [16]float32
	common.Mul4(identity[:], invView[:], view[:])
	for i := range 16 {
		expected := float32(0)
		if i%5 == 0 {
			expected = 1
		}
		if math.Abs(float64(identity[i]-expected)) > 1e-4 {
			t.Fatalf("inverse view matrix roundtrip failed at index %d: got %v, want %v", i, identity[i], expected)
		}
	}
}

func TestInverseProjectionUnprojects(t *testing.T) {
	c := NewCamera(
		WithFov(float32(math.Pi/3)),
		WithAspect(1.5),
		WithNear(0.5),
		WithFar(200),
	)

	proj := c.ProjectionMatrix()
	invProj := c.InverseProjectionMatrix()

	// Project a view-space point, unproject the clip result, and compare.
	p := common.TransformPoint(proj[:], 1, -2, -50)
	r := common.TransformPoint(invProj[:], p[0], p[1], p[2])
	rx, ry, rz := r[0], r[1], r[2]
	if math.Abs(float64(rx-1)) > 1e-3 || math.Abs(float64(ry+2)) > 1e-3 || math.Abs(float64(rz+50)) > 1e-3 {
		t.Fatalf("unprojected point (%v, %v, %v), want (1, -2, -50)", rx, ry, rz)
	}
}

func TestCameraUniformMarshal(t *testing.T) {
	u := GPUCameraUniform{}
	if u.Size() != 80 {
		t.Fatalf("unexpected uniform size: %d", u.Size())
	}
	if len(u.Marshal()) != 80 {
		t.Fatalf("unexpected marshaled length: %d", len(u.Marshal()))
	}
}
