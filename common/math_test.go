package common

import (
	"math"
	"testing"
)

const epsilon = 1e-4

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < epsilon
}

func TestMul4Identity(t *testing.T) {
	var ident, m, out [16]float32
	Identity(ident[:])
	Perspective(m[:], math.Pi/3, 16.0/9.0, 0.1, 100.0)

	Mul4(out[:], ident[:], m[:])
	for i := range out {
		if !approxEqual(out[i], m[i]) {
			t.Fatalf("identity * m differs at %d: got %v want %v", i, out[i], m[i])
		}
	}
}

func TestInvert4Roundtrip(t *testing.T) {
	var proj, inv, out [16]float32
	Perspective(proj[:], math.Pi/4, 1.5, 0.1, 500.0)

	if !Invert4(inv[:], proj[:]) {
		t.Fatal("perspective matrix reported singular")
	}

	Mul4(out[:], proj[:], inv[:])
	var ident [16]float32
	Identity(ident[:])
	for i := range out {
		if !approxEqual(out[i], ident[i]) {
			t.Fatalf("proj * inv differs from identity at %d: got %v", i, out[i])
		}
	}
}

func TestInvert4Singular(t *testing.T) {
	var zero, out [16]float32
	if Invert4(out[:], zero[:]) {
		t.Fatal("zero matrix should be singular")
	}
}

func TestTransformPointUnprojectsDepth(t *testing.T) {
	// A point on the view-space -Z axis should project to NDC (0, 0) and
	// unproject back to the same view depth.
	near, far := float32(0.1), float32(100.0)
	var proj, invProj [16]float32
	Perspective(proj[:], math.Pi/3, 1.0, near, far)
	if !Invert4(invProj[:], proj[:]) {
		t.Fatal("projection not invertible")
	}

	viewZ := float32(-25.0)
	clip := TransformPoint(proj[:], 0, 0, viewZ)
	back := TransformPoint(invProj[:], clip[0], clip[1], clip[2])

	if !approxEqual(back[2], viewZ) {
		t.Fatalf("unprojected view depth %v, want %v", back[2], viewZ)
	}
}

func TestLookAtMapsEyeToOrigin(t *testing.T) {
	var view [16]float32
	LookAt(view[:], 3, 4, 5, 0, 0, 0, 0, 1, 0)

	eye := TransformPoint(view[:], 3, 4, 5)
	for i, v := range eye {
		if !approxEqual(v, 0) {
			t.Fatalf("eye component %d = %v, want 0", i, v)
		}
	}
}

func TestLerp(t *testing.T) {
	tests := []struct {
		a, b, t, want float32
	}{
		{0, 10, 0.5, 5},
		{2, 2, 0.9, 2},
		{-1, 1, 0, -1},
		{-1, 1, 1, 1},
	}
	for _, tc := range tests {
		if got := Lerp(tc.a, tc.b, tc.t); !approxEqual(got, tc.want) {
			t.Errorf("Lerp(%v, %v, %v) = %v, want %v", tc.a, tc.b, tc.t, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp(5, 0, 1); got != 1 {
		t.Errorf("Clamp above = %v, want 1", got)
	}
	if got := Clamp(-5, 0, 1); got != 0 {
		t.Errorf("Clamp below = %v, want 0", got)
	}
	if got := Clamp(0.25, 0, 1); got != 0.25 {
		t.Errorf("Clamp inside = %v, want 0.25", got)
	}
}
