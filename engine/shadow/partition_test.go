package shadow

import (
	"math"
	"testing"

	"github.com/kiln-engine/kiln/common"
)

func approxEqual(a, b, tol float32) bool {
	return float32(math.Abs(float64(a-b))) <= tol
}

func TestComputeIntervalsBlendedSplit(t *testing.T) {
	// Three cascades over a reduced range of [0.1, 100] with an even blend.
	// The log split lands on powers of ten (1000^(1/3) = 10), so the interior
	// boundaries are easy to state exactly:
	//   boundary 1: lerp(0.1 + 99.9/3, 0.1*10,  0.5) = lerp(33.4, 1.0, 0.5) = 17.2
	//   boundary 2: lerp(0.1 + 66.6,   0.1*100, 0.5) = lerp(66.7, 10,  0.5) = 38.35
	bounds := ComputeIntervals(0.1, 100.0, 3, 0.5, 0.1, DefaultVirtualFar)

	if bounds[0] != 0.1 {
		t.Fatalf("boundary 0 = %v, want the near plane 0.1", bounds[0])
	}
	if !approxEqual(bounds[1], 17.2, 1e-3) {
		t.Fatalf("boundary 1 = %v, want 17.2", bounds[1])
	}
	if !approxEqual(bounds[2], 38.35, 1e-3) {
		t.Fatalf("boundary 2 = %v, want 38.35", bounds[2])
	}
	if bounds[3] != DefaultVirtualFar {
		t.Fatalf("boundary 3 = %v, want the virtual far %v", bounds[3], DefaultVirtualFar)
	}
}

func TestComputeIntervalsEndpointsForced(t *testing.T) {
	// The reduced range never widens the covered interval: the first and last
	// boundaries come from the camera, not from the visible geometry.
	bounds := ComputeIntervals(40.0, 60.0, 4, 0.5, 0.5, 300.0)
	if bounds[0] != 0.5 {
		t.Fatalf("boundary 0 = %v, want 0.5", bounds[0])
	}
	if bounds[4] != 300.0 {
		t.Fatalf("boundary 4 = %v, want 300", bounds[4])
	}
	for i := 1; i <= 4; i++ {
		if bounds[i] <= bounds[i-1] {
			t.Fatalf("boundaries not strictly increasing at %d: %v", i, bounds[:5])
		}
	}
}

func TestComputeIntervalsBlendExtremes(t *testing.T) {
	uniform := ComputeIntervals(1.0, 101.0, 2, 0.0, 1.0, 200.0)
	if !approxEqual(uniform[1], 51.0, 1e-3) {
		t.Fatalf("blend 0 boundary = %v, want the uniform split 51", uniform[1])
	}

	logarithmic := ComputeIntervals(1.0, 100.0, 2, 1.0, 1.0, 200.0)
	if !approxEqual(logarithmic[1], 10.0, 1e-3) {
		t.Fatalf("blend 1 boundary = %v, want the log split 10", logarithmic[1])
	}
}

func TestValidateCustomIntervals(t *testing.T) {
	if err := ValidateCustomIntervals([]float32{0.1, 10, 50, 200}, 3); err != nil {
		t.Fatalf("valid boundaries rejected: %v", err)
	}
	if err := ValidateCustomIntervals([]float32{0.1, 10, 50}, 3); err == nil {
		t.Fatal("short boundary list accepted")
	}
	if err := ValidateCustomIntervals([]float32{0.1, 50, 10, 200}, 3); err == nil {
		t.Fatal("non-increasing boundaries accepted")
	}
	if err := ValidateCustomIntervals([]float32{0.1, 200}, 0); err == nil {
		t.Fatal("zero partition count accepted")
	}
	if err := ValidateCustomIntervals(make([]float32, MaxPartitions+2), MaxPartitions+1); err == nil {
		t.Fatal("partition count above the kernel limit accepted")
	}
}

func TestLinearizeDepthMatchesProjection(t *testing.T) {
	const near, far = 0.1, 500.0
	proj := make([]float32, 16)
	common.Perspective(proj, math.Pi/3, 16.0/9.0, near, far)

	for _, zView := range []float32{near, 1, 25, 120, far} {
		clip := common.TransformPoint(proj, 0, 0, -zView)
		if got := LinearizeDepth(clip[2], near, far); !approxEqual(got, zView, zView*1e-4) {
			t.Fatalf("LinearizeDepth at view depth %v = %v", zView, got)
		}
	}
}

func TestLinearizeDepthEndpoints(t *testing.T) {
	const near, far = 0.5, 100.0
	if got := LinearizeDepth(0, near, far); !approxEqual(got, near, 1e-5) {
		t.Fatalf("LinearizeDepth(0) = %v, want the near plane", got)
	}
	if got := LinearizeDepth(1, near, far); !approxEqual(got, far, 1e-3) {
		t.Fatalf("LinearizeDepth(1) = %v, want the far plane", got)
	}
}
