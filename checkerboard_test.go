package overlay

import (
	"testing"
)

func TestRenderCheckerboard(t *testing.T) {
	m, dev, _ := newBoundManager(t)

	constBuf := m.constBuffers[m.constCursor]
	ops := len(dev.ExecutedOps)
	m.RenderCheckerboard([3]float32{0.8, 0.8, 0.8}, [3]float32{0.5, 0.5, 0.5})
	tail := dev.ExecutedOps[ops:]

	draws := opsOfKind(tail, "draw")
	if len(draws) != 1 || draws[0].VertexCount != 4 || draws[0].InstanceCount != 1 {
		t.Fatalf("expected one full-window quad, got %+v", draws)
	}
	sets := opsOfKind(tail, "set-pipeline")
	if len(sets) != 1 || sets[0].Pipeline != m.checkerPipeline {
		t.Fatalf("expected the checkerboard pipeline, got %+v", sets)
	}

	mem := bufferContents(t, constBuf)
	if got := readVec4(mem, 0); got != [4]float32{-1, -1, 800, 600} {
		t.Fatalf("expected the quad anchored at the viewport corner, got %v", got)
	}
	if got := readVec4(mem, 16); got != [4]float32{2, 2, 800.0 / 600.0, 0} {
		t.Fatalf("expected the quad spanning the viewport, got %v", got)
	}
	if got := readVec4(mem, constPSOffset); got != [4]float32{0.8, 0.8, 0.8, 1} {
		t.Fatalf("expected the light color in the channel slot, got %v", got)
	}
	if got := readVec4(mem, constPSOffset+16); got != [4]float32{0.5, 0.5, 0.5, 1} {
		t.Fatalf("expected the dark color in the secondary slot, got %v", got)
	}
	requireNoViolations(t, dev)
}

func TestRenderCheckerboardWithoutWindow(t *testing.T) {
	m, dev := newTestManager(t)

	ops := len(dev.ExecutedOps)
	m.RenderCheckerboard([3]float32{1, 1, 1}, [3]float32{0, 0, 0})
	if got := len(dev.ExecutedOps); got != ops {
		t.Fatalf("expected no operations without a bound window, got %d new", got-ops)
	}
}
