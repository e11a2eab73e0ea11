package overlay

import (
	"strings"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/driver/drivertest"
	"github.com/gogpu/overlay/internal/atlas"
)

// newBoundManager opens a window and binds it, leaving the manager ready for
// draw calls.
func newBoundManager(t *testing.T) (*Manager, *drivertest.Device, uint64) {
	t.Helper()
	m, dev := newTestManager(t)
	id := m.OpenWindow(&drivertest.Window{W: 800, H: 600}, false)
	if id == 0 {
		t.Fatal("expected a window id")
	}
	m.BindWindow(id)
	return m, dev, id
}

func TestRenderTextDrawsPerLine(t *testing.T) {
	m, dev, _ := newBoundManager(t)

	ops := len(dev.ExecutedOps)
	m.RenderText(1, 2, "ab\ncde")

	draws := opsOfKind(dev.ExecutedOps[ops:], "draw")
	if len(draws) != 2 {
		t.Fatalf("expected one draw per line, got %d", len(draws))
	}
	if draws[0].VertexCount != 4 || draws[0].InstanceCount != 2 {
		t.Fatalf("expected a 4-vertex strip with 2 instances, got %+v", draws[0])
	}
	if draws[1].InstanceCount != 3 {
		t.Fatalf("expected 3 instances on the second line, got %d", draws[1].InstanceCount)
	}
	requireNoViolations(t, dev)
}

func TestRenderTextEmptyLines(t *testing.T) {
	m, dev, _ := newBoundManager(t)

	ops := len(dev.ExecutedOps)
	m.RenderText(0, 0, "")
	m.RenderText(0, 0, "\n\n")
	if got := opsOfKind(dev.ExecutedOps[ops:], "draw"); len(got) != 0 {
		t.Fatalf("expected no draws for empty lines, got %d", len(got))
	}
}

func TestRenderTextWithoutWindow(t *testing.T) {
	m, dev := newTestManager(t)

	ops := len(dev.ExecutedOps)
	m.RenderText(0, 0, "nowhere")
	if got := len(dev.ExecutedOps); got != ops {
		t.Fatalf("expected no operations without a bound window, got %d new", got-ops)
	}
}

func TestRenderTextLongLinePanics(t *testing.T) {
	m, _ := newTestManager(t)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic for an overlong line")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "exceeds") {
			t.Fatalf("expected the length limit named, got %v", r)
		}
	}()
	m.RenderText(0, 0, "%s", strings.Repeat("x", fontMaxChars))
}

func TestRenderTextBindSequence(t *testing.T) {
	m, dev, _ := newBoundManager(t)

	ops := len(dev.ExecutedOps)
	m.RenderText(0, 0, "hi")
	tail := dev.ExecutedOps[ops:]

	want := []string{
		"set-render-target", "viewport", "scissor",
		"set-pipeline", "set-layout", "set-heaps",
		"set-constant-buffer", "set-constant-buffer", "set-constant-buffer",
		"set-table", "set-table",
		"draw",
	}
	if len(tail) != len(want) {
		t.Fatalf("expected %d operations, got %d", len(want), len(tail))
	}
	for i, kind := range want {
		if tail[i].Kind != kind {
			t.Fatalf("operation %d: expected %s, got %s", i, kind, tail[i].Kind)
		}
	}

	if p := tail[3].Pipeline; p != m.textPipelines[gputypes.TextureFormatRGBA8Unorm] {
		t.Fatalf("expected the text pipeline for the swapchain format, got %v", p)
	}
	if tail[9].Slot != textSlotAtlas || tail[9].Descriptor.Index != m.fontSRV.Index {
		t.Fatalf("expected the atlas table at slot %d, got %+v", textSlotAtlas, tail[9])
	}
	if tail[10].Slot != textSlotSamplers || tail[10].Descriptor.Index != m.samplerTable.Index {
		t.Fatalf("expected the sampler table at slot %d, got %+v", textSlotSamplers, tail[10])
	}
}

func TestRenderTextLayoutConstants(t *testing.T) {
	m, dev, _ := newBoundManager(t)

	constBuf := m.constBuffers[m.constCursor]
	ops := len(dev.ExecutedOps)
	m.RenderText(3, 5, "hello")

	mem := bufferContents(t, constBuf)
	if got := readVec4(mem, 0); got != [4]float32{3, 5, m.font.advance, m.font.lineHeight} {
		t.Fatalf("expected position constants {3 5 advance line}, got %v", got)
	}
	if got := readVec4(mem, 16); got != [4]float32{800, 600, 1.0 / atlas.Width, 1.0 / atlas.Height} {
		t.Fatalf("expected screen constants, got %v", got)
	}

	// The character ring binds at the cursor's byte offset.
	cbs := opsOfKind(dev.ExecutedOps[ops:], "set-constant-buffer")
	if len(cbs) != 3 || cbs[2].Slot != textSlotChars || cbs[2].Offset != 0 {
		t.Fatalf("expected the ring bound at offset 0, got %+v", cbs)
	}
}

func TestRenderTextCharEncoding(t *testing.T) {
	m, _, _ := newBoundManager(t)

	m.RenderText(0, 0, "AB")
	if got := readI32(m.font.ringMem, 0); got != 'A' {
		t.Fatalf("expected 'A' in the first ring cell, got %d", got)
	}
	if got := readI32(m.font.ringMem, charByteWidth); got != 'B' {
		t.Fatalf("expected 'B' in the second ring cell, got %d", got)
	}
}

func TestRenderTextCursorAlignment(t *testing.T) {
	m, dev, _ := newBoundManager(t)

	m.RenderText(0, 0, "abc")
	if m.font.cursor != cursorAlignChars {
		t.Fatalf("expected the cursor aligned to %d, got %d", cursorAlignChars, m.font.cursor)
	}

	ops := len(dev.ExecutedOps)
	m.RenderText(0, 1, "d")
	cbs := opsOfKind(dev.ExecutedOps[ops:], "set-constant-buffer")
	if cbs[2].Offset != cursorAlignChars*charByteWidth {
		t.Fatalf("expected the second string at byte offset %d, got %d",
			cursorAlignChars*charByteWidth, cbs[2].Offset)
	}
	if m.font.cursor != 2*cursorAlignChars {
		t.Fatalf("expected the cursor at %d, got %d", 2*cursorAlignChars, m.font.cursor)
	}
}

func TestRenderTextRingWrap(t *testing.T) {
	m, dev, _ := newBoundManager(t)

	// Shrink the ring so a short string hits the end. Strings never split
	// across the wrap; the cursor snaps back to the start instead.
	m.font.ringCap = 64
	m.font.cursor = 60

	ops := len(dev.ExecutedOps)
	m.RenderText(0, 0, "12345678")

	cbs := opsOfKind(dev.ExecutedOps[ops:], "set-constant-buffer")
	if cbs[2].Offset != 0 {
		t.Fatalf("expected the wrapped string at offset 0, got %d", cbs[2].Offset)
	}
	if got := readI32(m.font.ringMem, 0); got != '1' {
		t.Fatalf("expected the string rewritten at the ring start, got %d", got)
	}
	if m.font.cursor != 16 {
		t.Fatalf("expected the cursor advanced past the wrapped string, got %d", m.font.cursor)
	}
}

func TestRenderTextMissingPipeline(t *testing.T) {
	m, dev, id := newBoundManager(t)

	// A swapchain format without a text pipeline drops the draw, not the
	// process.
	m.windows[id].swapFormat = gputypes.TextureFormatRGBA32Float
	ops := len(dev.ExecutedOps)
	m.RenderText(0, 0, "skipped")
	if got := opsOfKind(dev.ExecutedOps[ops:], "draw"); len(got) != 0 {
		t.Fatalf("expected no draw without a pipeline, got %d", len(got))
	}
}

func TestGlyphTable(t *testing.T) {
	m, _ := newTestManager(t)

	mem := bufferContents(t, m.font.glyphBuf)
	if len(mem) != atlas.NumGlyphs*32 {
		t.Fatalf("expected %d glyph table bytes, got %d", atlas.NumGlyphs*32, len(mem))
	}

	// 'A' rasterizes to a nonzero rectangle; its table entry carries real
	// texel coordinates and extents.
	idx := int('A'-atlas.FirstChar) * 32
	rect := readVec4(mem, idx)
	size := readVec4(mem, idx+16)
	if rect[2] <= rect[0] || rect[3] <= rect[1] {
		t.Fatalf("expected a nonzero atlas rectangle for 'A', got %v", rect)
	}
	if size[2] <= 0 || size[3] <= 0 {
		t.Fatalf("expected a nonzero extent for 'A', got %v", size)
	}
}
