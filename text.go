package overlay

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gogpu/overlay/internal/atlas"
)

// RenderText formats a message and draws it into the current window. The
// position is in character cells from the top-left corner; each newline in
// the formatted text starts a fresh draw one cell further down. Positions
// are not clipped, callers place text inside the window themselves.
func (m *Manager) RenderText(x, y float32, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	for text != "" {
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			text = ""
		}
		m.renderTextInternal(x, y, line)
		y++
	}
}

// renderTextInternal draws one line of text as an instanced quad strip, one
// instance per character. Lines at or beyond fontMaxChars are a caller
// contract violation and panic; silently truncating would hide exactly the
// diagnostics the overlay exists to show.
func (m *Manager) renderTextInternal(x, y float32, text string) {
	if text == "" {
		return
	}
	if len(text) >= fontMaxChars {
		panic(fmt.Sprintf("overlay: text line of %d chars exceeds the %d limit", len(text), fontMaxChars))
	}
	w := m.current
	if w == nil {
		return
	}
	pipeline := m.textPipelines[w.swapFormat]
	if pipeline == nil {
		Logger().Warn("no text pipeline for swapchain format", "format", uint32(w.swapFormat))
		return
	}

	// Strings never split across the ring end; wrap the cursor first.
	if m.font.cursor+len(text) > m.font.ringCap {
		m.font.cursor = 0
	}
	offset := uint64(m.font.cursor) * charByteWidth
	mem := m.font.ringMem[offset:]
	for i := 0; i < len(text); i++ {
		binary.LittleEndian.PutUint32(mem[i*charByteWidth:], uint32(text[i]))
	}

	constants := textLayoutData{
		Position: [4]float32{x, y, m.font.advance, m.font.lineHeight},
		Screen:   [4]float32{float32(w.width), float32(w.height), m.font.texelW, m.font.texelH},
	}
	constBuf := m.nextConstBuffer()
	if !m.fillConstBuffer(constBuf, constants.toBytes()) {
		return
	}

	list, err := m.queue.NewCommandList()
	if err != nil {
		Logger().Error("text command list", "err", err)
		return
	}
	m.setWindowTarget(list, w)
	list.SetPipeline(pipeline)
	list.SetBindingLayout(m.textLayout)
	list.SetDescriptorHeaps(m.srvHeap.heap, m.samplerHeap.heap)
	list.SetConstantBuffer(textSlotLayout, constBuf, 0)
	list.SetConstantBuffer(textSlotGlyphs, m.font.glyphBuf, 0)
	list.SetConstantBuffer(textSlotChars, m.font.ringBuf, offset)
	list.SetDescriptorTable(textSlotAtlas, m.fontSRV)
	list.SetDescriptorTable(textSlotSamplers, m.samplerTable)
	list.Draw(4, uint32(len(text)))
	if err := list.Close(); err != nil {
		Logger().Error("close text list", "err", err)
		return
	}
	m.queue.Execute(list)

	// Advance past the string, keeping every start constant-buffer aligned.
	m.font.cursor += len(text)
	m.font.cursor = (m.font.cursor + cursorAlignChars - 1) / cursorAlignChars * cursorAlignChars
}

// buildGlyphTable lays out the glyph constants read by the text vertex
// shader: two vec4 entries per glyph, the atlas rectangle in texels followed
// by the placement metrics in pixels.
func buildGlyphTable(baked *atlas.Atlas) []byte {
	table := make([]byte, atlas.NumGlyphs*32)
	for i, g := range baked.Glyphs {
		putVec4(table[i*32:], [4]float32{
			g.U0 * atlas.Width,
			g.V0 * atlas.Height,
			g.U1 * atlas.Width,
			g.V1 * atlas.Height,
		})
		putVec4(table[i*32+16:], [4]float32{g.XOffset, g.YOffset, g.Width, g.Height})
	}
	return table
}
