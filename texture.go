package overlay

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/driver"
)

// SampleResolve requests shader-side averaging of every sample of a
// multisampled source instead of a single sample.
const SampleResolve = ^uint32(0)

// TextureDisplay configures one texture preview draw.
type TextureDisplay struct {
	// Texture is the captured resource to preview.
	Texture driver.Texture

	// X, Y place the preview's top-left corner in window pixels.
	X, Y float32

	// Scale sizes the preview relative to the source dimensions. Zero or
	// negative requests fit-to-window.
	Scale float32

	// Red, Green, Blue, Alpha select the channels to display. A single
	// selected channel displays as grayscale.
	Red, Green, Blue, Alpha bool

	// RangeMin, RangeMax remap the displayed values: the shader shows
	// (value - RangeMin) / (RangeMax - RangeMin). A non-positive span
	// counts as 1.
	RangeMin, RangeMax float32

	// Mip and Slice select the subresource. Out-of-range values clamp.
	Mip   uint32
	Slice uint32

	// SampleIndex selects the sample of a multisampled source, clamped
	// into range. SampleResolve averages all samples instead.
	SampleIndex uint32

	// HighlightNaNs paints NaN texels magenta.
	HighlightNaNs bool

	// HighlightClipping paints texels below 0 red and above 1 green.
	HighlightClipping bool

	// GammaDisplay applies display gamma to the linear source values.
	GammaDisplay bool

	// RawOutput bypasses range, channel and gamma treatment and draws
	// opaque.
	RawOutput bool

	// AlphaBlend composites the preview over the window content instead
	// of overwriting it.
	AlphaBlend bool

	// Custom replaces the built-in display pipeline. The pipeline must be
	// built against the preview binding layout.
	Custom driver.Pipeline
}

// RenderTexture draws a preview of a captured texture into the current
// window and reports whether a draw was issued.
//
// The source is left in exactly the per-subresource states the tracker
// reported: the list records one transition per subresource to
// pixel-shader-readable before the draw and the inverse set after it, so the
// instrumented application resumes with its resource states intact.
func (m *Manager) RenderTexture(cfg TextureDisplay) bool {
	w := m.current
	if w == nil || cfg.Texture == nil {
		return false
	}

	format := cfg.Texture.Format()
	family, ok := formatFamily(format)
	if !ok {
		Logger().Warn("preview of unknown format", "format", uint32(format))
		return false
	}
	displayType := classifyDisplayType(cfg.Texture)
	if family != familyFloat && displayType != displayType2D {
		Logger().Warn("integer preview supports 2D sources only", "format", uint32(format))
		return false
	}
	texW := float32(cfg.Texture.Width())
	texH := float32(cfg.Texture.Height())
	if texW == 0 || texH == 0 {
		return false
	}

	mip := cfg.Mip
	if levels := cfg.Texture.MipLevels(); levels > 0 && mip >= levels {
		mip = levels - 1
	}
	slice := cfg.Slice
	if layers := cfg.Texture.Layers(); layers > 0 && slice >= layers {
		slice = layers - 1
	}
	sliceDepth := float32(0)
	if displayType == displayType3D {
		sliceDepth = (float32(slice) + 0.5) / float32(cfg.Texture.Layers())
	}

	sampleParam := int32(0)
	if count := cfg.Texture.SampleCount(); count > 1 {
		if cfg.SampleIndex == SampleResolve {
			sampleParam = -int32(count)
		} else {
			index := cfg.SampleIndex
			if index >= count {
				index = count - 1
			}
			sampleParam = int32(index)
		}
	}

	red, green, blue, alpha := cfg.Red, cfg.Green, cfg.Blue, cfg.Alpha
	if format == gputypes.TextureFormatR8Unorm && cfg.Scale <= 0 {
		// Single-channel sources route their sole channel to grayscale.
		red, green, blue, alpha = true, false, false, false
	}

	span := cfg.RangeMax - cfg.RangeMin
	if span <= 0 {
		span = 1
	}
	flagBits := int32(0)
	if cfg.HighlightNaNs {
		flagBits |= displayFlagNaNs
	}
	if cfg.HighlightClipping {
		flagBits |= displayFlagClipping
	}
	if cfg.GammaDisplay {
		flagBits |= displayFlagGamma
	}
	if cfg.RawOutput {
		flagBits |= displayFlagRaw
	}

	winW := float32(w.width)
	winH := float32(w.height)
	scale := cfg.Scale
	if scale <= 0 {
		scale = min(winW/texW, winH/texH)
	}
	extentX := texW * scale / winW * 2
	extentY := texH * scale / winH * 2
	ndcX := cfg.X/winW*2 - 1
	ndcTop := 1 - cfg.Y/winH*2

	vs := displayVSData{
		Position: [4]float32{ndcX, ndcTop - extentY, winW, winH},
		Scale:    [4]float32{extentX, extentY, winW / winH, 0},
	}
	ps := displayPSData{
		Channels: [4]float32{boolToFloat(red), boolToFloat(green), boolToFloat(blue), boolToFloat(alpha)},
		Range:    [4]float32{cfg.RangeMin, 1 / span, float32(mip), sliceDepth},
		Flags:    [4]int32{flagBits, sampleParam, displayType, family},
	}

	// Transient view into the slot matching the display type and family.
	slot := m.previewTable.Index + uint32(family)*familySlotStride + uint32(displayType)
	if err := m.device.CreateShaderResourceView(cfg.Texture, m.srvHeap.at(slot)); err != nil {
		Logger().Error("preview source view", "err", err)
		return false
	}

	var states []driver.ResourceState
	if m.tracker != nil {
		states = m.tracker.SubresourceStates(cfg.Texture.ID())
	}
	var enter, restore []driver.Transition
	for sub, state := range states {
		if state == driver.StatePixelShaderResource {
			continue
		}
		enter = append(enter, driver.Transition{
			Texture:     cfg.Texture,
			Subresource: uint32(sub),
			Before:      state,
			After:       driver.StatePixelShaderResource,
		})
		restore = append(restore, driver.Transition{
			Texture:     cfg.Texture,
			Subresource: uint32(sub),
			Before:      driver.StatePixelShaderResource,
			After:       state,
		})
	}

	pipeline := m.previewBlend
	if cfg.Custom != nil {
		pipeline = cfg.Custom
	} else if cfg.RawOutput || !cfg.AlphaBlend {
		pipeline = m.previewOpaque
	}

	constBuf := m.nextConstBuffer()
	if !m.fillDisplayConstants(constBuf, vs, ps) {
		return false
	}

	list, err := m.queue.NewCommandList()
	if err != nil {
		Logger().Error("preview command list", "err", err)
		return false
	}
	if len(enter) > 0 {
		list.Barrier(enter...)
	}
	m.setWindowTarget(list, w)
	list.SetPipeline(pipeline)
	list.SetBindingLayout(m.previewLayout)
	list.SetDescriptorHeaps(m.srvHeap.heap, m.samplerHeap.heap)
	list.SetConstantBuffer(previewSlotVSData, constBuf, 0)
	list.SetConstantBuffer(previewSlotPSData, constBuf, constPSOffset)
	list.SetDescriptorTable(previewSlotResources, m.previewTable)
	list.SetDescriptorTable(previewSlotSamplers, m.samplerTable)
	list.Draw(4, 1)
	if len(restore) > 0 {
		list.Barrier(restore...)
	}
	if err := list.Close(); err != nil {
		Logger().Error("close preview list", "err", err)
		return false
	}
	m.queue.Execute(list)
	return true
}

func classifyDisplayType(texture driver.Texture) int32 {
	switch {
	case texture.SampleCount() > 1:
		return displayType2DMS
	case texture.Dimension() == gputypes.TextureDimension1D:
		return displayType1D
	case texture.Dimension() == gputypes.TextureDimension3D:
		return displayType3D
	default:
		return displayType2D
	}
}

// formatFamily classifies a source format into the preview slot family.
// Formats outside the table cannot be previewed.
func formatFamily(format gputypes.TextureFormat) (int32, bool) {
	switch format {
	case gputypes.TextureFormatR8Unorm,
		gputypes.TextureFormatRG8Unorm,
		gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR16Float,
		gputypes.TextureFormatRG16Float,
		gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatR32Float,
		gputypes.TextureFormatRG32Float,
		gputypes.TextureFormatRGBA32Float:
		return familyFloat, true
	case gputypes.TextureFormatR8Uint,
		gputypes.TextureFormatR16Uint,
		gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatRG32Uint,
		gputypes.TextureFormatRGBA8Uint,
		gputypes.TextureFormatRGBA16Uint,
		gputypes.TextureFormatRGBA32Uint:
		return familyUInt, true
	case gputypes.TextureFormatR8Sint,
		gputypes.TextureFormatR16Sint,
		gputypes.TextureFormatR32Sint,
		gputypes.TextureFormatRG32Sint,
		gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatRGBA16Sint,
		gputypes.TextureFormatRGBA32Sint:
		return familySInt, true
	}
	return 0, false
}

func boolToFloat(v bool) float32 {
	if v {
		return 1
	}
	return 0
}
