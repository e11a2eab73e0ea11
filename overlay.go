package overlay

import (
	"errors"
	"fmt"
	"io"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/gogpu/overlay/driver"
	"github.com/gogpu/overlay/internal/atlas"
	"github.com/gogpu/overlay/shadercache"
)

// Errors returned by Manager construction.
var (
	// ErrNilDevice is returned by New when no device is supplied.
	ErrNilDevice = errors.New("overlay: nil device")

	// ErrProgramCompile is returned by New when a built-in program does
	// not compile; the compiler diagnostic is attached to the error text.
	ErrProgramCompile = errors.New("overlay: built-in program compile failed")

	// ErrBindingLayout is returned by New when a built-in binding layout
	// cannot be created. The device error is logged at the failure site.
	ErrBindingLayout = errors.New("overlay: binding layout creation failed")
)

// Text ring parameters. The ring holds fontBufferChars cells of
// charByteWidth bytes each, and one line may not reach fontMaxChars
// characters. The cursor advances in cursorAlignChars steps so every string
// start lands on a 256-byte constant-buffer offset.
const (
	fontBufferChars  = 4096
	fontMaxChars     = 256
	charByteWidth    = 16
	cursorAlignChars = 16
)

// Rotating per-draw constant pool. Each draw takes the next buffer; vertex
// constants sit at offset 0 and pixel constants at constPSOffset.
const (
	constRingSize   = 20
	constBufferSize = 512
	constPSOffset   = 256
)

const defaultFontPixelHeight = 18

// Config adjusts Manager construction. The zero value works: programs
// compile for SPIR-V 1.3, the built-in monospace face bakes at 18 pixels and
// the program cache lives in memory only.
type Config struct {
	// CachePath persists the program cache between sessions. Empty keeps
	// the cache in memory. Default: "".
	CachePath string

	// Profile selects the program backend, one of the Profile constants.
	// Default: ProfileSPIRV13.
	Profile string

	// FontTTF replaces the built-in monospace face. A fixed-advance face
	// fits the character grid best. Default: gomono.
	FontTTF []byte

	// FontPixelHeight is the bake height of the font atlas in pixels.
	// Default: 18.
	FontPixelHeight float64
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Profile:         ProfileSPIRV13,
		FontPixelHeight: defaultFontPixelHeight,
	}
}

// fontState is the baked atlas and the text draw plumbing built from it.
type fontState struct {
	texture  driver.Texture
	glyphBuf driver.Buffer
	ringBuf  driver.Buffer
	ringMem  []byte
	ringCap  int
	cursor   int

	advance    float32
	lineHeight float32
	texelW     float32
	texelH     float32
}

// Manager owns the overlay's device objects: the program cache, the four
// descriptor heaps, the binding layouts and fixed pipelines, the baked font
// and the output window registry.
//
// A Manager serves one device from one goroutine; nothing in it is safe for
// concurrent use. The only blocking entry points are CheckResize and Flip
// (and construction itself, which waits out the font atlas upload).
type Manager struct {
	device  driver.Device
	queue   driver.Queue
	tracker driver.StateTracker

	cache     *shadercache.Cache
	cachePath string
	profile   string

	// caching gates cache inserts; it is raised only while New compiles
	// the built-in programs.
	caching   bool
	compileFn func(source, entry, profile string, flags CompileFlags) ([]byte, string)

	rtvHeap     *descriptorHeap
	dsvHeap     *descriptorHeap
	srvHeap     *descriptorHeap
	samplerHeap *descriptorHeap

	// Fixed shader-visible plan, reserved at initialization: the font
	// atlas view, the preview source table, the two samplers.
	fontSRV      driver.Descriptor
	previewTable driver.Descriptor
	samplerTable driver.Descriptor

	textLayout    driver.BindingLayout
	previewLayout driver.BindingLayout

	textPipelines   map[gputypes.TextureFormat]driver.Pipeline
	previewBlend    driver.Pipeline
	previewOpaque   driver.Pipeline
	checkerPipeline driver.Pipeline

	font fontState

	constBuffers []driver.Buffer
	constCursor  int

	windows      map[uint64]*outputWindow
	nextWindowID uint64
	current      *outputWindow

	closed bool
}

var _ io.Closer = (*Manager)(nil)

// New builds a Manager over a borrowed device. The tracker reports the
// current states of captured resources handed to RenderTexture; the
// overlay's own resources are tracked internally.
//
// New loads the program cache, compiles the built-in programs (repeats serve
// from the cache), builds the binding layouts, pipelines and descriptor
// heaps, bakes and uploads the font atlas, and fills the glyph table and
// character ring. Any device failure rolls the manager back and returns a
// wrapped error.
func New(device driver.Device, tracker driver.StateTracker, cfg Config) (*Manager, error) {
	if device == nil {
		return nil, ErrNilDevice
	}

	m := &Manager{
		device:        device,
		queue:         device.Queue(),
		tracker:       tracker,
		cachePath:     cfg.CachePath,
		profile:       cfg.Profile,
		compileFn:     compileWGSL,
		textPipelines: make(map[gputypes.TextureFormat]driver.Pipeline),
		windows:       make(map[uint64]*outputWindow),
		nextWindowID:  1,
	}
	if m.profile == "" {
		m.profile = ProfileSPIRV13
	}

	m.cache = shadercache.New()
	if m.cachePath != "" {
		if err := m.cache.Load(m.cachePath); err != nil {
			Logger().Debug("program cache not loaded", "path", m.cachePath, "err", err)
		}
	}

	m.caching = true
	err := m.initGPU(cfg)
	m.caching = false
	if err != nil {
		m.Close()
		return nil, err
	}

	Logger().Debug("overlay manager ready", "profile", m.profile, "cachedPrograms", m.cache.Len())
	return m, nil
}

func (m *Manager) initGPU(cfg Config) error {
	if err := m.initHeaps(); err != nil {
		return err
	}
	if err := m.initSamplers(); err != nil {
		return err
	}
	if err := m.initLayouts(); err != nil {
		return err
	}
	if err := m.initPipelines(); err != nil {
		return err
	}
	if err := m.initFont(cfg); err != nil {
		return err
	}
	return m.initConstBuffers()
}

// initHeaps creates the four descriptor heaps and reserves the fixed
// shader-visible plan.
func (m *Manager) initHeaps() error {
	var err error
	if m.rtvHeap, err = newDescriptorHeap(m.device, driver.HeapRenderTarget, rtvHeapSize); err != nil {
		return err
	}
	if m.dsvHeap, err = newDescriptorHeap(m.device, driver.HeapDepthStencil, dsvHeapSize); err != nil {
		return err
	}
	if m.srvHeap, err = newDescriptorHeap(m.device, driver.HeapShaderVisible, srvHeapSize); err != nil {
		return err
	}
	if m.samplerHeap, err = newDescriptorHeap(m.device, driver.HeapSampler, samplerHeapSize); err != nil {
		return err
	}

	m.fontSRV = m.srvHeap.alloc()
	m.previewTable = m.srvHeap.allocRange(previewTableSize)
	m.samplerTable = m.samplerHeap.allocRange(2)
	return nil
}

// Sampler slot 0 filters linearly, slot 1 samples point.
func (m *Manager) initSamplers() error {
	linear := driver.SamplerDesc{
		Filter:      gputypes.FilterModeLinear,
		AddressMode: gputypes.AddressModeClampToEdge,
	}
	if err := m.device.CreateSampler(&linear, m.samplerTable); err != nil {
		return fmt.Errorf("overlay: create linear sampler: %w", err)
	}
	point := driver.SamplerDesc{
		Filter:      gputypes.FilterModeNearest,
		AddressMode: gputypes.AddressModeClampToEdge,
	}
	if err := m.device.CreateSampler(&point, m.samplerHeap.at(m.samplerTable.Index+1)); err != nil {
		return fmt.Errorf("overlay: create point sampler: %w", err)
	}
	return nil
}

func (m *Manager) initLayouts() error {
	if m.textLayout = m.buildBindingLayout(textLayoutSlots()); m.textLayout == nil {
		return fmt.Errorf("%w: text", ErrBindingLayout)
	}
	if m.previewLayout = m.buildBindingLayout(previewLayoutSlots()); m.previewLayout == nil {
		return fmt.Errorf("%w: preview", ErrBindingLayout)
	}
	return nil
}

// textPipelineFormats are the swapchain formats the text renderer supports;
// the draw picks the variant matching the bound window's swapchain.
var textPipelineFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA16Float,
}

func (m *Manager) compileBuiltin(source, entry string) ([]byte, error) {
	blob, diag := m.CompileProgram(source, entry, m.profile, 0)
	if blob == nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrProgramCompile, entry, diag)
	}
	return blob, nil
}

func (m *Manager) initPipelines() error {
	textVS, err := m.compileBuiltin(textShaderSource, textVSEntry)
	if err != nil {
		return err
	}
	textFS, err := m.compileBuiltin(textShaderSource, textFSEntry)
	if err != nil {
		return err
	}
	displayVS, err := m.compileBuiltin(texDisplayShaderSource, displayVSEntry)
	if err != nil {
		return err
	}
	displayFS, err := m.compileBuiltin(texDisplayShaderSource, displayFSEntry)
	if err != nil {
		return err
	}
	checkerVS, err := m.compileBuiltin(checkerboardShaderSource, checkerVSEntry)
	if err != nil {
		return err
	}
	checkerFS, err := m.compileBuiltin(checkerboardShaderSource, checkerFSEntry)
	if err != nil {
		return err
	}

	for _, format := range textPipelineFormats {
		pipeline, err := m.device.CreatePipeline(&driver.PipelineDesc{
			Label:         "overlay-text",
			Layout:        m.textLayout,
			VertexProgram: textVS,
			VertexEntry:   textVSEntry,
			PixelProgram:  textFS,
			PixelEntry:    textFSEntry,
			Topology:      gputypes.PrimitiveTopologyTriangleStrip,
			TargetFormat:  attachmentFormat(format),
			BlendEnabled:  true,
		})
		if err != nil {
			return fmt.Errorf("overlay: create text pipeline: %w", err)
		}
		m.textPipelines[format] = pipeline
	}

	preview := driver.PipelineDesc{
		Label:         "overlay-texture-preview",
		Layout:        m.previewLayout,
		VertexProgram: displayVS,
		VertexEntry:   displayVSEntry,
		PixelProgram:  displayFS,
		PixelEntry:    displayFSEntry,
		Topology:      gputypes.PrimitiveTopologyTriangleStrip,
		TargetFormat:  gputypes.TextureFormatRGBA8UnormSrgb,
		BlendEnabled:  true,
	}
	if m.previewBlend, err = m.device.CreatePipeline(&preview); err != nil {
		return fmt.Errorf("overlay: create preview pipeline: %w", err)
	}
	preview.BlendEnabled = false
	if m.previewOpaque, err = m.device.CreatePipeline(&preview); err != nil {
		return fmt.Errorf("overlay: create preview pipeline: %w", err)
	}

	checker := driver.PipelineDesc{
		Label:         "overlay-checkerboard",
		Layout:        m.previewLayout,
		VertexProgram: checkerVS,
		VertexEntry:   checkerVSEntry,
		PixelProgram:  checkerFS,
		PixelEntry:    checkerFSEntry,
		Topology:      gputypes.PrimitiveTopologyTriangleStrip,
		TargetFormat:  gputypes.TextureFormatRGBA8UnormSrgb,
	}
	if m.checkerPipeline, err = m.device.CreatePipeline(&checker); err != nil {
		return fmt.Errorf("overlay: create checkerboard pipeline: %w", err)
	}
	return nil
}

func (m *Manager) initFont(cfg Config) error {
	ttf := cfg.FontTTF
	if ttf == nil {
		ttf = gomono.TTF
	}
	pixelHeight := cfg.FontPixelHeight
	if pixelHeight <= 0 {
		pixelHeight = defaultFontPixelHeight
	}

	baked, err := atlas.Bake(ttf, pixelHeight)
	if err != nil {
		return fmt.Errorf("overlay: bake font atlas: %w", err)
	}
	m.font.advance = baked.Advance
	m.font.lineHeight = baked.PixelHeight
	m.font.texelW = 1.0 / atlas.Width
	m.font.texelH = 1.0 / atlas.Height

	texture, err := m.device.CreateTexture(&driver.TextureDesc{
		Label:        "overlay-font-atlas",
		Width:        atlas.Width,
		Height:       atlas.Height,
		Layers:       1,
		MipLevels:    1,
		SampleCount:  1,
		Dimension:    gputypes.TextureDimension2D,
		Format:       gputypes.TextureFormatR8Unorm,
		Usage:        gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		InitialState: driver.StateCopyDest,
	})
	if err != nil {
		return fmt.Errorf("overlay: create font atlas texture: %w", err)
	}
	m.font.texture = texture

	if err := m.uploadAtlas(baked); err != nil {
		return err
	}
	if err := m.device.CreateShaderResourceView(texture, m.fontSRV); err != nil {
		return fmt.Errorf("overlay: create font atlas view: %w", err)
	}
	return m.initFontBuffers(baked)
}

// uploadAtlas stages the coverage bitmap through a mapped buffer and copies
// it into the atlas texture, then waits the copy out. Initialization is the
// one place the overlay blocks on its own upload.
func (m *Manager) uploadAtlas(baked *atlas.Atlas) error {
	staging, err := m.device.CreateBuffer(&driver.BufferDesc{
		Label: "overlay-font-upload",
		Size:  uint64(len(baked.Pixels)),
		Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("overlay: create font staging buffer: %w", err)
	}
	defer staging.Release()

	mem, err := staging.Map()
	if err != nil {
		return fmt.Errorf("overlay: map font staging buffer: %w", err)
	}
	copy(mem, baked.Pixels)
	staging.Unmap()

	list, err := m.queue.NewCommandList()
	if err != nil {
		return fmt.Errorf("overlay: font upload list: %w", err)
	}
	list.CopyBufferToTexture(m.font.texture, staging, 0, atlas.Width)
	list.Barrier(driver.Transition{
		Texture:     m.font.texture,
		Subresource: driver.SubresourceAll,
		Before:      driver.StateCopyDest,
		After:       driver.StatePixelShaderResource,
	})
	if err := list.Close(); err != nil {
		return fmt.Errorf("overlay: close font upload list: %w", err)
	}
	m.queue.Execute(list)
	m.queue.Flush(true)
	return nil
}

func (m *Manager) initFontBuffers(baked *atlas.Atlas) error {
	table := buildGlyphTable(baked)
	glyphBuf, err := m.device.CreateBuffer(&driver.BufferDesc{
		Label: "overlay-glyph-table",
		Size:  uint64(len(table)),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageMapWrite,
	})
	if err != nil {
		return fmt.Errorf("overlay: create glyph table: %w", err)
	}
	m.font.glyphBuf = glyphBuf
	mem, err := glyphBuf.Map()
	if err != nil {
		return fmt.Errorf("overlay: map glyph table: %w", err)
	}
	copy(mem, table)
	glyphBuf.Unmap()

	ringBuf, err := m.device.CreateBuffer(&driver.BufferDesc{
		Label: "overlay-text-ring",
		Size:  fontBufferChars * charByteWidth,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageMapWrite,
	})
	if err != nil {
		return fmt.Errorf("overlay: create text ring: %w", err)
	}
	m.font.ringBuf = ringBuf

	// The ring stays mapped; text draws write through it at the cursor.
	if m.font.ringMem, err = ringBuf.Map(); err != nil {
		return fmt.Errorf("overlay: map text ring: %w", err)
	}
	m.font.ringCap = fontBufferChars
	return nil
}

func (m *Manager) initConstBuffers() error {
	m.constBuffers = make([]driver.Buffer, constRingSize)
	for i := range m.constBuffers {
		buf, err := m.device.CreateBuffer(&driver.BufferDesc{
			Label: "overlay-draw-constants",
			Size:  constBufferSize,
			Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageMapWrite,
		})
		if err != nil {
			return fmt.Errorf("overlay: create draw constants: %w", err)
		}
		m.constBuffers[i] = buf
	}
	return nil
}

// attachmentFormat maps a swapchain format to the window's render attachment
// format. Color attachments render in sRGB so text and previews composite in
// gamma space; float targets stay linear.
func attachmentFormat(swapchain gputypes.TextureFormat) gputypes.TextureFormat {
	switch swapchain {
	case gputypes.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8UnormSrgb
	case gputypes.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8UnormSrgb
	}
	return swapchain
}

// nextConstBuffer rotates the per-draw constant pool. The pool depth bounds
// how many overlay draws can be recorded before a buffer is rewritten.
func (m *Manager) nextConstBuffer() driver.Buffer {
	buf := m.constBuffers[m.constCursor]
	m.constCursor = (m.constCursor + 1) % len(m.constBuffers)
	return buf
}

// fillConstBuffer writes one draw's vertex-stage constants at offset 0.
func (m *Manager) fillConstBuffer(buf driver.Buffer, data []byte) bool {
	mem, err := buf.Map()
	if err != nil {
		Logger().Warn("map draw constants", "err", err)
		return false
	}
	copy(mem, data)
	buf.Unmap()
	return true
}

// fillDisplayConstants writes the preview vertex and pixel constants into
// one pool buffer at their fixed offsets.
func (m *Manager) fillDisplayConstants(buf driver.Buffer, vs displayVSData, ps displayPSData) bool {
	mem, err := buf.Map()
	if err != nil {
		Logger().Warn("map draw constants", "err", err)
		return false
	}
	copy(mem, vs.toBytes())
	copy(mem[constPSOffset:], ps.toBytes())
	buf.Unmap()
	return true
}

// Close releases the manager's device objects, persists the program cache
// when a path was configured, and empties the window registry. The borrowed
// device stays untouched. Close is idempotent.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	for id := range m.windows {
		m.CloseWindow(id)
	}

	for _, pipeline := range m.textPipelines {
		pipeline.Release()
	}
	m.textPipelines = nil
	if m.previewBlend != nil {
		m.previewBlend.Release()
	}
	if m.previewOpaque != nil {
		m.previewOpaque.Release()
	}
	if m.checkerPipeline != nil {
		m.checkerPipeline.Release()
	}
	if m.textLayout != nil {
		m.textLayout.Release()
	}
	if m.previewLayout != nil {
		m.previewLayout.Release()
	}
	for _, buf := range m.constBuffers {
		if buf != nil {
			buf.Release()
		}
	}
	m.constBuffers = nil
	if m.font.ringBuf != nil {
		if m.font.ringMem != nil {
			m.font.ringBuf.Unmap()
			m.font.ringMem = nil
		}
		m.font.ringBuf.Release()
	}
	if m.font.glyphBuf != nil {
		m.font.glyphBuf.Release()
	}
	if m.font.texture != nil {
		m.font.texture.Release()
	}

	var err error
	if m.cachePath != "" {
		if saveErr := m.cache.Save(m.cachePath); saveErr != nil {
			Logger().Warn("save program cache", "path", m.cachePath, "err", saveErr)
			err = fmt.Errorf("overlay: save program cache: %w", saveErr)
		}
	}
	m.cache.Close()
	return err
}
