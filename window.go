package overlay

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/driver"
)

// windowBufferCount is the swapchain depth of every output window.
const windowBufferCount = 2

// outputWindow is one registered native window: its swapchain, the sRGB
// color attachment the overlay renders into, and the optional depth
// attachment. A window whose device objects failed to create stays
// registered as a sentinel; every draw against it is a silent no-op.
type outputWindow struct {
	id     uint64
	native driver.Window

	swapchain  driver.Swapchain
	swapFormat gputypes.TextureFormat
	buffers    [windowBufferCount]driver.Texture
	bbIndex    int

	color    driver.Texture
	depth    driver.Texture
	rtv      driver.Descriptor
	dsv      driver.Descriptor
	useDepth bool

	width  uint32
	height uint32
}

func (w *outputWindow) sentinel() bool {
	return w.swapchain == nil || w.color == nil
}

// OpenWindow registers a native window and builds its presentation chain: a
// two-buffer flip swapchain and the overlay's render attachments at the
// window's client size. The returned id starts at 1 and is never reused; 0
// is never a valid id. Device failures leave the window registered as a
// sentinel and are logged, not returned.
func (m *Manager) OpenWindow(native driver.Window, depth bool) uint64 {
	if m.closed || native == nil {
		return 0
	}

	id := m.takeWindowID()
	w := &outputWindow{id: id, native: native, useDepth: depth}
	m.windows[id] = w
	w.width, w.height = native.ClientSize()

	swapchain, err := m.device.CreateSwapchain(native, &driver.SwapchainDesc{
		Width:       w.width,
		Height:      w.height,
		BufferCount: windowBufferCount,
		Format:      gputypes.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		Logger().Error("create swapchain", "window", id, "err", err)
		return id
	}
	w.swapchain = swapchain
	w.swapFormat = gputypes.TextureFormatRGBA8Unorm

	if err := m.acquireBuffers(w); err != nil {
		Logger().Error("acquire back buffers", "window", id, "err", err)
		return id
	}
	if err := m.createAttachments(w); err != nil {
		Logger().Error("create window attachments", "window", id, "err", err)
		return id
	}

	Logger().Debug("window opened", "window", id, "width", w.width, "height", w.height, "depth", depth)
	return id
}

func (m *Manager) acquireBuffers(w *outputWindow) error {
	for i := range w.buffers {
		buffer, err := w.swapchain.Buffer(i)
		if err != nil {
			return err
		}
		w.buffers[i] = buffer
	}
	w.bbIndex = 0
	return nil
}

// createAttachments builds the color and optional depth attachments at the
// window's current size and writes their views at the slots indexed by the
// window id.
func (m *Manager) createAttachments(w *outputWindow) error {
	color, err := m.device.CreateTexture(&driver.TextureDesc{
		Label:        "overlay-window-color",
		Width:        w.width,
		Height:       w.height,
		Layers:       1,
		MipLevels:    1,
		SampleCount:  1,
		Dimension:    gputypes.TextureDimension2D,
		Format:       attachmentFormat(w.swapFormat),
		Usage:        gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
		InitialState: driver.StateRenderTarget,
	})
	if err != nil {
		return err
	}
	w.color = color
	w.rtv = m.rtvHeap.at(uint32(w.id))
	if err := m.device.CreateRenderTargetView(color, w.rtv); err != nil {
		return err
	}

	if !w.useDepth {
		return nil
	}
	depth, err := m.device.CreateTexture(&driver.TextureDesc{
		Label:        "overlay-window-depth",
		Width:        w.width,
		Height:       w.height,
		Layers:       1,
		MipLevels:    1,
		SampleCount:  1,
		Dimension:    gputypes.TextureDimension2D,
		Format:       gputypes.TextureFormatDepth24PlusStencil8,
		Usage:        gputypes.TextureUsageRenderAttachment,
		InitialState: driver.StateDepthWrite,
	})
	if err != nil {
		return err
	}
	w.depth = depth
	w.dsv = m.dsvHeap.at(uint32(w.id))
	return m.device.CreateDepthStencilView(depth, w.dsv)
}

func (m *Manager) releaseBuffers(w *outputWindow) {
	for i, buffer := range w.buffers {
		if buffer != nil {
			buffer.Release()
			w.buffers[i] = nil
		}
	}
}

func (m *Manager) releaseAttachments(w *outputWindow) {
	if w.color != nil {
		w.color.Release()
		w.color = nil
	}
	if w.depth != nil {
		w.depth.Release()
		w.depth = nil
	}
}

// CheckResize compares the native client area against the cached size and
// reports whether the window was resized. On a change it waits out all
// pending GPU work first, then drops the back-buffer references, resizes the
// swapchain in place with the back-buffer index reset to 0, and rebuilds the
// attachments and their views at the new size.
//
// A window whose attachments failed to build earlier retries the rebuild
// here, so a degraded window heals on its next size change.
func (m *Manager) CheckResize(id uint64) bool {
	w := m.windows[id]
	if w == nil || w.swapchain == nil {
		return false
	}

	width, height := w.native.ClientSize()
	if width == 0 || height == 0 {
		return false
	}
	if width == w.width && height == w.height {
		return false
	}

	// Every in-flight reference to the old buffers must retire before the
	// swapchain may resize.
	m.queue.Flush(true)

	m.releaseBuffers(w)
	m.releaseAttachments(w)

	w.width, w.height = width, height
	if err := w.swapchain.Resize(width, height); err != nil {
		Logger().Error("resize swapchain", "window", id, "width", width, "height", height, "err", err)
		w.swapchain.Release()
		w.swapchain = nil
		return false
	}
	if err := m.acquireBuffers(w); err != nil {
		Logger().Error("acquire back buffers", "window", id, "err", err)
		return false
	}
	if err := m.createAttachments(w); err != nil {
		Logger().Error("create window attachments", "window", id, "err", err)
		return false
	}

	Logger().Debug("window resized", "window", id, "width", width, "height", height)
	return true
}

// Flip copies the finished color attachment into the current back buffer and
// presents it. Both textures return to their steady states inside the same
// list, the queue is flushed with wait so the copy has retired when Present
// runs, and the back-buffer index toggles afterwards.
func (m *Manager) Flip(id uint64) {
	w := m.windows[id]
	if w == nil || w.sentinel() {
		return
	}
	backbuffer := w.buffers[w.bbIndex]

	list, err := m.queue.NewCommandList()
	if err != nil {
		Logger().Error("flip command list", "window", id, "err", err)
		return
	}
	list.Barrier(
		driver.Transition{
			Texture:     w.color,
			Subresource: driver.SubresourceAll,
			Before:      driver.StateRenderTarget,
			After:       driver.StateCopySource,
		},
		driver.Transition{
			Texture:     backbuffer,
			Subresource: driver.SubresourceAll,
			Before:      driver.StatePresent,
			After:       driver.StateCopyDest,
		},
	)
	list.CopyTexture(backbuffer, w.color)
	list.Barrier(
		driver.Transition{
			Texture:     w.color,
			Subresource: driver.SubresourceAll,
			Before:      driver.StateCopySource,
			After:       driver.StateRenderTarget,
		},
		driver.Transition{
			Texture:     backbuffer,
			Subresource: driver.SubresourceAll,
			Before:      driver.StateCopyDest,
			After:       driver.StatePresent,
		},
	)
	if err := list.Close(); err != nil {
		Logger().Error("close flip list", "window", id, "err", err)
		return
	}
	m.queue.Execute(list)
	m.queue.Flush(true)

	if err := w.swapchain.Present(); err != nil {
		Logger().Warn("present", "window", id, "err", err)
	}
	w.bbIndex = (w.bbIndex + 1) % windowBufferCount
}

// CloseWindow releases the window's swapchain and attachments and removes it
// from the registry. Its descriptor slots are not reclaimed.
func (m *Manager) CloseWindow(id uint64) {
	w := m.windows[id]
	if w == nil {
		return
	}
	delete(m.windows, id)
	if m.current == w {
		m.current = nil
	}

	m.releaseBuffers(w)
	if w.swapchain != nil {
		w.swapchain.Release()
		w.swapchain = nil
	}
	m.releaseAttachments(w)
	m.releaseDescriptor(w.rtv)
	m.releaseDescriptor(w.dsv)
}

// BindWindow makes the window the current target of the draw operations and
// records its render targets, viewport and scissor onto a fresh list. An
// unknown or sentinel id clears the current target instead.
func (m *Manager) BindWindow(id uint64) {
	w := m.windows[id]
	if w == nil || w.sentinel() {
		m.current = nil
		return
	}
	m.current = w

	list, err := m.queue.NewCommandList()
	if err != nil {
		Logger().Error("bind window list", "window", id, "err", err)
		return
	}
	m.setWindowTarget(list, w)
	if err := list.Close(); err != nil {
		Logger().Error("close bind window list", "window", id, "err", err)
		return
	}
	m.queue.Execute(list)
}

// setWindowTarget records the window's render targets, viewport and scissor.
// Command lists carry no state across submissions, so every draw records
// this preamble itself.
func (m *Manager) setWindowTarget(list driver.CommandList, w *outputWindow) {
	var depth *driver.Descriptor
	if w.depth != nil {
		depth = &w.dsv
	}
	list.SetRenderTarget(w.rtv, depth)
	list.SetViewport(0, 0, float32(w.width), float32(w.height))
	list.SetScissor(0, 0, int32(w.width), int32(w.height))
}

// WindowDimensions returns the window's current attachment size in pixels.
func (m *Manager) WindowDimensions(id uint64) (width, height int) {
	w := m.windows[id]
	if w == nil {
		return 0, 0
	}
	return int(w.width), int(w.height)
}

// WindowVisible reports whether the native window is visible on screen.
func (m *Manager) WindowVisible(id uint64) bool {
	w := m.windows[id]
	if w == nil {
		return false
	}
	return w.native.Visible()
}

// ClearWindowColor clears the window's color attachment. The clear records
// onto its own list and is handed to the queue without waiting.
func (m *Manager) ClearWindowColor(id uint64, color [4]float32) {
	w := m.windows[id]
	if w == nil || w.sentinel() {
		return
	}
	list, err := m.queue.NewCommandList()
	if err != nil {
		Logger().Error("clear color list", "window", id, "err", err)
		return
	}
	list.ClearRenderTarget(w.rtv, color)
	if err := list.Close(); err != nil {
		Logger().Error("close clear color list", "window", id, "err", err)
		return
	}
	m.queue.Execute(list)
}

// ClearWindowDepth clears the window's depth attachment, if it has one.
func (m *Manager) ClearWindowDepth(id uint64, depth float32, stencil uint8) {
	w := m.windows[id]
	if w == nil || w.sentinel() || w.depth == nil {
		return
	}
	list, err := m.queue.NewCommandList()
	if err != nil {
		Logger().Error("clear depth list", "window", id, "err", err)
		return
	}
	list.ClearDepthStencil(w.dsv, depth, stencil)
	if err := list.Close(); err != nil {
		Logger().Error("close clear depth list", "window", id, "err", err)
		return
	}
	m.queue.Execute(list)
}
