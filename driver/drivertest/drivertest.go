// Package drivertest provides an in-memory driver.Device for tests.
//
// The fake applies barrier transitions to a per-subresource state table when
// lists execute, so it doubles as the driver.StateTracker consumed by the
// texture previewer. It records an ordered event log (execute, flush, resize,
// present) and collects contract violations (barrier state mismatches,
// resizing a swapchain with work still in flight or buffers still acquired)
// instead of failing, so tests can assert on them.
package drivertest

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/driver"
)

var errInjected = errors.New("drivertest: injected failure")

// Op is one recorded command-list operation. Kind selects which fields are
// meaningful.
type Op struct {
	Kind string

	Transitions []driver.Transition // "barrier"

	VertexCount   uint32 // "draw"
	InstanceCount uint32

	Color   [4]float32 // "clear-color"
	Depth   float32    // "clear-depth"
	Stencil uint8

	Slot   uint32 // "set-constant-buffer", "set-table"
	Offset uint64

	Pipeline   driver.Pipeline   // "set-pipeline"
	Descriptor driver.Descriptor // "set-table", "clear-*", "set-render-target"

	Viewport [4]float32 // "viewport"
}

// Device is an in-memory driver implementation.
type Device struct {
	queue *Queue

	nextResource uint64
	nextHeapBase uint64

	states map[uint64][]driver.ResourceState

	// Events is the ordered submission log: "execute", "flush wait=<bool>",
	// "resize <w>x<h>", "present".
	Events []string

	// Violations collects barrier and resize contract breaches.
	Violations []string

	// ExecutedOps is every operation applied by Execute, in order.
	ExecutedOps []Op

	// RTVs, DSVs and SRVs map heap slot index to the viewed resource id.
	RTVs map[uint32]uint64
	DSVs map[uint32]uint64
	SRVs map[uint32]uint64

	// Samplers maps sampler-heap slot index to the written description.
	Samplers map[uint32]driver.SamplerDesc

	// Failure injection. While set, the matching Create* calls fail.
	FailTextures   bool
	FailBuffers    bool
	FailSwapchains bool
	FailPipelines  bool
	FailLayouts    bool

	inFlight bool
}

// New creates an empty device.
func New() *Device {
	d := &Device{
		nextHeapBase: 0x10000,
		states:       make(map[uint64][]driver.ResourceState),
		RTVs:         make(map[uint32]uint64),
		DSVs:         make(map[uint32]uint64),
		SRVs:         make(map[uint32]uint64),
		Samplers:     make(map[uint32]driver.SamplerDesc),
	}
	d.queue = &Queue{dev: d}
	return d
}

// Queue returns the device's queue.
func (d *Device) Queue() driver.Queue { return d.queue }

// SubresourceStates implements driver.StateTracker from the applied barriers.
func (d *Device) SubresourceStates(resource uint64) []driver.ResourceState {
	s, ok := d.states[resource]
	if !ok {
		return nil
	}
	out := make([]driver.ResourceState, len(s))
	copy(out, s)
	return out
}

// SetStates overwrites a resource's tracked states, standing in for the
// captured application having used the resource.
func (d *Device) SetStates(resource uint64, states []driver.ResourceState) {
	s := make([]driver.ResourceState, len(states))
	copy(s, states)
	d.states[resource] = s
}

func (d *Device) violate(format string, args ...any) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

// CreateDescriptorHeap implements driver.Device.
func (d *Device) CreateDescriptorHeap(kind driver.HeapKind, capacity uint32) (driver.DescriptorHeap, error) {
	stride := uint32(32)
	if kind == driver.HeapShaderVisible {
		stride = 64
	}
	h := &heap{kind: kind, capacity: capacity, stride: stride, base: d.nextHeapBase}
	d.nextHeapBase += uint64(capacity)*uint64(stride) + 0x1000
	return h, nil
}

// CreateTexture implements driver.Device.
func (d *Device) CreateTexture(desc *driver.TextureDesc) (driver.Texture, error) {
	if d.FailTextures {
		return nil, errInjected
	}
	t := d.newTexture(*desc)
	return t, nil
}

func (d *Device) newTexture(desc driver.TextureDesc) *texture {
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.SampleCount == 0 {
		desc.SampleCount = 1
	}
	d.nextResource++
	t := &texture{dev: d, id: d.nextResource, desc: desc}
	states := make([]driver.ResourceState, t.Subresources())
	for i := range states {
		states[i] = desc.InitialState
	}
	d.states[t.id] = states
	return t
}

// CreateBuffer implements driver.Device.
func (d *Device) CreateBuffer(desc *driver.BufferDesc) (driver.Buffer, error) {
	if d.FailBuffers {
		return nil, errInjected
	}
	return &buffer{data: make([]byte, desc.Size)}, nil
}

// CreateSwapchain implements driver.Device.
func (d *Device) CreateSwapchain(win driver.Window, desc *driver.SwapchainDesc) (driver.Swapchain, error) {
	if d.FailSwapchains {
		return nil, errInjected
	}
	sc := &swapchain{dev: d, win: win, desc: *desc}
	sc.createBuffers()
	return sc, nil
}

// SerializeBindingLayout implements driver.Device. The wire format is a
// naive fixed-width encoding; only its round-trip through
// CreateBindingLayout matters here.
func (d *Device) SerializeBindingLayout(slots []driver.BindingSlot) ([]byte, error) {
	if d.FailLayouts {
		return nil, errInjected
	}
	out := make([]byte, 0, len(slots)*4)
	for _, s := range slots {
		out = append(out, byte(s.Kind), byte(s.Register), byte(s.Count), byte(s.Visibility))
	}
	return out, nil
}

// CreateBindingLayout implements driver.Device.
func (d *Device) CreateBindingLayout(serialized []byte) (driver.BindingLayout, error) {
	if d.FailLayouts {
		return nil, errInjected
	}
	if len(serialized)%4 != 0 {
		return nil, fmt.Errorf("drivertest: malformed layout blob of %d bytes", len(serialized))
	}
	return &bindingLayout{blob: serialized}, nil
}

// CreatePipeline implements driver.Device.
func (d *Device) CreatePipeline(desc *driver.PipelineDesc) (driver.Pipeline, error) {
	if d.FailPipelines {
		return nil, errInjected
	}
	if desc.Layout == nil {
		return nil, errors.New("drivertest: pipeline without layout")
	}
	if len(desc.VertexProgram) == 0 || len(desc.PixelProgram) == 0 {
		return nil, errors.New("drivertest: pipeline without programs")
	}
	return &Pipeline{Desc: *desc}, nil
}

// CreateSampler implements driver.Device.
func (d *Device) CreateSampler(desc *driver.SamplerDesc, dst driver.Descriptor) error {
	d.Samplers[dst.Index] = *desc
	return nil
}

// CreateRenderTargetView implements driver.Device.
func (d *Device) CreateRenderTargetView(t driver.Texture, dst driver.Descriptor) error {
	d.RTVs[dst.Index] = t.ID()
	return nil
}

// CreateDepthStencilView implements driver.Device.
func (d *Device) CreateDepthStencilView(t driver.Texture, dst driver.Descriptor) error {
	d.DSVs[dst.Index] = t.ID()
	return nil
}

// CreateShaderResourceView implements driver.Device.
func (d *Device) CreateShaderResourceView(t driver.Texture, dst driver.Descriptor) error {
	d.SRVs[dst.Index] = t.ID()
	return nil
}

type heap struct {
	kind     driver.HeapKind
	capacity uint32
	stride   uint32
	base     uint64
}

func (h *heap) Kind() driver.HeapKind { return h.kind }
func (h *heap) Capacity() uint32      { return h.capacity }
func (h *heap) Stride() uint32        { return h.stride }
func (h *heap) Base() uint64          { return h.base }

type texture struct {
	dev      *Device
	id       uint64
	desc     driver.TextureDesc
	released bool

	// pixels holds data written by CopyBufferToTexture.
	pixels []byte

	swap      *swapchain
	swapIndex int
}

func (t *texture) ID() uint64                           { return t.id }
func (t *texture) Format() gputypes.TextureFormat       { return t.desc.Format }
func (t *texture) Width() uint32                        { return t.desc.Width }
func (t *texture) Height() uint32                       { return t.desc.Height }
func (t *texture) Layers() uint32                       { return t.desc.Layers }
func (t *texture) MipLevels() uint32                    { return t.desc.MipLevels }
func (t *texture) SampleCount() uint32                  { return t.desc.SampleCount }
func (t *texture) Dimension() gputypes.TextureDimension { return t.desc.Dimension }

func (t *texture) Subresources() uint32 {
	layers := t.desc.Layers
	if t.desc.Dimension == gputypes.TextureDimension3D {
		layers = 1
	}
	return t.desc.MipLevels * layers
}

func (t *texture) Release() {
	t.released = true
	if t.swap != nil {
		t.swap.acquired[t.swapIndex] = false
	}
}

// Pixels returns the data last copied into the texture.
func (t *texture) Pixels() []byte { return t.pixels }

type buffer struct {
	data   []byte
	mapped bool
}

func (b *buffer) Size() uint64 { return uint64(len(b.data)) }

func (b *buffer) Map() ([]byte, error) {
	b.mapped = true
	return b.data, nil
}

func (b *buffer) Unmap()   { b.mapped = false }
func (b *buffer) Release() {}

// Contents returns the buffer memory for assertions.
func (b *buffer) Contents() []byte { return b.data }

type bindingLayout struct {
	blob []byte
}

func (l *bindingLayout) Release() {}

// Pipeline records the description it was created from.
type Pipeline struct {
	Desc driver.PipelineDesc
}

// Release implements driver.Pipeline.
func (p *Pipeline) Release() {}

type swapchain struct {
	dev      *Device
	win      driver.Window
	desc     driver.SwapchainDesc
	buffers  []*texture
	acquired []bool
	released bool
}

func (s *swapchain) createBuffers() {
	s.buffers = make([]*texture, s.desc.BufferCount)
	s.acquired = make([]bool, s.desc.BufferCount)
	for i := range s.buffers {
		t := s.dev.newTexture(driver.TextureDesc{
			Label:        fmt.Sprintf("backbuffer %d", i),
			Width:        s.desc.Width,
			Height:       s.desc.Height,
			Dimension:    gputypes.TextureDimension2D,
			Format:       s.desc.Format,
			InitialState: driver.StatePresent,
		})
		t.swap = s
		t.swapIndex = i
		s.buffers[i] = t
	}
}

// Buffer implements driver.Swapchain.
func (s *swapchain) Buffer(i int) (driver.Texture, error) {
	if i < 0 || i >= len(s.buffers) {
		return nil, fmt.Errorf("drivertest: back buffer %d out of range", i)
	}
	s.acquired[i] = true
	return s.buffers[i], nil
}

// Resize implements driver.Swapchain. It records violations when GPU work is
// still in flight or buffer references are still held.
func (s *swapchain) Resize(width, height uint32) error {
	if s.dev.inFlight {
		s.dev.violate("resize %dx%d with GPU work in flight", width, height)
	}
	for i, a := range s.acquired {
		if a {
			s.dev.violate("resize %dx%d with back buffer %d still acquired", width, height, i)
		}
	}
	for _, b := range s.buffers {
		delete(s.dev.states, b.id)
	}
	s.desc.Width, s.desc.Height = width, height
	s.createBuffers()
	s.dev.Events = append(s.dev.Events, fmt.Sprintf("resize %dx%d", width, height))
	return nil
}

// Present implements driver.Swapchain.
func (s *swapchain) Present() error {
	s.dev.Events = append(s.dev.Events, "present")
	return nil
}

// Release implements driver.Swapchain.
func (s *swapchain) Release() { s.released = true }

// CommandList records operations and applies them on Execute.
type CommandList struct {
	dev    *Device
	closed bool

	// Ops is the recorded operation sequence.
	Ops []Op
}

// Queue implements driver.Queue over the fake device.
type Queue struct {
	dev *Device
}

// NewCommandList implements driver.Queue.
func (q *Queue) NewCommandList() (driver.CommandList, error) {
	return &CommandList{dev: q.dev}, nil
}

// Execute applies the recorded operations of each closed list in order.
func (q *Queue) Execute(lists ...driver.CommandList) {
	q.dev.Events = append(q.dev.Events, "execute")
	q.dev.inFlight = true
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			q.dev.violate("execute of a foreign command list")
			continue
		}
		if !cl.closed {
			q.dev.violate("execute of an open command list")
		}
		for _, op := range cl.Ops {
			q.dev.apply(op)
		}
	}
}

// Flush implements driver.Queue. A wait drains all in-flight work.
func (q *Queue) Flush(wait bool) {
	q.dev.Events = append(q.dev.Events, fmt.Sprintf("flush wait=%v", wait))
	if wait {
		q.dev.inFlight = false
	}
}

func (d *Device) apply(op Op) {
	d.ExecutedOps = append(d.ExecutedOps, op)
	if op.Kind != "barrier" {
		return
	}
	for _, tr := range op.Transitions {
		states := d.states[tr.Texture.ID()]
		if states == nil {
			d.violate("barrier on untracked resource %d", tr.Texture.ID())
			continue
		}
		apply := func(i uint32) {
			if states[i] != tr.Before {
				d.violate("resource %d sub %d: in state %s, barrier expects %s",
					tr.Texture.ID(), i, states[i], tr.Before)
			}
			states[i] = tr.After
		}
		if tr.Subresource == driver.SubresourceAll {
			for i := range states {
				apply(uint32(i))
			}
		} else if int(tr.Subresource) < len(states) {
			apply(tr.Subresource)
		} else {
			d.violate("barrier on resource %d sub %d out of range", tr.Texture.ID(), tr.Subresource)
		}
	}
}

// Barrier implements driver.CommandList.
func (c *CommandList) Barrier(transitions ...driver.Transition) {
	ts := make([]driver.Transition, len(transitions))
	copy(ts, transitions)
	c.record(Op{Kind: "barrier", Transitions: ts})
}

// SetRenderTarget implements driver.CommandList.
func (c *CommandList) SetRenderTarget(color driver.Descriptor, depth *driver.Descriptor) {
	op := Op{Kind: "set-render-target", Descriptor: color}
	if depth != nil {
		op.Offset = 1
	}
	c.record(op)
}

// SetViewport implements driver.CommandList.
func (c *CommandList) SetViewport(x, y, width, height float32) {
	c.record(Op{Kind: "viewport", Viewport: [4]float32{x, y, width, height}})
}

// SetScissor implements driver.CommandList.
func (c *CommandList) SetScissor(x, y, width, height int32) {
	c.record(Op{Kind: "scissor", Viewport: [4]float32{float32(x), float32(y), float32(width), float32(height)}})
}

// SetPipeline implements driver.CommandList.
func (c *CommandList) SetPipeline(p driver.Pipeline) {
	c.record(Op{Kind: "set-pipeline", Pipeline: p})
}

// SetBindingLayout implements driver.CommandList.
func (c *CommandList) SetBindingLayout(l driver.BindingLayout) {
	c.record(Op{Kind: "set-layout"})
}

// SetDescriptorHeaps implements driver.CommandList.
func (c *CommandList) SetDescriptorHeaps(heaps ...driver.DescriptorHeap) {
	c.record(Op{Kind: "set-heaps"})
}

// SetConstantBuffer implements driver.CommandList.
func (c *CommandList) SetConstantBuffer(slot uint32, buf driver.Buffer, offset uint64) {
	c.record(Op{Kind: "set-constant-buffer", Slot: slot, Offset: offset})
}

// SetDescriptorTable implements driver.CommandList.
func (c *CommandList) SetDescriptorTable(slot uint32, d driver.Descriptor) {
	c.record(Op{Kind: "set-table", Slot: slot, Descriptor: d})
}

// Draw implements driver.CommandList.
func (c *CommandList) Draw(vertexCount, instanceCount uint32) {
	c.record(Op{Kind: "draw", VertexCount: vertexCount, InstanceCount: instanceCount})
}

// ClearRenderTarget implements driver.CommandList.
func (c *CommandList) ClearRenderTarget(d driver.Descriptor, rgba [4]float32) {
	c.record(Op{Kind: "clear-color", Descriptor: d, Color: rgba})
}

// ClearDepthStencil implements driver.CommandList.
func (c *CommandList) ClearDepthStencil(d driver.Descriptor, depth float32, stencil uint8) {
	c.record(Op{Kind: "clear-depth", Descriptor: d, Depth: depth, Stencil: stencil})
}

// CopyTexture implements driver.CommandList.
func (c *CommandList) CopyTexture(dst, src driver.Texture) {
	if dt, ok := dst.(*texture); ok {
		if st, ok := src.(*texture); ok {
			dt.pixels = append(dt.pixels[:0], st.pixels...)
		}
	}
	c.record(Op{Kind: "copy-texture"})
}

// CopyBufferToTexture implements driver.CommandList.
func (c *CommandList) CopyBufferToTexture(dst driver.Texture, src driver.Buffer, srcOffset uint64, bytesPerRow uint32) {
	if dt, ok := dst.(*texture); ok {
		if sb, ok := src.(*buffer); ok {
			n := uint64(bytesPerRow) * uint64(dst.Height())
			if srcOffset+n <= uint64(len(sb.data)) {
				dt.pixels = append(dt.pixels[:0], sb.data[srcOffset:srcOffset+n]...)
			}
		}
	}
	c.record(Op{Kind: "copy-buffer-to-texture", Offset: srcOffset})
}

// Close implements driver.CommandList.
func (c *CommandList) Close() error {
	if c.closed {
		return errors.New("drivertest: command list closed twice")
	}
	c.closed = true
	return nil
}

func (c *CommandList) record(op Op) {
	if c.closed {
		c.dev.violate("%s recorded into a closed list", op.Kind)
		return
	}
	c.Ops = append(c.Ops, op)
}

// Window is a fake native window with a settable client area.
type Window struct {
	W, H   uint32
	Hidden bool
}

// ClientSize implements driver.Window.
func (w *Window) ClientSize() (uint32, uint32) { return w.W, w.H }

// Visible implements driver.Window.
func (w *Window) Visible() bool { return !w.Hidden }

// SetClientSize changes the window's client area, as the host windowing
// system would on a user resize.
func (w *Window) SetClientSize(width, height uint32) {
	w.W, w.H = width, height
}
