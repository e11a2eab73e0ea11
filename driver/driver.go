// Package driver defines the contract between the overlay renderer and the
// explicit-state graphics API it draws through.
//
// The overlay runs inside a capture/replay tool that intercepts the host
// application's graphics API. It therefore does not own a device: it receives
// one through the Device interface and issues all work through short-lived
// CommandLists obtained from the device's Queue. Resource access states are
// explicit; every incompatible access requires a Transition recorded into a
// command list, and the current per-subresource states of captured resources
// are reported by the external StateTracker.
//
// Implementations wrap a real API (or an in-memory fake, see drivertest).
// All interfaces in this package are single-threaded: the overlay calls them
// from one goroutine only.
package driver

import "github.com/gogpu/gputypes"

// ResourceState is the GPU-visible access state of a resource or one of its
// subresources. A resource must be transitioned between incompatible states
// with a Transition barrier before the new access is issued.
type ResourceState uint32

const (
	// StatePresent is the presentable/common state of a swapchain buffer.
	StatePresent ResourceState = iota
	// StateRenderTarget allows render-target writes.
	StateRenderTarget
	// StateDepthWrite allows depth/stencil writes.
	StateDepthWrite
	// StatePixelShaderResource allows sampled reads from the pixel stage.
	StatePixelShaderResource
	// StateCopySource allows the resource to be the source of a copy.
	StateCopySource
	// StateCopyDest allows the resource to be the destination of a copy.
	StateCopyDest
)

// String returns the state name for logs and test failures.
func (s ResourceState) String() string {
	switch s {
	case StatePresent:
		return "Present"
	case StateRenderTarget:
		return "RenderTarget"
	case StateDepthWrite:
		return "DepthWrite"
	case StatePixelShaderResource:
		return "PixelShaderResource"
	case StateCopySource:
		return "CopySource"
	case StateCopyDest:
		return "CopyDest"
	}
	return "Unknown"
}

// HeapKind selects one of the four descriptor heaps.
type HeapKind uint8

const (
	// HeapRenderTarget holds render-target view descriptors.
	HeapRenderTarget HeapKind = iota
	// HeapDepthStencil holds depth-stencil view descriptors.
	HeapDepthStencil
	// HeapShaderVisible holds constant/shader-resource/unordered descriptors
	// visible to shaders.
	HeapShaderVisible
	// HeapSampler holds sampler descriptors.
	HeapSampler
)

// String returns the heap name.
func (k HeapKind) String() string {
	switch k {
	case HeapRenderTarget:
		return "RenderTarget"
	case HeapDepthStencil:
		return "DepthStencil"
	case HeapShaderVisible:
		return "ShaderVisible"
	case HeapSampler:
		return "Sampler"
	}
	return "Unknown"
}

// DescriptorHeap is a fixed-capacity pool of descriptor slots. Slots are
// addressed as Base + index*Stride; the overlay allocates them by bumping an
// offset and never returns them.
type DescriptorHeap interface {
	// Kind returns the heap's kind.
	Kind() HeapKind

	// Capacity returns the number of slots in the heap.
	Capacity() uint32

	// Stride returns the size of one slot in address units.
	Stride() uint32

	// Base returns the address of slot 0.
	Base() uint64
}

// Descriptor addresses a single slot of a DescriptorHeap.
type Descriptor struct {
	Heap  DescriptorHeap
	Index uint32
}

// Address returns the slot's GPU-visible address, Base + Index*Stride.
func (d Descriptor) Address() uint64 {
	return d.Heap.Base() + uint64(d.Index)*uint64(d.Heap.Stride())
}

// SubresourceAll selects every subresource of a texture in a Transition.
const SubresourceAll = ^uint32(0)

// Transition declares a state change of one subresource (or all of them).
// Before must match the subresource's current state when the barrier executes.
type Transition struct {
	Texture     Texture
	Subresource uint32
	Before      ResourceState
	After       ResourceState
}

// BindingSlotKind distinguishes the binding slot variants of a layout.
type BindingSlotKind uint8

const (
	// SlotConstantBuffer binds one constant buffer directly at a register.
	SlotConstantBuffer BindingSlotKind = iota
	// SlotResourceTable binds a contiguous range of shader-resource
	// descriptors out of the shader-visible heap.
	SlotResourceTable
	// SlotSamplerTable binds a contiguous range of sampler descriptors.
	SlotSamplerTable
)

// BindingSlot describes one entry of a binding layout: either a direct
// constant-buffer binding or a descriptor-table range.
type BindingSlot struct {
	Kind BindingSlotKind

	// Register is the first shader register covered by the slot.
	Register uint32

	// Count is the number of descriptors in a table range. It is 1 for
	// SlotConstantBuffer.
	Count uint32

	// Visibility restricts the slot to the given shader stages.
	Visibility gputypes.ShaderStage
}

// BindingLayout is a materialized binding layout. It is immutable once
// created.
type BindingLayout interface {
	Release()
}

// Pipeline is a compiled graphics pipeline.
type Pipeline interface {
	Release()
}

// TextureDesc describes a texture to create.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	Width  uint32
	Height uint32

	// Layers is the depth for 3D textures or the array layer count
	// otherwise. Zero means 1.
	Layers uint32

	// MipLevels is the mip chain length. Zero means 1.
	MipLevels uint32

	// SampleCount is the multisample count. Zero means 1.
	SampleCount uint32

	Dimension gputypes.TextureDimension
	Format    gputypes.TextureFormat
	Usage     gputypes.TextureUsage

	// InitialState is the state the texture is created in.
	InitialState ResourceState
}

// Texture is a created or captured GPU texture.
type Texture interface {
	// ID identifies the resource to the StateTracker.
	ID() uint64

	Format() gputypes.TextureFormat
	Width() uint32
	Height() uint32

	// Layers is the depth for 3D textures or the array layer count
	// otherwise.
	Layers() uint32

	MipLevels() uint32
	SampleCount() uint32
	Dimension() gputypes.TextureDimension

	// Subresources returns the number of separately tracked subresources,
	// MipLevels times Layers for arrays and MipLevels for 3D textures.
	Subresources() uint32

	Release()
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// Buffer is a created GPU buffer. Buffers with a mappable usage expose their
// memory through Map; writes are unsynchronized with GPU reads.
type Buffer interface {
	Size() uint64
	Map() ([]byte, error)
	Unmap()
	Release()
}

// SamplerDesc describes a sampler to write into a sampler-heap slot.
type SamplerDesc struct {
	Filter      gputypes.FilterMode
	AddressMode gputypes.AddressMode
}

// PipelineDesc describes a graphics pipeline to create. Overlay pipelines
// have no vertex inputs and no depth testing; vertices are synthesized from
// the vertex index.
type PipelineDesc struct {
	Label  string
	Layout BindingLayout

	VertexProgram []byte
	VertexEntry   string
	PixelProgram  []byte
	PixelEntry    string

	Topology     gputypes.PrimitiveTopology
	TargetFormat gputypes.TextureFormat

	// BlendEnabled selects standard alpha blending over opaque output.
	BlendEnabled bool
}

// SwapchainDesc describes a swapchain to create for a window.
type SwapchainDesc struct {
	Width       uint32
	Height      uint32
	BufferCount uint32
	Format      gputypes.TextureFormat
}

// Swapchain owns a window's presentable buffers.
type Swapchain interface {
	// Buffer returns back buffer i. The reference is valid until Release
	// is called on it or the swapchain is resized.
	Buffer(i int) (Texture, error)

	// Resize resizes the buffers in place, preserving buffer count and
	// format. The caller must have flushed all GPU work that references
	// the buffers and released its buffer references.
	Resize(width, height uint32) error

	// Present presents the current back buffer.
	Present() error

	Release()
}

// Window is the native window a swapchain presents into.
type Window interface {
	// ClientSize returns the current client-area size in pixels.
	ClientSize() (width, height uint32)

	// Visible reports whether the window is visible on screen.
	Visible() bool
}

// CommandList records GPU commands. Lists are short-lived: the overlay
// obtains one per operation, records into it, closes it and hands it back to
// the Queue.
type CommandList interface {
	// Barrier records state transitions.
	Barrier(transitions ...Transition)

	// SetRenderTarget binds a color target and an optional depth target.
	SetRenderTarget(color Descriptor, depth *Descriptor)

	// SetViewport sets the full viewport rectangle.
	SetViewport(x, y, width, height float32)

	// SetScissor sets the scissor rectangle.
	SetScissor(x, y, width, height int32)

	// SetPipeline binds a pipeline.
	SetPipeline(p Pipeline)

	// SetBindingLayout binds the layout the following Set* calls index
	// into.
	SetBindingLayout(l BindingLayout)

	// SetDescriptorHeaps binds the shader-visible heaps used by
	// descriptor tables.
	SetDescriptorHeaps(heaps ...DescriptorHeap)

	// SetConstantBuffer binds a buffer range at a direct constant-buffer
	// slot of the current layout.
	SetConstantBuffer(slot uint32, buf Buffer, offset uint64)

	// SetDescriptorTable binds a descriptor-table slot of the current
	// layout to a heap position.
	SetDescriptorTable(slot uint32, d Descriptor)

	// Draw issues a non-indexed instanced draw.
	Draw(vertexCount, instanceCount uint32)

	// ClearRenderTarget clears a color view.
	ClearRenderTarget(d Descriptor, rgba [4]float32)

	// ClearDepthStencil clears a depth-stencil view.
	ClearDepthStencil(d Descriptor, depth float32, stencil uint8)

	// CopyTexture copies the whole of src into dst. The resources must be
	// in CopySource and CopyDest states.
	CopyTexture(dst, src Texture)

	// CopyBufferToTexture copies tightly rowed texel data from a buffer
	// into mip 0 of a texture.
	CopyBufferToTexture(dst Texture, src Buffer, srcOffset uint64, bytesPerRow uint32)

	// Close ends recording. A closed list can only be executed.
	Close() error
}

// Queue is the command-submission machinery. Execute queues closed lists
// without blocking; Flush submits queued work and, with wait, blocks until
// the GPU is idle.
type Queue interface {
	NewCommandList() (CommandList, error)
	Execute(lists ...CommandList)
	Flush(wait bool)
}

// StateTracker reports the current per-subresource states of captured
// resources. It is maintained by the interception engine and consumed
// read-only here.
type StateTracker interface {
	// SubresourceStates returns the state of every subresource of the
	// resource, ordered by subresource index. It returns nil for unknown
	// resources.
	SubresourceStates(resource uint64) []ResourceState
}

// Device creates the resources the overlay needs. The overlay receives the
// device from the host tool and never owns or destroys it.
type Device interface {
	// Queue returns the device's single submission queue.
	Queue() Queue

	CreateDescriptorHeap(kind HeapKind, capacity uint32) (DescriptorHeap, error)
	CreateTexture(desc *TextureDesc) (Texture, error)
	CreateBuffer(desc *BufferDesc) (Buffer, error)
	CreateSwapchain(win Window, desc *SwapchainDesc) (Swapchain, error)

	// SerializeBindingLayout validates and serializes an ordered slot list
	// into the API's binding-layout wire format.
	SerializeBindingLayout(slots []BindingSlot) ([]byte, error)

	// CreateBindingLayout materializes a serialized layout.
	CreateBindingLayout(serialized []byte) (BindingLayout, error)

	CreatePipeline(desc *PipelineDesc) (Pipeline, error)

	// CreateSampler writes a sampler into a sampler-heap slot.
	CreateSampler(desc *SamplerDesc, dst Descriptor) error

	// CreateRenderTargetView writes a render-target view of t into a
	// render-target-heap slot.
	CreateRenderTargetView(t Texture, dst Descriptor) error

	// CreateDepthStencilView writes a depth-stencil view of t into a
	// depth-stencil-heap slot.
	CreateDepthStencilView(t Texture, dst Descriptor) error

	// CreateShaderResourceView writes a full-resource view of t into a
	// shader-visible-heap slot.
	CreateShaderResourceView(t Texture, dst Descriptor) error
}
