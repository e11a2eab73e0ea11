package overlay

import (
	"fmt"

	"github.com/gogpu/overlay/driver"
)

// Descriptor heap capacities. Render-target and depth-stencil slots are
// indexed by window id, so their capacities bound the number of windows a
// manager can ever open. The shader-visible and sampler heaps hold the fixed
// slot plan reserved at initialization.
const (
	rtvHeapSize     = 1024
	dsvHeapSize     = 16
	srvHeapSize     = 4096
	samplerHeapSize = 16
)

// descriptorHeap is a bump allocator over one driver heap. Slots are never
// reclaimed; next only grows.
type descriptorHeap struct {
	heap driver.DescriptorHeap
	next uint32
}

func newDescriptorHeap(device driver.Device, kind driver.HeapKind, capacity uint32) (*descriptorHeap, error) {
	heap, err := device.CreateDescriptorHeap(kind, capacity)
	if err != nil {
		return nil, fmt.Errorf("overlay: create %s descriptor heap: %w", kind, err)
	}
	return &descriptorHeap{heap: heap}, nil
}

// alloc reserves the next free slot. Exhaustion is a sizing bug, not a
// runtime condition, and panics with the heap name.
func (h *descriptorHeap) alloc() driver.Descriptor {
	return h.allocRange(1)
}

// allocRange reserves count contiguous slots and returns the first.
func (h *descriptorHeap) allocRange(count uint32) driver.Descriptor {
	if h.next+count > h.heap.Capacity() {
		panic(fmt.Sprintf("overlay: %s descriptor heap exhausted (%d slots)",
			h.heap.Kind(), h.heap.Capacity()))
	}
	d := driver.Descriptor{Heap: h.heap, Index: h.next}
	h.next += count
	return d
}

// at returns the descriptor at a fixed slot without consuming it. The window
// registry addresses render-target and depth-stencil slots by window id.
func (h *descriptorHeap) at(index uint32) driver.Descriptor {
	if index >= h.heap.Capacity() {
		panic(fmt.Sprintf("overlay: %s descriptor heap exhausted (%d slots)",
			h.heap.Kind(), h.heap.Capacity()))
	}
	return driver.Descriptor{Heap: h.heap, Index: index}
}

func (m *Manager) heapFor(kind driver.HeapKind) *descriptorHeap {
	switch kind {
	case driver.HeapRenderTarget:
		return m.rtvHeap
	case driver.HeapDepthStencil:
		return m.dsvHeap
	case driver.HeapShaderVisible:
		return m.srvHeap
	case driver.HeapSampler:
		return m.samplerHeap
	}
	panic(fmt.Sprintf("overlay: unknown heap kind %d", kind))
}

// allocDescriptor reserves the next slot of the heap of the given kind.
func (m *Manager) allocDescriptor(kind driver.HeapKind) driver.Descriptor {
	return m.heapFor(kind).alloc()
}

// releaseDescriptor exists for call-site symmetry with allocDescriptor.
// Slots are not reclaimed; the heaps are sized for the manager's lifetime.
func (m *Manager) releaseDescriptor(driver.Descriptor) {}

// takeWindowID hands out the next window id. Ids start at 1 and are never
// reused; id 0 stays invalid so the zero value never aliases a live window.
func (m *Manager) takeWindowID() uint64 {
	id := m.nextWindowID
	m.nextWindowID++
	return id
}

// AllocColorDescriptor reserves a render-target descriptor for a caller that
// renders outside the window registry. The slot consumes a window id, so
// externally held color descriptors never collide with window render targets.
func (m *Manager) AllocColorDescriptor() driver.Descriptor {
	return m.rtvHeap.at(uint32(m.takeWindowID()))
}

// ReleaseColorDescriptor exists for call-site symmetry with
// AllocColorDescriptor; descriptor slots are not reclaimed.
func (m *Manager) ReleaseColorDescriptor(driver.Descriptor) {}
