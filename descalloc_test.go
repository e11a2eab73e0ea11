package overlay

import (
	"strings"
	"testing"

	"github.com/gogpu/overlay/driver"
	"github.com/gogpu/overlay/driver/drivertest"
)

func TestDescriptorAddress(t *testing.T) {
	m, _ := newTestManager(t)

	d := m.rtvHeap.at(5)
	want := d.Heap.Base() + 5*uint64(d.Heap.Stride())
	if got := d.Address(); got != want {
		t.Fatalf("expected address %#x, got %#x", want, got)
	}
}

func TestDescriptorHeapCapacities(t *testing.T) {
	m, _ := newTestManager(t)

	cases := []struct {
		kind driver.HeapKind
		want uint32
	}{
		{driver.HeapRenderTarget, rtvHeapSize},
		{driver.HeapDepthStencil, dsvHeapSize},
		{driver.HeapShaderVisible, srvHeapSize},
		{driver.HeapSampler, samplerHeapSize},
	}
	for _, tc := range cases {
		h := m.heapFor(tc.kind)
		if got := h.heap.Capacity(); got != tc.want {
			t.Fatalf("expected %s capacity %d, got %d", tc.kind, tc.want, got)
		}
		if got := h.heap.Kind(); got != tc.kind {
			t.Fatalf("expected heap kind %s, got %s", tc.kind, got)
		}
	}
}

func TestAllocDescriptorAdvances(t *testing.T) {
	m, _ := newTestManager(t)

	first := m.allocDescriptor(driver.HeapShaderVisible)
	second := m.allocDescriptor(driver.HeapShaderVisible)
	if second.Index != first.Index+1 {
		t.Fatalf("expected consecutive slots, got %d then %d", first.Index, second.Index)
	}
	m.releaseDescriptor(first)
	third := m.allocDescriptor(driver.HeapShaderVisible)
	if third.Index != second.Index+1 {
		t.Fatalf("expected slot %d after release, got %d", second.Index+1, third.Index)
	}
}

func TestDescriptorHeapExhaustionPanics(t *testing.T) {
	m, _ := newTestManager(t)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic on heap exhaustion")
		}
		msg, ok := r.(string)
		if !ok || !strings.Contains(msg, "descriptor heap exhausted") {
			t.Fatalf("expected an exhaustion panic, got %v", r)
		}
	}()
	m.dsvHeap.at(dsvHeapSize)
}

func TestAllocColorDescriptorSharesWindowIDs(t *testing.T) {
	m, _ := newTestManager(t)

	first := m.OpenWindow(&drivertest.Window{W: 320, H: 240}, false)
	if first != 1 {
		t.Fatalf("expected window id 1, got %d", first)
	}
	d := m.AllocColorDescriptor()
	if d.Index != 2 {
		t.Fatalf("expected the external descriptor at slot 2, got %d", d.Index)
	}
	second := m.OpenWindow(&drivertest.Window{W: 320, H: 240}, false)
	if second != 3 {
		t.Fatalf("expected window id 3 after an external descriptor, got %d", second)
	}
	m.ReleaseColorDescriptor(d)
}
