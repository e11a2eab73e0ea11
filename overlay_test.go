package overlay

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/driver"
	"github.com/gogpu/overlay/driver/drivertest"
)

// newTestManager builds a Manager over a fresh fake device. The built-in
// programs compile for real, so construction exercises the whole
// initialization path.
func newTestManager(t *testing.T) (*Manager, *drivertest.Device) {
	t.Helper()
	dev := drivertest.New()
	m, err := New(dev, dev, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, dev
}

func countOps(dev *drivertest.Device, kind string) int {
	return len(opsOfKind(dev.ExecutedOps, kind))
}

func opsOfKind(ops []drivertest.Op, kind string) []drivertest.Op {
	var out []drivertest.Op
	for _, op := range ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// bufferContents reads a fake buffer's memory for constant decoding.
func bufferContents(t *testing.T, buf driver.Buffer) []byte {
	t.Helper()
	c, ok := buf.(interface{ Contents() []byte })
	if !ok {
		t.Fatalf("buffer %T exposes no contents", buf)
	}
	return c.Contents()
}

func readF32(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func readI32(b []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(b[off:]))
}

func readVec4(b []byte, off int) [4]float32 {
	return [4]float32{readF32(b, off), readF32(b, off+4), readF32(b, off+8), readF32(b, off+12)}
}

func requireNoViolations(t *testing.T, dev *drivertest.Device) {
	t.Helper()
	if len(dev.Violations) != 0 {
		t.Fatalf("expected no contract violations, got %v", dev.Violations)
	}
}

func TestNewNilDevice(t *testing.T) {
	if _, err := New(nil, nil, Config{}); !errors.Is(err, ErrNilDevice) {
		t.Fatalf("expected ErrNilDevice, got %v", err)
	}
}

func TestNewFixedSlotPlan(t *testing.T) {
	m, dev := newTestManager(t)

	if m.fontSRV.Index != 0 {
		t.Fatalf("expected the font atlas view at slot 0, got %d", m.fontSRV.Index)
	}
	if m.previewTable.Index != 1 {
		t.Fatalf("expected the preview table at slot 1, got %d", m.previewTable.Index)
	}
	if got := dev.SRVs[m.fontSRV.Index]; got != m.font.texture.ID() {
		t.Fatalf("expected resource %d viewed at the font slot, got %d", m.font.texture.ID(), got)
	}

	linear, ok := dev.Samplers[m.samplerTable.Index]
	if !ok || linear.Filter != gputypes.FilterModeLinear {
		t.Fatalf("expected a linear sampler at slot %d, got %+v", m.samplerTable.Index, linear)
	}
	point, ok := dev.Samplers[m.samplerTable.Index+1]
	if !ok || point.Filter != gputypes.FilterModeNearest {
		t.Fatalf("expected a point sampler at slot %d, got %+v", m.samplerTable.Index+1, point)
	}

	requireNoViolations(t, dev)
}

func TestNewCompilesBuiltins(t *testing.T) {
	m, _ := newTestManager(t)

	if got := m.cache.Len(); got != 6 {
		t.Fatalf("expected 6 cached built-in programs, got %d", got)
	}
	for _, format := range textPipelineFormats {
		if m.textPipelines[format] == nil {
			t.Fatalf("expected a text pipeline for format %d", format)
		}
	}
	if m.previewBlend == nil || m.previewOpaque == nil || m.checkerPipeline == nil {
		t.Fatal("expected the preview and checkerboard pipelines built")
	}
}

func TestNewUploadsAtlasBeforeReturning(t *testing.T) {
	m, dev := newTestManager(t)

	if got := countOps(dev, "copy-buffer-to-texture"); got != 1 {
		t.Fatalf("expected 1 atlas upload copy, got %d", got)
	}
	// Construction waits the upload out.
	sawWait := false
	for _, ev := range dev.Events {
		if ev == "flush wait=true" {
			sawWait = true
		}
	}
	if !sawWait {
		t.Fatalf("expected a waiting flush during construction, got %v", dev.Events)
	}

	// The atlas texture holds the copied coverage bitmap afterwards.
	type pixeler interface{ Pixels() []byte }
	p, ok := m.font.texture.(pixeler)
	if !ok {
		t.Fatalf("fake texture %T has no pixel access", m.font.texture)
	}
	if len(p.Pixels()) == 0 {
		t.Fatal("expected the atlas bitmap uploaded")
	}
	requireNoViolations(t, dev)
}

func TestNewDefaultsProfile(t *testing.T) {
	m, _ := newTestManager(t)
	if m.profile != ProfileSPIRV13 {
		t.Fatalf("expected profile %q, got %q", ProfileSPIRV13, m.profile)
	}
}

func TestNewDeviceFailureRollsBack(t *testing.T) {
	cases := []struct {
		name string
		prep func(*drivertest.Device)
		want error
	}{
		{"layouts", func(d *drivertest.Device) { d.FailLayouts = true }, ErrBindingLayout},
		{"pipelines", func(d *drivertest.Device) { d.FailPipelines = true }, nil},
		{"textures", func(d *drivertest.Device) { d.FailTextures = true }, nil},
		{"buffers", func(d *drivertest.Device) { d.FailBuffers = true }, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev := drivertest.New()
			tc.prep(dev)
			m, err := New(dev, dev, Config{})
			if err == nil {
				m.Close()
				t.Fatal("expected construction to fail")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCloseIdempotent(t *testing.T) {
	dev := drivertest.New()
	m, err := New(dev, dev, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.OpenWindow(&drivertest.Window{W: 640, H: 480}, false) == 0 {
		t.Fatal("expected a window id")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(m.windows) != 0 {
		t.Fatalf("expected the window registry emptied, got %d entries", len(m.windows))
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCachePersistsAcrossManagers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.bin")

	dev := drivertest.New()
	m, err := New(dev, dev, Config{CachePath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hits, misses := m.cache.Stats()
	if hits != 0 || misses != 6 {
		t.Fatalf("expected 0 hits and 6 misses on a cold cache, got %d and %d", hits, misses)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected the cache file written: %v", err)
	}

	dev2 := drivertest.New()
	m2, err := New(dev2, dev2, Config{CachePath: path})
	if err != nil {
		t.Fatalf("New with a warm cache: %v", err)
	}
	defer m2.Close()
	hits, misses = m2.cache.Stats()
	if hits != 6 || misses != 0 {
		t.Fatalf("expected 6 hits and 0 misses on a warm cache, got %d and %d", hits, misses)
	}
}
