// Command overlaydemo drives the debug overlay against the in-memory
// reference device and prints the recorded command stream.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay"
	"github.com/gogpu/overlay/driver"
	"github.com/gogpu/overlay/driver/drivertest"
)

func main() {
	var (
		width   = flag.Int("width", 800, "window width")
		height  = flag.Int("height", 600, "window height")
		frames  = flag.Int("frames", 4, "frames to render")
		cache   = flag.String("cache", "", "program cache file")
		verbose = flag.Bool("v", false, "log overlay internals")
	)
	flag.Parse()

	if *verbose {
		overlay.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	dev := drivertest.New()
	m, err := overlay.New(dev, dev, overlay.Config{CachePath: *cache})
	if err != nil {
		log.Fatalf("Failed to create overlay: %v", err)
	}
	defer m.Close()

	win := &drivertest.Window{W: uint32(*width), H: uint32(*height)}
	id := m.OpenWindow(win, true)

	capture := makeCapture(dev)

	for frame := 0; frame < *frames; frame++ {
		// Grow the window halfway through, as a user drag would.
		if frame == *frames/2 && frame > 0 {
			win.SetClientSize(uint32(*width)*2, uint32(*height))
		}
		if m.CheckResize(id) {
			w, h := m.WindowDimensions(id)
			log.Printf("Window resized to %dx%d", w, h)
		}
		renderFrame(m, id, capture, frame)
	}

	printSummary(m, dev, id)
}

// renderFrame records one overlay frame: clears, the checkerboard backdrop,
// a texture preview and a two-line status readout.
func renderFrame(m *overlay.Manager, id uint64, capture driver.Texture, frame int) {
	m.BindWindow(id)
	m.ClearWindowColor(id, [4]float32{0, 0, 0, 1})
	m.ClearWindowDepth(id, 1, 0)
	m.RenderCheckerboard([3]float32{0.8, 0.8, 0.8}, [3]float32{0.5, 0.5, 0.5})

	m.RenderTexture(overlay.TextureDisplay{
		Texture:      capture,
		X:            48,
		Y:            48,
		Scale:        1,
		Red:          true,
		Green:        true,
		Blue:         true,
		GammaDisplay: true,
	})

	w, h := m.WindowDimensions(id)
	m.RenderText(8, 8, "frame %d\n%dx%d", frame, w, h)
	m.Flip(id)
}

// makeCapture creates a render-target texture standing in for a resource
// captured from the instrumented application. Previewing it forces the
// overlay to barrier it to shader-readable and back.
func makeCapture(dev *drivertest.Device) driver.Texture {
	tex, err := dev.CreateTexture(&driver.TextureDesc{
		Label:        "demo-capture",
		Width:        256,
		Height:       256,
		Layers:       1,
		MipLevels:    1,
		SampleCount:  1,
		Dimension:    gputypes.TextureDimension2D,
		Format:       gputypes.TextureFormatRGBA8Unorm,
		Usage:        gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
		InitialState: driver.StateRenderTarget,
	})
	if err != nil {
		log.Fatalf("Failed to create capture texture: %v", err)
	}
	return tex
}

func printSummary(m *overlay.Manager, dev *drivertest.Device, id uint64) {
	counts := make(map[string]int)
	for _, op := range dev.ExecutedOps {
		counts[op.Kind]++
	}

	w, h := m.WindowDimensions(id)
	log.Printf("Window %d finished at %dx%d", id, w, h)
	log.Printf("Recorded %d operations over %d submissions:", len(dev.ExecutedOps), len(dev.Events))
	for _, kind := range []string{"draw", "barrier", "clear-color", "clear-depth", "copy-texture", "set-pipeline"} {
		if counts[kind] > 0 {
			fmt.Printf("  %-16s %d\n", kind, counts[kind])
		}
	}

	if len(dev.Violations) > 0 {
		for _, v := range dev.Violations {
			log.Printf("VIOLATION: %s", v)
		}
		log.Fatalf("Device recorded %d state violations", len(dev.Violations))
	}
	log.Printf("No state violations")
}
